package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/wpsave/wpsave/internal/cli"
	"github.com/wpsave/wpsave/internal/config"
	"github.com/wpsave/wpsave/internal/credential"
	"github.com/wpsave/wpsave/internal/lock"
	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/metrics"
	"github.com/wpsave/wpsave/internal/notify"
	"github.com/wpsave/wpsave/internal/pipeline"
	"github.com/wpsave/wpsave/internal/remote"
	"github.com/wpsave/wpsave/internal/retention"
	"github.com/wpsave/wpsave/internal/types"
	"github.com/wpsave/wpsave/internal/version"
	"github.com/wpsave/wpsave/internal/wordpress"
)

const lockFileName = "wpsave.lock"

var closeStdinOnce sync.Once

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, stack)
			os.Exit(types.ExitPanicError.Int())
		}
	}()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		bootstrap.Warning("\nReceived signal %v, initiating graceful shutdown...", sig)
		cancel()
		closeStdinOnce.Do(func() {
			if file := os.Stdin; file != nil {
				_ = file.Close()
			}
		})
	}()

	args := cli.Parse()

	if args.ShowVersion {
		cli.ShowVersion()
		return types.ExitSuccess.Int()
	}
	if args.ShowHelp {
		cli.ShowHelp()
		return types.ExitSuccess.Int()
	}

	if modes := selectedModes(args); len(modes) > 1 {
		bootstrap.Error("Cannot combine %s. Choose one mode.", joinModes(modes))
		return types.ExitConfigError.Int()
	}

	// Config template mode needs no existing configuration.
	if args.InitConfig {
		return runInit(args, bootstrap)
	}

	bootstrap.Printf("Loading configuration from: %s (%s)", args.ConfigPath, args.ConfigPathSource)
	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: Failed to load configuration: %v", err)
		return types.ExitConfigError.Int()
	}
	bootstrap.Println("✓ Configuration loaded")

	if args.Authorize {
		return runAuthorize(ctx, cfg, bootstrap)
	}
	if args.TestSetup {
		return runTestSetup(ctx, cfg, bootstrap)
	}

	return runBackup(ctx, args, cfg, bootstrap)
}

func runBackup(ctx context.Context, args *cli.Args, cfg *config.Config, bootstrap *logging.BootstrapLogger) int {
	if err := cfg.Validate(); err != nil {
		bootstrap.Error("ERROR: Invalid configuration: %v", err)
		return types.ExitConfigError.Int()
	}

	dryRun := args.DryRun || cfg.DryRun
	if dryRun {
		if args.DryRun {
			bootstrap.Println("⚠ DRY RUN MODE (enabled via --dry-run flag)")
		} else {
			bootstrap.Println("⚠ DRY RUN MODE (enabled via DRY_RUN config)")
		}
	}

	// Determine log level (CLI overrides config)
	logLevel := cfg.DebugLevel
	if args.LogLevel != types.LogLevelNone {
		logLevel = args.LogLevel
	}

	startTime := time.Now()
	logger, closeLog := newRunLogger(cfg, logLevel, startTime)
	defer closeLog()
	logging.SetDefaultLogger(logger)
	bootstrap.SetLevel(logLevel)
	bootstrap.Flush(logger)

	// Lock first: everything after this point runs exclusively.
	if err := os.MkdirAll(cfg.LockPath, 0o750); err != nil {
		logger.Error("Cannot create lock directory %s: %v", cfg.LockPath, err)
		return types.ExitGenericError.Int()
	}
	manager := lock.NewManager(filepath.Join(cfg.LockPath, lockFileName), 2*cfg.PipelineTimeout(), logger)
	handle, err := manager.Acquire()
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			logger.Error("%v", err)
			run := pipeline.NewContentionRun(err)
			reportRun(cfg, logger, run, dryRun)
			return printFinalSummary(types.ExitLockContention.Int(), logger)
		}
		logger.Error("Failed to acquire lock: %v", err)
		return printFinalSummary(types.ExitGenericError.Int(), logger)
	}
	defer func() {
		if err := handle.Release(); err != nil {
			logger.Warning("Failed to release lock: %v", err)
		}
	}()

	// Credential check before any expensive work.
	store := credential.NewStore(cfg.CredentialsFile, cfg.TokenFile, logger)
	verifyCtx, cancelVerify := context.WithTimeout(ctx, cfg.VerifyTimeout())
	err = store.Verify(verifyCtx)
	cancelVerify()
	if err != nil {
		logger.Error("Credential check failed: %v", err)
		logCredentialGuidance(logger, err)
		return printFinalSummary(types.ExitCredentialError.Int(), logger)
	}
	logger.Success("Remote credential verified")

	httpClient, err := store.Client(ctx)
	if err != nil {
		logger.Error("Cannot build authenticated client: %v", err)
		return printFinalSummary(types.ExitCredentialError.Int(), logger)
	}

	tail := pipeline.NewTailBuffer(pipeline.DefaultTailLines)
	producer := wordpress.NewProducer(cfg, logger, tail)
	if err := producer.Preflight(ctx); err != nil {
		logger.Error("Preflight failed: %v", err)
		return printFinalSummary(types.ExitExtractionError.Int(), logger)
	}

	remoteClient := remote.NewClient(cfg, httpClient, logger)

	var sweeper pipeline.Sweeper
	if cfg.RetentionDays > 0 {
		sweeper = retention.NewSweeper(cfg.RetentionDays, logger,
			retention.NewRemoteTarget(remoteClient),
			retention.NewLogDirTarget(cfg.LogPath),
		)
	} else {
		logger.Skip("Retention sweep disabled (RETENTION_DAYS=0)")
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o700); err != nil {
		logger.Error("Cannot create backup directory %s: %v", cfg.BackupDir, err)
		return printFinalSummary(types.ExitExtractionError.Int(), logger)
	}
	workDir, err := os.MkdirTemp(cfg.BackupDir, ".work-")
	if err != nil {
		logger.Error("Cannot create working directory: %v", err)
		return printFinalSummary(types.ExitExtractionError.Int(), logger)
	}
	defer os.RemoveAll(workDir)

	orch, err := pipeline.New(pipeline.Options{
		Producer: producer,
		Uploader: remoteClient,
		Sweeper:  sweeper,
		Logger:   logger,
		Timeout:  cfg.PipelineTimeout(),
		WorkDir:  workDir,
		Tail:     tail,
		DryRun:   dryRun,
	})
	if err != nil {
		logger.Error("Cannot build pipeline: %v", err)
		return printFinalSummary(types.ExitGenericError.Int(), logger)
	}

	run := orch.Execute(ctx)
	reportRun(cfg, logger, run, dryRun)

	return printFinalSummary(exitCodeFor(run), logger)
}

// reportRun delivers the notification email and the metrics file. Both are
// best effort: a failed report never changes the run's exit code. A fresh
// context is used so reports still go out after a canceled run.
func reportRun(cfg *config.Config, logger *logging.Logger, run *pipeline.Run, dryRun bool) {
	if dryRun {
		logger.Skip("[DRY RUN] Would send notification and export metrics")
		return
	}

	if cfg.EmailEnabled {
		notifier := notify.NewEmailNotifier(cfg, logger)
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := notifier.Send(notifyCtx, run); err != nil {
			logger.Warning("Notification delivery failed: %v", err)
		}
		cancel()
	}

	if cfg.MetricsEnabled {
		exporter := metrics.NewPrometheusExporter(cfg.MetricsPath, logger)
		if err := exporter.Export(buildMetrics(cfg, logger, run)); err != nil {
			logger.Warning("Metrics export failed: %v", err)
		}
	}
}

// exitCodeFor maps a finished run to the process exit code. An interrupted
// run wins over the stage classification; stage failures report the code the
// failing stage carried.
func exitCodeFor(run *pipeline.Run) int {
	if run.Err != nil && errors.Is(run.Err, context.Canceled) {
		return types.ExitInterrupted.Int()
	}
	if run.Outcome == pipeline.OutcomeStageFailure {
		var stageErr *pipeline.StageError
		if errors.As(run.Err, &stageErr) {
			return stageErr.Code.Int()
		}
	}
	return run.Outcome.ExitCode().Int()
}

func buildMetrics(cfg *config.Config, logger *logging.Logger, run *pipeline.Run) *metrics.BackupMetrics {
	m := &metrics.BackupMetrics{
		Domain:     cfg.Domain,
		Hostname:   resolveHostname(),
		Version:    version.String(),
		StartTime:  run.StartTime,
		EndTime:    run.EndTime,
		Duration:   run.Duration(),
		ExitCode:   exitCodeFor(run),
		Outcome:    run.Outcome.String(),
		SweptItems: run.Swept,
	}
	if run.Artifact != nil {
		m.ArchiveSize = run.Artifact.Size
	}
	if logger.HasErrors() {
		m.ErrorCount = 1
	}
	if logger.HasWarnings() {
		m.WarningCount = 1
	}
	return m
}

// logCredentialGuidance tells the operator how to recover from each
// credential failure class.
func logCredentialGuidance(logger *logging.Logger, err error) {
	switch {
	case errors.Is(err, credential.ErrMissing):
		logger.Info("No stored credential found. Run 'wpsave --authorize' to link a Google account.")
	case errors.Is(err, credential.ErrExpired):
		logger.Info("The stored credential expired and cannot be refreshed. Run 'wpsave --authorize' again.")
	case errors.Is(err, credential.ErrRevoked):
		logger.Info("Google rejected the stored credential (revoked or permissions changed). Run 'wpsave --authorize' again.")
	}
}

// newRunLogger builds the run logger with a per-run log file under LOG_PATH.
// When the configured path is missing or unwritable the run falls back to a
// session log under /tmp, so no run goes unlogged.
func newRunLogger(cfg *config.Config, level types.LogLevel, startTime time.Time) (*logging.Logger, func()) {
	logger := logging.New(level, cfg.UseColor)

	if cfg.LogPath == "" {
		logger.Warning("LOG_PATH is empty")
	} else if err := os.MkdirAll(cfg.LogPath, 0o750); err != nil {
		logger.Warning("Failed to create log directory %s: %v", cfg.LogPath, err)
	} else {
		logFileName := fmt.Sprintf("backup-%s-%s.log", cfg.Domain, startTime.Format("20060102-150405"))
		logFilePath := filepath.Join(cfg.LogPath, logFileName)
		if err := logger.OpenLogFile(logFilePath); err != nil {
			logger.Warning("Failed to open log file %s: %v", logFilePath, err)
		} else {
			logger.Info("Log file opened: %s", logFilePath)
			return logger, func() {
				if err := logger.CloseLogFile(); err != nil {
					fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
				}
			}
		}
	}

	if sessionLogger, sessionPath, closeFn, err := logging.StartSessionLogger(cfg.Domain, level, cfg.UseColor); err == nil {
		sessionLogger.Info("Session log: %s", sessionPath)
		return sessionLogger, closeFn
	} else {
		logger.Warning("File logging disabled for this run: %v", err)
	}
	return logger, func() {}
}

func resolveHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}

// selectedModes lists the mutually exclusive CLI modes that were requested.
func selectedModes(args *cli.Args) []string {
	var modes []string
	if args.InitConfig {
		modes = append(modes, "--init")
	}
	if args.Authorize {
		modes = append(modes, "--authorize")
	}
	if args.TestSetup {
		modes = append(modes, "--test")
	}
	if args.DryRun {
		modes = append(modes, "--dry-run")
	}
	return modes
}

func joinModes(modes []string) string {
	out := ""
	for i, mode := range modes {
		if i > 0 {
			out += " and "
		}
		out += mode
	}
	return out
}

// printFinalSummary prints the colored closing banner and passes the exit
// code through.
func printFinalSummary(exitCode int, logger *logging.Logger) int {
	color := ""
	colorReset := ""
	if logger != nil && logger.UsesColor() {
		colorReset = "\033[0m"
		switch {
		case exitCode == types.ExitInterrupted.Int():
			color = "\033[35m"
		case exitCode == 0 && logger.HasWarnings():
			color = "\033[33m"
		case exitCode == 0:
			color = "\033[32m"
		default:
			color = "\033[31m"
		}
	}

	fmt.Println()
	fmt.Printf("%s===========================================\n", color)
	fmt.Printf("  wpsave %s - exit %d (%s)\n", version.String(), exitCode, types.ExitCode(exitCode).String())
	fmt.Printf("===========================================%s\n", colorReset)
	return exitCode
}
