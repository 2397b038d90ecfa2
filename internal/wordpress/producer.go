package wordpress

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/wpsave/wpsave/internal/config"
	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/pkg/utils"
)

// ProducerDeps groups external dependencies used by Producer.
type ProducerDeps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

func defaultProducerDeps() ProducerDeps {
	return ProducerDeps{
		LookPath:       exec.LookPath,
		CommandContext: exec.CommandContext,
	}
}

// Producer creates the backup artifact for a WordPress site: a gzipped
// mysqldump of its database plus a tar.gz of the site tree.
type Producer struct {
	cfg    *config.Config
	logger *logging.Logger
	stderr io.Writer
	deps   ProducerDeps
	now    func() time.Time

	creds *DBCredentials
}

// NewProducer creates a producer. stderr receives the raw stderr of the
// external mysql tools and may be nil.
func NewProducer(cfg *config.Config, logger *logging.Logger, stderr io.Writer) *Producer {
	return &Producer{
		cfg:    cfg,
		logger: logger,
		stderr: stderr,
		deps:   defaultProducerDeps(),
		now:    time.Now,
	}
}

// SetDeps overrides the external dependencies, for tests.
func (p *Producer) SetDeps(deps ProducerDeps) {
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.CommandContext == nil {
		deps.CommandContext = exec.CommandContext
	}
	p.deps = deps
}

func (p *Producer) cmd(ctx context.Context, name string, args ...string) *exec.Cmd {
	return p.deps.CommandContext(ctx, name, args...)
}

func (p *Producer) stderrWriter() io.Writer {
	if p.stderr != nil {
		return p.stderr
	}
	return io.Discard
}

// Preflight verifies the site and database are reachable before any stage
// runs: the WordPress tree exists, credentials resolve, the mysql tools are
// installed, and a short SELECT VERSION() round-trip succeeds. The
// connectivity probe runs under its own bound, separate from the pipeline
// deadline.
func (p *Producer) Preflight(ctx context.Context) error {
	info, err := os.Stat(p.cfg.WPPath)
	if err != nil {
		return fmt.Errorf("wordpress directory %s: %w", p.cfg.WPPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("wordpress path %s is not a directory", p.cfg.WPPath)
	}

	creds, err := ResolveCredentials(p.cfg)
	if err != nil {
		return err
	}
	p.creds = creds
	p.logger.Debug("Database credentials resolved: db=%s user=%s host=%s", creds.Name, creds.User, creds.Host)

	for _, tool := range []string{"mysql", "mysqldump"} {
		path, err := p.deps.LookPath(tool)
		if err != nil {
			return fmt.Errorf("%s not found in PATH (install the mysql client tools): %w", tool, err)
		}
		p.logger.Debug("Found %s at %s", tool, path)
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.VerifyTimeout())
	defer cancel()

	cmd := p.cmd(probeCtx, "mysql",
		"--host="+creds.Host,
		"--user="+creds.User,
		"--execute=SELECT VERSION();",
		creds.Name,
	)
	// Password via environment, never argv
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+creds.Password)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("mysql connection test timed out after %s", p.cfg.VerifyTimeout())
		}
		return fmt.Errorf("mysql connection test failed: %s", utils.MaskSensitive(string(out)))
	}
	p.logger.Debug("MySQL connection test successful")
	return nil
}

// DumpDatabase streams mysqldump through gzip into workDir/database.sql.gz
// and returns its path. The dump runs with --single-transaction so the site
// stays writable while it is taken.
func (p *Producer) DumpDatabase(ctx context.Context, workDir string) (string, error) {
	creds := p.creds
	if creds == nil {
		var err error
		if creds, err = ResolveCredentials(p.cfg); err != nil {
			return "", err
		}
		p.creds = creds
	}

	dumpPath := filepath.Join(workDir, "database.sql.gz")
	outFile, err := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("create dump file: %w", err)
	}

	gzWriter := gzip.NewWriter(outFile)
	dumped := &countingWriter{w: gzWriter}

	cmd := p.cmd(ctx, "mysqldump",
		"--host="+creds.Host,
		"--user="+creds.User,
		"--single-transaction",
		"--routines",
		"--triggers",
		"--lock-tables=false",
		creds.Name,
	)
	cmd.Env = append(os.Environ(),
		"MYSQL_PWD="+creds.Password,
		"TMPDIR="+workDir,
	)
	cmd.Stdout = dumped
	cmd.Stderr = p.stderrWriter()

	p.logger.Debug("Dumping database %s@%s to %s", creds.Name, creds.Host, dumpPath)
	finish := logging.DebugStart(p.logger, "mysqldump", "database=%s", creds.Name)
	runErr := cmd.Run()
	finish(runErr)

	if err := gzWriter.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("finalize gzip stream: %w", err)
	}
	if err := outFile.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close dump file: %w", err)
	}
	if runErr != nil {
		os.Remove(dumpPath)
		return "", fmt.Errorf("mysqldump: %w", runErr)
	}

	if dumped.n == 0 {
		os.Remove(dumpPath)
		return "", fmt.Errorf("database dump is empty")
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		return "", fmt.Errorf("stat dump file: %w", err)
	}
	p.logger.Debug("Database dump completed: %s (%s compressed from %s)",
		dumpPath, utils.FormatBytes(info.Size()), utils.FormatBytes(dumped.n))
	return dumpPath, nil
}

// countingWriter tracks how many bytes pass through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
