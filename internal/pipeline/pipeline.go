package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/types"
)

// Stage names in execution order.
const (
	StageDump    = "dump"
	StageArchive = "archive"
	StageUpload  = "upload"
)

// StageError represents a pipeline error with the stage that produced it and
// the exit code the process should report.
type StageError struct {
	Stage string
	Err   error
	Code  types.ExitCode
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome classifies how a pipeline run ended.
type Outcome int

const (
	// OutcomeSuccess: every stage completed inside the deadline.
	OutcomeSuccess Outcome = iota

	// OutcomeStageFailure: a stage returned an error of its own.
	OutcomeStageFailure

	// OutcomeTimeout: the wall-clock budget elapsed while a stage was running.
	OutcomeTimeout

	// OutcomeLockContention: the run never started because another one holds
	// the lock.
	OutcomeLockContention
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeStageFailure:
		return "stage-failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeLockContention:
		return "lock-contention"
	default:
		return "unknown"
	}
}

// ExitCode maps the outcome to the process exit code. Stage failures carry
// their own code inside the StageError.
func (o Outcome) ExitCode() types.ExitCode {
	switch o {
	case OutcomeSuccess:
		return types.ExitSuccess
	case OutcomeTimeout:
		return types.ExitTimeout
	case OutcomeLockContention:
		return types.ExitLockContention
	default:
		return types.ExitGenericError
	}
}

// StageResult records the execution of a single stage. Results are append
// only: once recorded they are never rewritten by later stages.
type StageResult struct {
	Stage    string
	Started  time.Time
	Finished time.Time
	Err      error
}

// Duration returns the wall-clock time the stage took.
func (r StageResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Run is the full record of one pipeline execution.
type Run struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Outcome   Outcome
	Stages    []StageResult
	Artifact  *types.ArtifactInfo
	RemoteID  string
	Swept     int
	Err       error
	Tail      []string
}

// Duration returns the total wall-clock time of the run.
func (r *Run) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// NewContentionRun builds the run record for an execution that never started
// because the lock was held.
func NewContentionRun(err error) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.NewString(),
		StartTime: now,
		EndTime:   now,
		Outcome:   OutcomeLockContention,
		Err:       err,
	}
}

// Producer turns the live site into a local backup artifact.
type Producer interface {
	// DumpDatabase writes the database dump into workDir and returns its path.
	DumpDatabase(ctx context.Context, workDir string) (string, error)

	// BuildArchive bundles the dump and the site files into a single artifact.
	BuildArchive(ctx context.Context, workDir, dumpPath string) (*types.ArtifactInfo, error)
}

// Uploader pushes a finished artifact to remote storage.
type Uploader interface {
	Upload(ctx context.Context, artifact *types.ArtifactInfo) (remoteID string, err error)
}

// Sweeper removes items older than the retention horizon.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

// Options configures an Orchestrator.
type Options struct {
	Producer Producer
	Uploader Uploader
	Sweeper  Sweeper // optional; skipped when nil
	Logger   *logging.Logger
	Timeout  time.Duration
	WorkDir  string
	Tail     *TailBuffer // optional; diagnostic tail attached to failed runs
	DryRun   bool
}

// Orchestrator drives the dump, archive and upload stages under a single
// wall-clock deadline.
type Orchestrator struct {
	producer Producer
	uploader Uploader
	sweeper  Sweeper
	logger   *logging.Logger
	timeout  time.Duration
	workDir  string
	tail     *TailBuffer
	dryRun   bool
	now      func() time.Time
}

// New creates an Orchestrator from the given options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Producer == nil {
		return nil, errors.New("pipeline: producer is required")
	}
	if opts.Uploader == nil {
		return nil, errors.New("pipeline: uploader is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("pipeline: logger is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("pipeline: timeout must be positive, got %s", opts.Timeout)
	}
	return &Orchestrator{
		producer: opts.Producer,
		uploader: opts.Uploader,
		sweeper:  opts.Sweeper,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		workDir:  opts.WorkDir,
		tail:     opts.Tail,
		dryRun:   opts.DryRun,
		now:      time.Now,
	}, nil
}

// Execute runs the full pipeline. The returned Run always carries the stage
// history up to the point of failure; the first stage error aborts the rest.
// The retention sweep runs only after a fully successful upload and never
// fails the run.
func (o *Orchestrator) Execute(ctx context.Context) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		StartTime: o.now(),
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	o.logger.Info("Starting backup run %s (budget %s)", run.ID, o.timeout)

	var dumpPath string

	ok := o.runStage(ctx, run, StageDump, types.ExitExtractionError, func(ctx context.Context) error {
		path, err := o.producer.DumpDatabase(ctx, o.workDir)
		if err != nil {
			return err
		}
		dumpPath = path
		return nil
	})
	if ok {
		ok = o.runStage(ctx, run, StageArchive, types.ExitExtractionError, func(ctx context.Context) error {
			artifact, err := o.producer.BuildArchive(ctx, o.workDir, dumpPath)
			if err != nil {
				return err
			}
			run.Artifact = artifact
			return nil
		})
	}
	if ok {
		ok = o.runStage(ctx, run, StageUpload, types.ExitUploadError, func(ctx context.Context) error {
			if o.dryRun {
				o.logger.Skip("[DRY RUN] Would upload %s", run.Artifact.Name)
				return nil
			}
			remoteID, err := o.uploader.Upload(ctx, run.Artifact)
			if err != nil {
				return err
			}
			run.RemoteID = remoteID
			return nil
		})
	}

	if ok {
		run.Outcome = OutcomeSuccess
		o.sweep(ctx, run)
	}

	run.EndTime = o.now()
	o.finishLog(run)
	return run
}

// runStage executes one stage, records its result, and classifies failures.
// Returns false when the pipeline must stop.
func (o *Orchestrator) runStage(ctx context.Context, run *Run, stage string, failCode types.ExitCode, fn func(context.Context) error) bool {
	result := StageResult{Stage: stage, Started: o.now()}
	o.logger.Stage("Running %s stage", stage)

	err := fn(ctx)
	result.Finished = o.now()
	result.Err = err
	run.Stages = append(run.Stages, result)

	if err == nil {
		o.logger.Debug("Stage %s completed in %s", stage, result.Duration().Round(time.Millisecond))
		return true
	}

	// A deadline hit or an interrupt mid-stage surfaces as the stage's own
	// error (a killed child reports "signal: killed"); the context verdict
	// wins over whatever the stage reported.
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		run.Outcome = OutcomeTimeout
		run.Err = &StageError{Stage: stage, Err: context.DeadlineExceeded, Code: types.ExitTimeout}
		o.logger.Error("Backup budget exhausted during %s stage", stage)
	case ctx.Err() == context.Canceled:
		run.Outcome = OutcomeStageFailure
		run.Err = &StageError{Stage: stage, Err: context.Canceled, Code: types.ExitInterrupted}
		o.logger.Error("Backup interrupted during %s stage", stage)
	default:
		run.Outcome = OutcomeStageFailure
		run.Err = &StageError{Stage: stage, Err: err, Code: failCode}
		o.logger.Error("Stage %s failed: %v", stage, err)
	}

	if o.tail != nil {
		run.Tail = o.tail.Lines()
	}
	return false
}

// sweep applies retention after a successful run. Sweep problems degrade to a
// warning: the backup itself already succeeded.
func (o *Orchestrator) sweep(ctx context.Context, run *Run) {
	if o.sweeper == nil {
		return
	}
	if o.dryRun {
		o.logger.Skip("[DRY RUN] Would apply retention sweep")
		return
	}
	removed, err := o.sweeper.Sweep(ctx)
	run.Swept = removed
	if err != nil {
		o.logger.Warning("Retention sweep incomplete: %v", err)
		return
	}
	if removed > 0 {
		o.logger.Info("Retention sweep removed %d item(s)", removed)
	}
}

func (o *Orchestrator) finishLog(run *Run) {
	switch run.Outcome {
	case OutcomeSuccess:
		o.logger.Success("Backup run %s completed in %s", run.ID, run.Duration().Round(time.Second))
	case OutcomeTimeout:
		o.logger.Error("Backup run %s timed out after %s", run.ID, run.Duration().Round(time.Second))
	default:
		o.logger.Error("Backup run %s failed: %v", run.ID, run.Err)
	}
}
