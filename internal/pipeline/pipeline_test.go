package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/types"
)

type fakeProducer struct {
	dumpErr    error
	archiveErr error
	dumpBlocks bool
	archBlocks bool

	dumpCalls    int
	archiveCalls int
}

func (f *fakeProducer) DumpDatabase(ctx context.Context, workDir string) (string, error) {
	f.dumpCalls++
	if f.dumpBlocks {
		<-ctx.Done()
		return "", fmt.Errorf("mysqldump killed: %w", ctx.Err())
	}
	if f.dumpErr != nil {
		return "", f.dumpErr
	}
	return workDir + "/db.sql.gz", nil
}

func (f *fakeProducer) BuildArchive(ctx context.Context, workDir, dumpPath string) (*types.ArtifactInfo, error) {
	f.archiveCalls++
	if f.archBlocks {
		<-ctx.Done()
		return nil, fmt.Errorf("tar interrupted: %w", ctx.Err())
	}
	if f.archiveErr != nil {
		return nil, f.archiveErr
	}
	return &types.ArtifactInfo{
		Path: workDir + "/backup_example_20260501.tar.gz",
		Name: "backup_example_20260501.tar.gz",
		Size: 1024,
	}, nil
}

type fakeUploader struct {
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, artifact *types.ArtifactInfo) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "remote-id-1", nil
}

type fakeSweeper struct {
	removed int
	err     error
	calls   int
}

func (f *fakeSweeper) Sweep(ctx context.Context) (int, error) {
	f.calls++
	return f.removed, f.err
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.New(types.LogLevelNone, false)
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return o
}

func TestExecuteSuccess(t *testing.T) {
	producer := &fakeProducer{}
	uploader := &fakeUploader{}
	sweeper := &fakeSweeper{removed: 3}

	o := newTestOrchestrator(t, Options{Producer: producer, Uploader: uploader, Sweeper: sweeper})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v, want success (err: %v)", run.Outcome, run.Err)
	}
	if run.ID == "" {
		t.Error("run ID should be set")
	}
	if len(run.Stages) != 3 {
		t.Fatalf("Stages = %d, want 3", len(run.Stages))
	}
	wantOrder := []string{StageDump, StageArchive, StageUpload}
	for i, want := range wantOrder {
		if run.Stages[i].Stage != want {
			t.Errorf("stage[%d] = %s, want %s", i, run.Stages[i].Stage, want)
		}
		if run.Stages[i].Err != nil {
			t.Errorf("stage[%d] unexpected error: %v", i, run.Stages[i].Err)
		}
	}
	if run.Artifact == nil || run.RemoteID != "remote-id-1" {
		t.Errorf("artifact/remote not recorded: %+v %q", run.Artifact, run.RemoteID)
	}
	if sweeper.calls != 1 || run.Swept != 3 {
		t.Errorf("sweeper calls = %d, swept = %d", sweeper.calls, run.Swept)
	}
	if run.EndTime.Before(run.StartTime) {
		t.Error("EndTime before StartTime")
	}
}

func TestExecuteDumpFailureStopsPipeline(t *testing.T) {
	producer := &fakeProducer{dumpErr: errors.New("mysqldump: access denied")}
	uploader := &fakeUploader{}
	sweeper := &fakeSweeper{}

	o := newTestOrchestrator(t, Options{Producer: producer, Uploader: uploader, Sweeper: sweeper})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeStageFailure {
		t.Fatalf("Outcome = %v, want stage-failure", run.Outcome)
	}
	if len(run.Stages) != 1 || run.Stages[0].Stage != StageDump {
		t.Fatalf("Stages = %+v, want only the dump stage", run.Stages)
	}
	if producer.archiveCalls != 0 || uploader.calls != 0 {
		t.Error("later stages must not run after a failure")
	}
	if sweeper.calls != 0 {
		t.Error("sweep must not run after a failure")
	}

	var stageErr *StageError
	if !errors.As(run.Err, &stageErr) {
		t.Fatalf("run.Err = %T, want *StageError", run.Err)
	}
	if stageErr.Stage != StageDump || stageErr.Code != types.ExitExtractionError {
		t.Errorf("StageError = %+v", stageErr)
	}
}

func TestExecuteArchiveFailure(t *testing.T) {
	producer := &fakeProducer{archiveErr: errors.New("tar: disk full")}
	uploader := &fakeUploader{}

	o := newTestOrchestrator(t, Options{Producer: producer, Uploader: uploader})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeStageFailure {
		t.Fatalf("Outcome = %v", run.Outcome)
	}
	if len(run.Stages) != 2 {
		t.Fatalf("Stages = %d, want dump+archive", len(run.Stages))
	}
	if uploader.calls != 0 {
		t.Error("upload must not run after archive failure")
	}
}

func TestExecuteUploadFailureCode(t *testing.T) {
	producer := &fakeProducer{}
	uploader := &fakeUploader{err: errors.New("quota exceeded")}
	sweeper := &fakeSweeper{}

	o := newTestOrchestrator(t, Options{Producer: producer, Uploader: uploader, Sweeper: sweeper})
	run := o.Execute(context.Background())

	var stageErr *StageError
	if !errors.As(run.Err, &stageErr) {
		t.Fatalf("run.Err = %T", run.Err)
	}
	if stageErr.Stage != StageUpload || stageErr.Code != types.ExitUploadError {
		t.Errorf("StageError = %+v", stageErr)
	}
	if sweeper.calls != 0 {
		t.Error("sweep must not run after upload failure")
	}
}

func TestExecuteTimeoutDuringArchive(t *testing.T) {
	producer := &fakeProducer{archBlocks: true}
	uploader := &fakeUploader{}

	o := newTestOrchestrator(t, Options{
		Producer: producer,
		Uploader: uploader,
		Timeout:  50 * time.Millisecond,
	})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %v, want timeout", run.Outcome)
	}
	if len(run.Stages) != 2 {
		t.Fatalf("Stages = %d, want dump and the aborted archive", len(run.Stages))
	}
	if run.Stages[1].Err == nil {
		t.Error("aborted archive stage should record its error")
	}
	if uploader.calls != 0 {
		t.Error("upload must not run after a timeout")
	}

	var stageErr *StageError
	if !errors.As(run.Err, &stageErr) {
		t.Fatalf("run.Err = %T", run.Err)
	}
	if stageErr.Code != types.ExitTimeout {
		t.Errorf("timeout exit code = %v, want ExitTimeout", stageErr.Code)
	}
	if !errors.Is(run.Err, context.DeadlineExceeded) {
		t.Error("timeout error should unwrap to context.DeadlineExceeded")
	}
}

func TestExecuteInterruptDuringDump(t *testing.T) {
	producer := &fakeProducer{dumpBlocks: true}
	uploader := &fakeUploader{}

	o := newTestOrchestrator(t, Options{
		Producer: producer,
		Uploader: uploader,
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	run := o.Execute(ctx)

	if run.Outcome != OutcomeStageFailure {
		t.Fatalf("Outcome = %v, want stage failure", run.Outcome)
	}
	if uploader.calls != 0 {
		t.Error("upload must not run after an interrupt")
	}

	var stageErr *StageError
	if !errors.As(run.Err, &stageErr) {
		t.Fatalf("run.Err = %T", run.Err)
	}
	if stageErr.Stage != StageDump {
		t.Errorf("failing stage = %v, want dump", stageErr.Stage)
	}
	if stageErr.Code != types.ExitInterrupted {
		t.Errorf("interrupt exit code = %v, want ExitInterrupted", stageErr.Code)
	}
	if !errors.Is(run.Err, context.Canceled) {
		t.Error("interrupt error should unwrap to context.Canceled")
	}
}

func TestExecuteSweepErrorDoesNotFailRun(t *testing.T) {
	producer := &fakeProducer{}
	uploader := &fakeUploader{}
	sweeper := &fakeSweeper{err: errors.New("remote list failed")}

	o := newTestOrchestrator(t, Options{Producer: producer, Uploader: uploader, Sweeper: sweeper})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeSuccess {
		t.Fatalf("sweep errors must not change the outcome, got %v", run.Outcome)
	}
}

func TestExecuteDryRunSkipsUploadAndSweep(t *testing.T) {
	producer := &fakeProducer{}
	uploader := &fakeUploader{}
	sweeper := &fakeSweeper{}

	o := newTestOrchestrator(t, Options{
		Producer: producer,
		Uploader: uploader,
		Sweeper:  sweeper,
		DryRun:   true,
	})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v", run.Outcome)
	}
	if uploader.calls != 0 {
		t.Error("dry run must not upload")
	}
	if sweeper.calls != 0 {
		t.Error("dry run must not sweep")
	}
	// All three stages still appear in the history
	if len(run.Stages) != 3 {
		t.Errorf("Stages = %d, want 3", len(run.Stages))
	}
}

func TestExecuteAttachesTailOnFailure(t *testing.T) {
	tail := NewTailBuffer(5)
	tail.Append("mysqldump: Got error: 1045")
	tail.Append("mysqldump: Access denied for user")

	producer := &fakeProducer{dumpErr: errors.New("exit status 2")}
	o := newTestOrchestrator(t, Options{
		Producer: producer,
		Uploader: &fakeUploader{},
		Tail:     tail,
	})
	run := o.Execute(context.Background())

	if len(run.Tail) != 2 {
		t.Fatalf("Tail = %v, want the 2 buffered lines", run.Tail)
	}
}

func TestExecuteNoTailOnSuccess(t *testing.T) {
	tail := NewTailBuffer(5)
	tail.Append("some noise")

	o := newTestOrchestrator(t, Options{
		Producer: &fakeProducer{},
		Uploader: &fakeUploader{},
		Tail:     tail,
	})
	run := o.Execute(context.Background())

	if run.Outcome != OutcomeSuccess || len(run.Tail) != 0 {
		t.Fatalf("successful runs carry no tail, got %v", run.Tail)
	}
}

func TestNewValidation(t *testing.T) {
	logger := logging.New(types.LogLevelNone, false)
	tests := []struct {
		name string
		opts Options
	}{
		{"missing producer", Options{Uploader: &fakeUploader{}, Logger: logger, Timeout: time.Minute}},
		{"missing uploader", Options{Producer: &fakeProducer{}, Logger: logger, Timeout: time.Minute}},
		{"missing logger", Options{Producer: &fakeProducer{}, Uploader: &fakeUploader{}, Timeout: time.Minute}},
		{"zero timeout", Options{Producer: &fakeProducer{}, Uploader: &fakeUploader{}, Logger: logger}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}
}

func TestNewContentionRun(t *testing.T) {
	cause := errors.New("another backup is already running")
	run := NewContentionRun(cause)

	if run.Outcome != OutcomeLockContention {
		t.Errorf("Outcome = %v", run.Outcome)
	}
	if run.Outcome.ExitCode() != types.ExitLockContention {
		t.Errorf("ExitCode = %v", run.Outcome.ExitCode())
	}
	if !errors.Is(run.Err, cause) {
		t.Error("cause should be preserved")
	}
	if len(run.Stages) != 0 {
		t.Error("contention run executes no stages")
	}
}

func TestOutcomeStringsAndCodes(t *testing.T) {
	tests := []struct {
		outcome Outcome
		str     string
		code    types.ExitCode
	}{
		{OutcomeSuccess, "success", types.ExitSuccess},
		{OutcomeStageFailure, "stage-failure", types.ExitGenericError},
		{OutcomeTimeout, "timeout", types.ExitTimeout},
		{OutcomeLockContention, "lock-contention", types.ExitLockContention},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.str {
			t.Errorf("%v.String() = %q, want %q", tt.outcome, got, tt.str)
		}
		if got := tt.outcome.ExitCode(); got != tt.code {
			t.Errorf("%v.ExitCode() = %v, want %v", tt.outcome, got, tt.code)
		}
	}
}
