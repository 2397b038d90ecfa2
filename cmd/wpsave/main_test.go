package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wpsave/wpsave/internal/cli"
	"github.com/wpsave/wpsave/internal/config"
	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/pipeline"
	"github.com/wpsave/wpsave/internal/types"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		run  *pipeline.Run
		want int
	}{
		{
			name: "success",
			run:  &pipeline.Run{Outcome: pipeline.OutcomeSuccess},
			want: types.ExitSuccess.Int(),
		},
		{
			name: "timeout",
			run: &pipeline.Run{
				Outcome: pipeline.OutcomeTimeout,
				Err:     &pipeline.StageError{Stage: pipeline.StageArchive, Err: context.DeadlineExceeded, Code: types.ExitTimeout},
			},
			want: types.ExitTimeout.Int(),
		},
		{
			name: "lock contention",
			run:  &pipeline.Run{Outcome: pipeline.OutcomeLockContention},
			want: types.ExitLockContention.Int(),
		},
		{
			name: "dump failure carries extraction code",
			run: &pipeline.Run{
				Outcome: pipeline.OutcomeStageFailure,
				Err:     &pipeline.StageError{Stage: pipeline.StageDump, Err: errors.New("mysqldump exploded"), Code: types.ExitExtractionError},
			},
			want: types.ExitExtractionError.Int(),
		},
		{
			name: "upload failure carries upload code",
			run: &pipeline.Run{
				Outcome: pipeline.OutcomeStageFailure,
				Err:     &pipeline.StageError{Stage: pipeline.StageUpload, Err: errors.New("quota"), Code: types.ExitUploadError},
			},
			want: types.ExitUploadError.Int(),
		},
		{
			name: "interrupted run wins over stage code",
			run: &pipeline.Run{
				Outcome: pipeline.OutcomeStageFailure,
				Err:     &pipeline.StageError{Stage: pipeline.StageDump, Err: context.Canceled, Code: types.ExitExtractionError},
			},
			want: types.ExitInterrupted.Int(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.run); got != tt.want {
				t.Errorf("exitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildMetrics(t *testing.T) {
	cfg := &config.Config{Domain: "example.com"}
	logger := logging.New(types.LogLevelNone, false)

	start := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	run := &pipeline.Run{
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Outcome:   pipeline.OutcomeSuccess,
		Artifact:  &types.ArtifactInfo{Size: 1 << 20},
		Swept:     4,
	}

	m := buildMetrics(cfg, logger, run)
	if m.Domain != "example.com" {
		t.Errorf("Domain = %q", m.Domain)
	}
	if m.Hostname == "" {
		t.Error("Hostname should never be empty")
	}
	if m.Duration != 90*time.Second {
		t.Errorf("Duration = %s", m.Duration)
	}
	if m.ExitCode != 0 {
		t.Errorf("ExitCode = %d", m.ExitCode)
	}
	if m.Outcome != "success" {
		t.Errorf("Outcome = %q", m.Outcome)
	}
	if m.ArchiveSize != 1<<20 {
		t.Errorf("ArchiveSize = %d", m.ArchiveSize)
	}
	if m.SweptItems != 4 {
		t.Errorf("SweptItems = %d", m.SweptItems)
	}
	if m.ErrorCount != 0 || m.WarningCount != 0 {
		t.Errorf("counts = %d/%d, want 0/0", m.ErrorCount, m.WarningCount)
	}
}

func TestBuildMetricsNoArtifact(t *testing.T) {
	cfg := &config.Config{Domain: "example.com"}
	logger := logging.New(types.LogLevelNone, false)
	logger.Warning("something soft")

	run := &pipeline.Run{
		Outcome: pipeline.OutcomeStageFailure,
		Err:     &pipeline.StageError{Stage: pipeline.StageDump, Err: errors.New("boom"), Code: types.ExitExtractionError},
	}

	m := buildMetrics(cfg, logger, run)
	if m.ArchiveSize != 0 {
		t.Errorf("ArchiveSize = %d, want 0", m.ArchiveSize)
	}
	if m.ExitCode != types.ExitExtractionError.Int() {
		t.Errorf("ExitCode = %d", m.ExitCode)
	}
	if m.WarningCount != 1 {
		t.Errorf("WarningCount = %d, want 1", m.WarningCount)
	}
}

func TestSelectedModes(t *testing.T) {
	tests := []struct {
		name string
		args *cli.Args
		want int
	}{
		{"none", &cli.Args{}, 0},
		{"single", &cli.Args{Authorize: true}, 1},
		{"dry run alone", &cli.Args{DryRun: true}, 1},
		{"init plus authorize", &cli.Args{InitConfig: true, Authorize: true}, 2},
		{"test plus dry run", &cli.Args{TestSetup: true, DryRun: true}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectedModes(tt.args); len(got) != tt.want {
				t.Errorf("selectedModes() = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestJoinModes(t *testing.T) {
	got := joinModes([]string{"--init", "--authorize", "--test"})
	want := "--init and --authorize and --test"
	if got != want {
		t.Errorf("joinModes() = %q, want %q", got, want)
	}
}

func TestNewRunLoggerOpensFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Domain: "example.com", LogPath: dir}
	start := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)

	logger, closeLog := newRunLogger(cfg, types.LogLevelNone, start)
	defer closeLog()

	want := dir + "/backup-example.com-20260501-030000.log"
	if got := logger.GetLogFilePath(); got != want {
		t.Errorf("log file = %q, want %q", got, want)
	}
}

func TestResolveHostname(t *testing.T) {
	if resolveHostname() == "" {
		t.Error("resolveHostname() returned empty string")
	}
}
