package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/wpsave/wpsave/internal/config"
	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/pipeline"
	"github.com/wpsave/wpsave/pkg/utils"
)

// sendmailBinaryPath is the MTA binary used for delivery.
var sendmailBinaryPath = "/usr/sbin/sendmail"

// NotifierDeps groups external dependencies used by EmailNotifier.
type NotifierDeps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

func defaultNotifierDeps() NotifierDeps {
	return NotifierDeps{
		LookPath:       exec.LookPath,
		CommandContext: exec.CommandContext,
	}
}

// EmailNotifier sends the completion email for a backup run through the
// local sendmail binary. Delivery failures are reported to the caller, who
// treats them as non-fatal.
type EmailNotifier struct {
	domain    string
	recipient string
	from      string
	logger    *logging.Logger
	deps      NotifierDeps
}

// NewEmailNotifier creates a notifier from the email configuration.
func NewEmailNotifier(cfg *config.Config, logger *logging.Logger) *EmailNotifier {
	return &EmailNotifier{
		domain:    cfg.Domain,
		recipient: cfg.EmailRecipient,
		from:      cfg.EmailFrom,
		logger:    logger,
		deps:      defaultNotifierDeps(),
	}
}

// SetDeps overrides the external dependencies, for tests.
func (e *EmailNotifier) SetDeps(deps NotifierDeps) {
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.CommandContext == nil {
		deps.CommandContext = exec.CommandContext
	}
	e.deps = deps
}

// Send delivers the completion email for the run.
func (e *EmailNotifier) Send(ctx context.Context, run *pipeline.Run) error {
	if e.recipient == "" {
		return fmt.Errorf("no email recipient configured")
	}

	sendmailPath := sendmailBinaryPath
	if _, err := e.deps.LookPath(sendmailPath); err != nil {
		return fmt.Errorf("sendmail not found at %s (install a local MTA such as postfix): %w", sendmailPath, err)
	}

	message := e.buildMessage(run)

	cmd := e.deps.CommandContext(ctx, sendmailPath, "-t", "-i")
	cmd.Stdin = strings.NewReader(message)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("Sending completion email to %s via %s", utils.MaskSensitive(e.recipient), sendmailPath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sendmail failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		e.logger.Debug("Sendmail output: %s", out)
	}

	e.logger.Info("Completion email sent to %s", utils.MaskSensitive(e.recipient))
	return nil
}

// buildMessage renders the plain-text message for the run.
func (e *EmailNotifier) buildMessage(run *pipeline.Run) string {
	var b strings.Builder

	subject := fmt.Sprintf("[wpsave] %s backup %s", e.domain, run.Outcome)
	if run.Outcome != pipeline.OutcomeSuccess {
		subject = fmt.Sprintf("[wpsave] %s backup FAILED (%s)", e.domain, run.Outcome)
	}

	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", e.recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Backup run %s for %s\r\n", run.ID, e.domain)
	fmt.Fprintf(&b, "Outcome:  %s\r\n", run.Outcome)
	fmt.Fprintf(&b, "Started:  %s\r\n", run.StartTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Duration: %s\r\n", run.Duration().Round(time.Second))

	if len(run.Stages) > 0 {
		b.WriteString("\r\nStages:\r\n")
		for _, stage := range run.Stages {
			status := "ok"
			if stage.Err != nil {
				status = stage.Err.Error()
			}
			fmt.Fprintf(&b, "  %-8s %-10s %s\r\n", stage.Stage, stage.Duration().Round(time.Second), status)
		}
	}

	if run.Artifact != nil {
		fmt.Fprintf(&b, "\r\nArtifact: %s (%s)\r\n", run.Artifact.Name, utils.FormatBytes(run.Artifact.Size))
		if run.Artifact.Checksum != "" {
			fmt.Fprintf(&b, "SHA256:   %s\r\n", run.Artifact.Checksum)
		}
	}
	if run.RemoteID != "" {
		fmt.Fprintf(&b, "Remote:   %s\r\n", run.RemoteID)
	}
	if run.Swept > 0 {
		fmt.Fprintf(&b, "Swept:    %d expired items removed\r\n", run.Swept)
	}

	if run.Err != nil {
		fmt.Fprintf(&b, "\r\nError: %v\r\n", run.Err)
	}
	if len(run.Tail) > 0 {
		b.WriteString("\r\nLast diagnostic output:\r\n")
		for _, line := range run.Tail {
			fmt.Fprintf(&b, "  %s\r\n", line)
		}
	}

	return b.String()
}
