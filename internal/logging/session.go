package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wpsave/wpsave/internal/types"
)

const sessionLogDir = "/tmp/wpsave"

// StartSessionLogger creates a new logger instance that writes to a real-time
// log file under /tmp/wpsave. Used when the configured log path is not
// writable yet (or not configured at all), so no run goes unlogged. The
// caller receives the configured logger, the absolute log path, and a cleanup
// function that must be invoked when the session completes.
func StartSessionLogger(domain string, level types.LogLevel, useColor bool) (*Logger, string, func(), error) {
	domain = sanitizeLogName(domain)
	if err := os.MkdirAll(sessionLogDir, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("create session log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	logName := fmt.Sprintf("backup-%s-%s.log", domain, timestamp)
	logPath := filepath.Join(sessionLogDir, logName)

	logger := New(level, useColor)
	if err := logger.OpenLogFile(logPath); err != nil {
		return nil, "", nil, err
	}

	cleanup := func() {
		_ = logger.CloseLogFile()
	}

	return logger, logPath, cleanup, nil
}

func sanitizeLogName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "site"
	}
	replacer := func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}
	sanitized := strings.Map(replacer, name)
	sanitized = strings.Trim(sanitized, "-")
	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	if sanitized == "" {
		sanitized = "site"
	}
	return sanitized
}
