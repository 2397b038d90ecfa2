package logging

import (
	"fmt"
	"time"
)

// DebugStart logs the beginning of a slow external operation (a mysqldump
// run, a Drive request) and returns a closure that logs the outcome with the
// elapsed duration:
//
//	finish := logging.DebugStart(logger, "drive upload", "name=%s", name)
//	err := doUpload()
//	finish(err)
func DebugStart(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}

	if format != "" {
		logger.Debug("Start %s: %s", operation, fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		if err != nil {
			logger.Debug("End %s (error=%v, duration=%s)", operation, err, time.Since(started))
			return
		}
		logger.Debug("End %s (ok, duration=%s)", operation, time.Since(started))
	}
}

// DebugStep logs a progress line within an already-started operation.
func DebugStep(logger *Logger, operation string, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	if operation == "" {
		logger.Debug("%s", message)
		return
	}
	logger.Debug("%s: %s", operation, message)
}
