// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error (missing or invalid file).
	ExitConfigError ExitCode = 2

	// ExitLockContention - Another run holds the lock for this working directory.
	ExitLockContention ExitCode = 3

	// ExitCredentialError - Missing, expired, or revoked remote credential.
	ExitCredentialError ExitCode = 4

	// ExitExtractionError - Error while producing the backup artifact.
	ExitExtractionError ExitCode = 5

	// ExitUploadError - Error while uploading the artifact to the remote provider.
	ExitUploadError ExitCode = 6

	// ExitTimeout - The pipeline deadline elapsed before completion.
	// Reserved so automated alerting can tell "got stuck" from "errored fast".
	ExitTimeout ExitCode = 7

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitInterrupted - Run terminated by SIGINT/SIGTERM.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitLockContention:
		return "lock contention"
	case ExitCredentialError:
		return "credential error"
	case ExitExtractionError:
		return "extraction error"
	case ExitUploadError:
		return "upload error"
	case ExitTimeout:
		return "timeout"
	case ExitPanicError:
		return "panic error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as a plain integer.
func (e ExitCode) Int() int {
	return int(e)
}
