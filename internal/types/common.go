package types

import "time"

// Environment represents the deployment environment of the WordPress site.
type Environment string

const (
	// EnvDevelopment - Local development installation
	EnvDevelopment Environment = "development"

	// EnvStaging - Staging installation
	EnvStaging Environment = "staging"

	// EnvProduction - Production installation (default)
	EnvProduction Environment = "production"
)

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// Valid reports whether the environment is one of the known values.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// ShareRole represents the access role granted when sharing the remote folder.
type ShareRole string

const (
	// ShareReader - Read-only access
	ShareReader ShareRole = "reader"

	// ShareWriter - Read-write access
	ShareWriter ShareRole = "writer"
)

// String returns the string representation of the share role.
func (r ShareRole) String() string {
	return string(r)
}

// Valid reports whether the role is one of the known values.
func (r ShareRole) Valid() bool {
	return r == ShareReader || r == ShareWriter
}

// ArtifactInfo contains metadata about a produced backup artifact.
type ArtifactInfo struct {
	// Path is the full local path to the artifact file
	Path string

	// Name is the artifact file name (backup_<domain>_<timestamp>.tar.gz[.age])
	Name string

	// Timestamp is when the artifact was created
	Timestamp time.Time

	// Size is the file size in bytes
	Size int64

	// Checksum is the SHA256 checksum of the artifact
	Checksum string

	// Encrypted reports whether the artifact was encrypted with age
	Encrypted bool
}

// RemoteArtifact describes an artifact stored at the remote provider.
type RemoteArtifact struct {
	// ID is the provider-assigned object identifier
	ID string

	// Name is the object name
	Name string

	// Created is the provider-recorded creation time
	Created time.Time

	// Size is the object size in bytes (0 when the provider omits it)
	Size int64
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}
