package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wpsave/wpsave/pkg/utils"
)

// DefaultConfigTemplate is the annotated backup.env written by --init.
const DefaultConfigTemplate = `# wpsave configuration
# Lines starting with # are comments. Values may reference ${BACKUP_DIR}.

# --- Site ---
WP_DOMAIN="your-domain.com"
WP_PATH="/path/to/wordpress"
# development | staging | production
ENVIRONMENT="production"

# --- Database (leave empty to extract from wp-config.php) ---
DB_NAME=""
DB_USER=""
DB_PASSWORD=""
DB_HOST=""

# --- Paths ---
BACKUP_DIR="/var/backups/wordpress"
LOG_PATH="${BACKUP_DIR}/log"
LOCK_PATH="${BACKUP_DIR}/lock"

# --- Google Drive ---
DRIVE_FOLDER="WordPress Backups"
DRIVE_CREDENTIALS_FILE="/path/to/credentials.json"
# Defaults to token.json next to the credentials file
DRIVE_TOKEN_FILE=""
# Comma-separated list of accounts to share uploads with
SHARE_EMAILS=""
# reader | writer
SHARE_ROLE="writer"
MAKE_PUBLIC="false"

# --- Pipeline ---
PIPELINE_TIMEOUT_MINUTES="60"
VERIFY_TIMEOUT_SECONDS="30"
EXCLUDE_PATTERNS="wp-content/cache,wp-content/uploads/backup"
DRY_RUN="false"

# --- Encryption (optional) ---
ENCRYPT_ARCHIVE="false"
AGE_RECIPIENT=""

# --- Retention (0 disables the sweep) ---
RETENTION_DAYS="7"

# --- Email notifications ---
EMAIL_ENABLED="false"
EMAIL_RECIPIENT=""
EMAIL_FROM="wpsave@localhost"

# --- Metrics ---
METRICS_ENABLED="false"
METRICS_PATH="/var/lib/prometheus/node-exporter"

# --- Logging ---
# standard | advanced, or a numeric level
DEBUG_LEVEL="standard"
USE_COLOR="true"
`

// WriteDefaultConfig writes the annotated template to path. It refuses to
// overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if utils.FileExists(path) {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write configuration template: %w", err)
	}
	return nil
}
