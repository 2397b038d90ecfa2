package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wpsave/wpsave/internal/types"
	"github.com/wpsave/wpsave/pkg/utils"
)

var (
	multiValueKeys = map[string]bool{
		"EXCLUDE_PATTERNS": true,
		"SHARE_EMAILS":     true,
		"AGE_RECIPIENT":    true,
	}

	blockValueKeys = map[string]bool{
		"EXCLUDE_PATTERNS": true,
	}
)

// Config holds the whole backup engine configuration.
type Config struct {
	// Site settings
	Domain      string
	WPPath      string
	Environment types.Environment

	// Database overrides (empty = extract from wp-config.php)
	DBName     string
	DBUser     string
	DBPassword string
	DBHost     string

	// Paths
	BackupDir  string
	LogPath    string
	LockPath   string
	ConfigPath string

	// Drive settings
	DriveFolder     string
	CredentialsFile string
	TokenFile       string
	ShareEmails     []string
	ShareRole       types.ShareRole
	MakePublic      bool

	// Pipeline settings
	PipelineTimeoutMinutes int
	VerifyTimeoutSeconds   int
	ExcludePatterns        []string
	DryRun                 bool

	// Encryption
	EncryptArchive bool
	AgeRecipients  []string

	// Retention (days; 0 disables the sweep)
	RetentionDays int

	// Email notifications
	EmailEnabled   bool
	EmailRecipient string
	EmailFrom      string

	// Metrics
	MetricsEnabled bool
	MetricsPath    string

	// Logging
	DebugLevel types.LogLevel
	UseColor   bool

	// raw configuration map
	raw map[string]string
}

// LoadConfig reads the backup.env configuration file.
func LoadConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	rawValues, err := parseEnvFile(configPath)
	if err != nil {
		return nil, err
	}

	migrateLegacyKeys(rawValues)

	cfg := &Config{
		ConfigPath: configPath,
		raw:        rawValues,
	}

	// Override with environment variables (env vars take precedence over file)
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides checks for environment variables and overrides config file values.
// This allows environment variables to take precedence over file configuration.
func (c *Config) loadEnvOverrides() {
	envKeys := []string{
		"WP_DOMAIN", "WP_PATH", "ENVIRONMENT",
		"DB_NAME", "DB_USER", "DB_PASSWORD", "DB_HOST",
		"BACKUP_DIR", "LOG_PATH", "LOCK_PATH",
		"DRIVE_FOLDER", "DRIVE_CREDENTIALS_FILE", "DRIVE_TOKEN_FILE",
		"SHARE_EMAILS", "SHARE_ROLE", "MAKE_PUBLIC",
		"PIPELINE_TIMEOUT_MINUTES", "VERIFY_TIMEOUT_SECONDS",
		"EXCLUDE_PATTERNS", "DRY_RUN",
		"ENCRYPT_ARCHIVE", "AGE_RECIPIENT",
		"RETENTION_DAYS",
		"EMAIL_ENABLED", "EMAIL_RECIPIENT", "EMAIL_FROM",
		"METRICS_ENABLED", "METRICS_PATH",
		"DEBUG_LEVEL", "USE_COLOR",
	}

	for _, key := range envKeys {
		if envValue := os.Getenv(key); envValue != "" {
			c.raw[key] = envValue
		}
	}
}

// parse interprets the raw configuration values.
func (c *Config) parse() error {
	c.Domain = strings.TrimSpace(c.getString("WP_DOMAIN", ""))
	c.WPPath = strings.TrimSpace(c.getString("WP_PATH", ""))

	env := strings.ToLower(strings.TrimSpace(c.getString("ENVIRONMENT", "production")))
	c.Environment = types.Environment(env)
	if !c.Environment.Valid() {
		return fmt.Errorf("invalid ENVIRONMENT %q (expected development, staging or production)", env)
	}

	c.DBName = strings.TrimSpace(c.getString("DB_NAME", ""))
	c.DBUser = strings.TrimSpace(c.getString("DB_USER", ""))
	c.DBPassword = c.getString("DB_PASSWORD", "")
	c.DBHost = strings.TrimSpace(c.getString("DB_HOST", ""))

	c.BackupDir = c.getString("BACKUP_DIR", "/var/backups/wordpress")
	c.LogPath = c.getString("LOG_PATH", filepath.Join(c.BackupDir, "log"))
	c.LockPath = c.getString("LOCK_PATH", filepath.Join(c.BackupDir, "lock"))

	c.DriveFolder = strings.TrimSpace(c.getString("DRIVE_FOLDER", "WordPress Backups"))
	c.CredentialsFile = strings.TrimSpace(c.getString("DRIVE_CREDENTIALS_FILE", ""))
	c.TokenFile = strings.TrimSpace(c.getString("DRIVE_TOKEN_FILE", ""))
	if c.TokenFile == "" && c.CredentialsFile != "" {
		c.TokenFile = filepath.Join(filepath.Dir(c.CredentialsFile), "token.json")
	}

	c.ShareEmails = normalizeList(c.getStringSlice("SHARE_EMAILS", nil))
	role := strings.ToLower(strings.TrimSpace(c.getString("SHARE_ROLE", "writer")))
	c.ShareRole = types.ShareRole(role)
	if !c.ShareRole.Valid() {
		return fmt.Errorf("invalid SHARE_ROLE %q (expected reader or writer)", role)
	}
	c.MakePublic = c.getBool("MAKE_PUBLIC", false)

	c.PipelineTimeoutMinutes = c.ensurePositiveInt("PIPELINE_TIMEOUT_MINUTES", 60)
	c.VerifyTimeoutSeconds = c.ensurePositiveInt("VERIFY_TIMEOUT_SECONDS", 30)

	if patterns := c.getStringSlice("EXCLUDE_PATTERNS", nil); patterns != nil {
		c.ExcludePatterns = normalizeList(patterns)
	} else {
		c.ExcludePatterns = []string{}
	}
	c.DryRun = c.getBool("DRY_RUN", false)

	c.EncryptArchive = c.getBool("ENCRYPT_ARCHIVE", false)
	c.AgeRecipients = normalizeList(c.getStringSlice("AGE_RECIPIENT", nil))

	c.RetentionDays = c.getInt("RETENTION_DAYS", 7)
	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must be zero or positive, got %d", c.RetentionDays)
	}

	c.EmailEnabled = c.getBool("EMAIL_ENABLED", false)
	c.EmailRecipient = strings.TrimSpace(c.getString("EMAIL_RECIPIENT", ""))
	c.EmailFrom = strings.TrimSpace(c.getString("EMAIL_FROM", "wpsave@localhost"))

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = strings.TrimSpace(c.getString("METRICS_PATH", "/var/lib/prometheus/node-exporter"))

	// DEBUG_LEVEL: accepts numeric or string ("standard", "advanced")
	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)
	c.UseColor = c.getBool("USE_COLOR", true)

	return nil
}

// placeholderFragments are substrings that mark a value as unedited template
// text rather than real configuration.
var placeholderFragments = []string{
	"your-domain", "your_domain", "yourdomain",
	"example.com", "example.org",
	"changeme", "change-me", "change_me",
	"path/to", "/path/",
	"<", ">",
}

func isPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is complete enough to run a backup.
// Placeholder values left over from the template are rejected the same as
// missing ones, so a copied-but-unedited config fails fast.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"WP_DOMAIN", c.Domain},
		{"WP_PATH", c.WPPath},
		{"BACKUP_DIR", c.BackupDir},
		{"DRIVE_CREDENTIALS_FILE", c.CredentialsFile},
	}

	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%s is required", field.key)
		}
		if isPlaceholder(field.value) {
			return fmt.Errorf("%s still contains a template placeholder: %q", field.key, field.value)
		}
	}

	if !filepath.IsAbs(c.WPPath) {
		return fmt.Errorf("WP_PATH must be an absolute path, got %q", c.WPPath)
	}
	if !utils.DirExists(c.WPPath) {
		return fmt.Errorf("WP_PATH does not exist: %s", c.WPPath)
	}

	for _, email := range c.ShareEmails {
		if !strings.Contains(email, "@") || isPlaceholder(email) {
			return fmt.Errorf("invalid SHARE_EMAILS entry: %q", email)
		}
	}

	if c.EncryptArchive && len(c.AgeRecipients) == 0 {
		return fmt.Errorf("ENCRYPT_ARCHIVE is enabled but no AGE_RECIPIENT is configured")
	}

	if c.EmailEnabled && c.EmailRecipient == "" {
		return fmt.Errorf("EMAIL_ENABLED is set but EMAIL_RECIPIENT is empty")
	}

	return nil
}

// Helper methods for typed values

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return expandEnvVars(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := c.raw[key]; ok {
		// Try numeric first
		if intVal, err := strconv.Atoi(val); err == nil {
			return types.LogLevel(intVal)
		}
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "standard":
			return types.LogLevelInfo
		case "advanced", "debug":
			return types.LogLevelDebug
		}
	}
	return defaultValue
}

func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return []string{}
	}

	parts := strings.FieldsFunc(val, func(r rune) bool {
		switch r {
		case ',', ';', '|', '\n':
			return true
		default:
			return false
		}
	})

	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			trimmed = strings.Trim(trimmed, `"'`)
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return []string{}
	}
	return result
}

// expandEnvVars expands ${VAR} and $VAR style variables. BACKUP_DIR gets a
// fallback so paths in the config can reference it before it is exported.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if key == "BACKUP_DIR" {
			if val := os.Getenv("BACKUP_DIR"); val != "" {
				return val
			}
			return "/var/backups/wordpress"
		}
		return os.Getenv(key)
	})
}

// Get returns a raw value from the configuration.
func (c *Config) Get(key string) (string, bool) {
	val, ok := c.raw[key]
	return val, ok
}

// Set stores a raw value in the configuration.
func (c *Config) Set(key, value string) {
	c.raw[key] = value
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return []string{}
	}
	return clean
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if utils.IsComment(trimmed) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if blockValueKeys[key] && trimmed == fmt.Sprintf("%s=\"", key) {
			var blockLines []string
			terminated := false
			for scanner.Scan() {
				next := strings.TrimRight(scanner.Text(), "\r")
				if strings.TrimSpace(next) == "\"" {
					terminated = true
					break
				}
				blockLines = append(blockLines, next)
			}
			if !terminated {
				return nil, fmt.Errorf("unterminated multi-line value for %s", key)
			}
			raw[key] = strings.Join(blockLines, "\n")
			continue
		}

		if multiValueKeys[key] {
			if existing, ok := raw[key]; ok && existing != "" {
				raw[key] = existing + "\n" + value
			} else {
				raw[key] = value
			}
		} else {
			raw[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}

// PipelineTimeout returns the wall-clock budget for a full backup run.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.PipelineTimeoutMinutes) * time.Minute
}

// VerifyTimeout returns the bound for the credential verification probe.
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSeconds) * time.Second
}
