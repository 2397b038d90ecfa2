package wordpress

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/wpsave/wpsave/internal/config"
)

// DBCredentials holds the MySQL connection parameters for a WordPress site.
type DBCredentials struct {
	Name     string
	User     string
	Password string
	Host     string
}

var wpDefineRe = map[string]*regexp.Regexp{
	"DB_NAME":     regexp.MustCompile(`define\s*\(\s*['"]DB_NAME['"]\s*,\s*['"]([^'"]+)['"]`),
	"DB_USER":     regexp.MustCompile(`define\s*\(\s*['"]DB_USER['"]\s*,\s*['"]([^'"]+)['"]`),
	"DB_PASSWORD": regexp.MustCompile(`define\s*\(\s*['"]DB_PASSWORD['"]\s*,\s*['"]([^'"]*)['"]`),
	"DB_HOST":     regexp.MustCompile(`define\s*\(\s*['"]DB_HOST['"]\s*,\s*['"]([^'"]+)['"]`),
}

// ParseWPConfig extracts the database credentials from a wp-config.php file.
// DB_PASSWORD may legitimately be empty; the other three defines are required.
func ParseWPConfig(path string) (*DBCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	extract := func(key string) (string, bool) {
		m := wpDefineRe[key].FindStringSubmatch(content)
		if m == nil {
			return "", false
		}
		return m[1], true
	}

	creds := &DBCredentials{}
	var ok bool
	if creds.Name, ok = extract("DB_NAME"); !ok {
		return nil, fmt.Errorf("DB_NAME not found in %s", path)
	}
	if creds.User, ok = extract("DB_USER"); !ok {
		return nil, fmt.Errorf("DB_USER not found in %s", path)
	}
	if creds.Password, ok = extract("DB_PASSWORD"); !ok {
		return nil, fmt.Errorf("DB_PASSWORD not found in %s", path)
	}
	if creds.Host, ok = extract("DB_HOST"); !ok {
		return nil, fmt.Errorf("DB_HOST not found in %s", path)
	}
	return creds, nil
}

// ResolveCredentials builds the effective database credentials for the site:
// wp-config.php values overridden by any DB_* keys set in the backup
// configuration. When all four overrides are present wp-config.php is not
// read at all.
func ResolveCredentials(cfg *config.Config) (*DBCredentials, error) {
	if cfg.DBName != "" && cfg.DBUser != "" && cfg.DBHost != "" {
		return &DBCredentials{
			Name:     cfg.DBName,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Host:     cfg.DBHost,
		}, nil
	}

	creds, err := ParseWPConfig(filepath.Join(cfg.WPPath, "wp-config.php"))
	if err != nil {
		return nil, err
	}

	if cfg.DBName != "" {
		creds.Name = cfg.DBName
	}
	if cfg.DBUser != "" {
		creds.User = cfg.DBUser
	}
	if cfg.DBPassword != "" {
		creds.Password = cfg.DBPassword
	}
	if cfg.DBHost != "" {
		creds.Host = cfg.DBHost
	}
	return creds, nil
}
