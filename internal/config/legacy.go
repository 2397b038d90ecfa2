package config

import (
	"strings"

	"github.com/wpsave/wpsave/pkg/utils"
)

// migrationRule describes how to map one or more legacy keys into a current key.
type migrationRule struct {
	LegacyKeys []string
	Transform  func(string) (string, bool)
}

func (r migrationRule) apply(values map[string]string) (string, bool) {
	for _, legacyKey := range r.LegacyKeys {
		if val, ok := values[legacyKey]; ok && strings.TrimSpace(val) != "" {
			if r.Transform != nil {
				if newVal, ok := r.Transform(val); ok {
					return newVal, true
				}
				continue
			}
			return val, true
		}
	}
	return "", false
}

// migrationRules maps the key names used by earlier generations of the backup
// scripts onto the current ones, so an existing backup.env keeps working.
var migrationRules = map[string]migrationRule{
	"WP_DOMAIN":              {LegacyKeys: []string{"SITE_DOMAIN", "DOMAIN"}},
	"WP_PATH":                {LegacyKeys: []string{"WORDPRESS_PATH", "WP_ROOT"}},
	"DRIVE_FOLDER":           {LegacyKeys: []string{"GDRIVE_FOLDER"}},
	"DRIVE_CREDENTIALS_FILE": {LegacyKeys: []string{"GDRIVE_CREDENTIALS_FILE"}},
	"DRIVE_TOKEN_FILE":       {LegacyKeys: []string{"GDRIVE_TOKEN_FILE"}},
	"RETENTION_DAYS":         {LegacyKeys: []string{"BACKUP_RETENTION_DAYS"}},
	"EXCLUDE_PATTERNS":       {LegacyKeys: []string{"BACKUP_EXCLUDE_PATTERNS"}},
	"USE_COLOR":              {LegacyKeys: []string{"DISABLE_COLORS"}, Transform: invertBool},
}

func invertBool(value string) (string, bool) {
	if utils.ParseBool(value) {
		return "false", true
	}
	return "true", true
}

// migrateLegacyKeys rewrites legacy key names in the raw map. Current keys
// always win: a legacy key is only consulted when the current one is absent
// or empty.
func migrateLegacyKeys(raw map[string]string) {
	for currentKey, rule := range migrationRules {
		if existing, ok := raw[currentKey]; ok && strings.TrimSpace(existing) != "" {
			continue
		}
		if val, ok := rule.apply(raw); ok {
			raw[currentKey] = val
		}
	}
}
