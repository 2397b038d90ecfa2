package utils

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	trues := []string{"true", "TRUE", "1", "yes", "on", "enabled", " True "}
	for _, s := range trues {
		if !ParseBool(s) {
			t.Errorf("ParseBool(%q) = false, want true", s)
		}
	}

	falses := []string{"false", "0", "no", "off", "", "banana"}
	for _, s := range falses {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true, want false", s)
		}
	}
}

func TestSplitKeyValue(t *testing.T) {
	tests := []struct {
		line    string
		key     string
		value   string
		ok      bool
	}{
		{`WP_DOMAIN=mysite.com`, "WP_DOMAIN", "mysite.com", true},
		{`WP_PATH="/var/www/mysite"`, "WP_PATH", "/var/www/mysite", true},
		{`RETENTION_DAYS=30 # one month`, "RETENTION_DAYS", "30", true},
		{`SHARE_EMAILS='a@b.com,c@d.com'`, "SHARE_EMAILS", "a@b.com,c@d.com", true},
		{`FOLDER="backup # not a comment"`, "FOLDER", "backup # not a comment", true},
		{`no equals sign`, "", "", false},
	}

	for _, tt := range tests {
		key, value, ok := SplitKeyValue(tt.line)
		if ok != tt.ok || key != tt.key || value != tt.value {
			t.Errorf("SplitKeyValue(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.line, key, value, ok, tt.key, tt.value, tt.ok)
		}
	}
}

func TestIsComment(t *testing.T) {
	if !IsComment("# a comment") || !IsComment("   ") || !IsComment("") {
		t.Error("expected comment/blank lines to be detected")
	}
	if IsComment("KEY=value") {
		t.Error("KEY=value should not be a comment")
	}
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"ab", "**"},
		{"secret", "******"},
		{"supersecrettoken", "sup**********ken"},
		{"user@example.com", "u**r@example.com"},
		{"ab@example.com", "**@example.com"},
	}

	for _, tt := range tests {
		if got := MaskSensitive(tt.in); got != tt.want {
			t.Errorf("MaskSensitive(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
