package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	logger := logging.New(types.LogLevelNone, false)
	return NewStore(filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json"), logger)
}

func testOAuthConfig(tokenURL, authURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{DriveFileScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadToken()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("LoadToken error = %v, want ErrMissing", err)
	}
}

func TestLoadTokenMalformed(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.tokenFile, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed token file: %v", err)
	}
	_, err := s.LoadToken()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("LoadToken error = %v, want ErrMissing for malformed file", err)
	}
}

func TestLoadTokenEmptyObject(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.tokenFile, []byte("{}"), 0o600); err != nil {
		t.Fatalf("seed token file: %v", err)
	}
	_, err := s.LoadToken()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("LoadToken error = %v, want ErrMissing for empty token", err)
	}
}

func TestSaveTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}

	if err := s.SaveToken(tok); err != nil {
		t.Fatalf("SaveToken error: %v", err)
	}

	info, err := os.Stat(s.tokenFile)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file permissions = %o, want 600", perm)
	}

	loaded, err := s.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken error: %v", err)
	}
	if loaded.AccessToken != tok.AccessToken || loaded.RefreshToken != tok.RefreshToken {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestTokenValidPassThrough(t *testing.T) {
	s := newTestStore(t)
	tok := &oauth2.Token{
		AccessToken: "still-good",
		Expiry:      time.Now().Add(time.Hour),
	}
	if err := s.SaveToken(tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if got.AccessToken != "still-good" {
		t.Errorf("Token = %q, want the stored one untouched", got.AccessToken)
	}
}

func TestTokenExpiredWithoutRefresh(t *testing.T) {
	s := newTestStore(t)
	tok := &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}
	if err := s.SaveToken(tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	_, err := s.Token(context.Background())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Token error = %v, want ErrExpired", err)
	}
}

func TestTokenRefreshesAndPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"token_type":    "Bearer",
			"refresh_token": "rotated-refresh",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	s := newTestStore(t)
	s.config = testOAuthConfig(server.URL+"/token", server.URL+"/auth")

	stale := &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}
	if err := s.SaveToken(stale); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if got.AccessToken != "fresh-access" {
		t.Errorf("refreshed token = %q", got.AccessToken)
	}

	// The rotated token must be persisted
	persisted, err := s.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken after refresh: %v", err)
	}
	if persisted.AccessToken != "fresh-access" || persisted.RefreshToken != "rotated-refresh" {
		t.Errorf("persisted token not rotated: %+v", persisted)
	}
}

func TestTokenRefreshInvalidGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
	}))
	defer server.Close()

	s := newTestStore(t)
	s.config = testOAuthConfig(server.URL+"/token", server.URL+"/auth")

	stale := &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}
	if err := s.SaveToken(stale); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	_, err := s.Token(context.Background())
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("Token error = %v, want ErrRevoked", err)
	}
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Errorf("missing bearer header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]string{"emailAddress": "owner@example.net"},
		})
	}))
	defer server.Close()

	oldEndpoint := aboutEndpoint
	aboutEndpoint = server.URL + "/about"
	defer func() { aboutEndpoint = oldEndpoint }()

	s := newTestStore(t)
	tok := &oauth2.Token{AccessToken: "good", Expiry: time.Now().Add(time.Hour)}
	if err := s.SaveToken(tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	if err := s.Verify(context.Background()); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestVerifyDetectsServerSideRevocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	oldEndpoint := aboutEndpoint
	aboutEndpoint = server.URL + "/about"
	defer func() { aboutEndpoint = oldEndpoint }()

	s := newTestStore(t)
	tok := &oauth2.Token{AccessToken: "looks-fine", Expiry: time.Now().Add(time.Hour)}
	if err := s.SaveToken(tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	err := s.Verify(context.Background())
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("Verify error = %v, want ErrRevoked", err)
	}
}

func TestVerifyHonorsContextDeadline(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	oldEndpoint := aboutEndpoint
	aboutEndpoint = server.URL + "/about"
	defer func() { aboutEndpoint = oldEndpoint }()

	s := newTestStore(t)
	tok := &oauth2.Token{AccessToken: "good", Expiry: time.Now().Add(time.Hour)}
	if err := s.SaveToken(tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.Verify(ctx)
	if err == nil {
		t.Fatal("Verify should fail when the probe exceeds its deadline")
	}
	<-started
}

func TestAuthCodeURL(t *testing.T) {
	s := newTestStore(t)
	s.config = testOAuthConfig("https://provider.test/token", "https://provider.test/auth")

	url, err := s.AuthCodeURL("state-123")
	if err != nil {
		t.Fatalf("AuthCodeURL error: %v", err)
	}
	for _, fragment := range []string{"state=state-123", "access_type=offline", "prompt=consent", "client-id"} {
		if !strings.Contains(url, fragment) {
			t.Errorf("auth URL missing %q: %s", fragment, url)
		}
	}
}

func TestExchangeRejectsEmptyCode(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Exchange(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty authorization code")
	}
}

func TestExchangeSavesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if code := r.Form.Get("code"); code != "4/0Aauthcode" {
			t.Errorf("exchange code = %q", code)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "exchanged-access",
			"token_type":    "Bearer",
			"refresh_token": "exchanged-refresh",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	s := newTestStore(t)
	s.config = testOAuthConfig(server.URL+"/token", server.URL+"/auth")

	tok, err := s.Exchange(context.Background(), "4/0Aauthcode")
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if tok.AccessToken != "exchanged-access" {
		t.Errorf("exchanged token = %q", tok.AccessToken)
	}

	persisted, err := s.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken after exchange: %v", err)
	}
	if persisted.RefreshToken != "exchanged-refresh" {
		t.Errorf("persisted refresh token = %q", persisted.RefreshToken)
	}
}

func TestOAuthConfigMissingCredentialsFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AuthCodeURL("state"); err == nil {
		t.Fatal("expected error when credentials file is absent")
	}
}

func TestIsInvalidGrant(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retrieve error code", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, true},
		{"retrieve error body", &oauth2.RetrieveError{Body: []byte(`{"error":"invalid_grant"}`)}, true},
		{"plain message", errors.New(`oauth2: "invalid_grant" token expired`), true},
		{"other error", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInvalidGrant(tt.err); got != tt.want {
				t.Errorf("isInvalidGrant() = %v, want %v", got, tt.want)
			}
		})
	}
}
