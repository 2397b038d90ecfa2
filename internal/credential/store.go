package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/pkg/utils"
)

// DriveFileScope limits access to files created by this application.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

// aboutEndpoint is probed by Verify to confirm the token is accepted.
// Variable so tests can point it at a fake server.
var aboutEndpoint = "https://www.googleapis.com/drive/v3/about?fields=user"

// Sentinel errors classifying why a stored credential cannot be used.
var (
	// ErrMissing: no usable token on disk; a full authorization flow is needed.
	ErrMissing = errors.New("no stored credential")

	// ErrExpired: the access token is past its expiry and no refresh token
	// is available to renew it.
	ErrExpired = errors.New("credential expired")

	// ErrRevoked: the provider rejected the credential; the user must
	// re-authorize.
	ErrRevoked = errors.New("credential revoked")
)

// Store manages the OAuth client configuration and the persisted token.
type Store struct {
	credentialsFile string
	tokenFile       string
	logger          *logging.Logger

	config *oauth2.Config
}

// NewStore creates a credential store. credentialsFile is the OAuth client
// secrets JSON downloaded from the provider console; tokenFile is where the
// user token is persisted.
func NewStore(credentialsFile, tokenFile string, logger *logging.Logger) *Store {
	return &Store{
		credentialsFile: credentialsFile,
		tokenFile:       tokenFile,
		logger:          logger,
	}
}

// TokenFile returns the path where the token is persisted.
func (s *Store) TokenFile() string {
	return s.tokenFile
}

// oauthConfig lazily parses the client secrets file.
func (s *Store) oauthConfig() (*oauth2.Config, error) {
	if s.config != nil {
		return s.config, nil
	}
	data, err := os.ReadFile(s.credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read credentials file %s: %w", s.credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(data, DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials file %s: %w", s.credentialsFile, err)
	}
	s.config = cfg
	return cfg, nil
}

// LoadToken reads the persisted token. A missing or unreadable token file
// classifies as ErrMissing: both require a fresh authorization flow.
func (s *Store) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: token file %s not found", ErrMissing, s.tokenFile)
		}
		return nil, fmt.Errorf("%w: cannot read token file: %v", ErrMissing, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: malformed token file %s", ErrMissing, s.tokenFile)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token file %s holds no token", ErrMissing, s.tokenFile)
	}
	return &tok, nil
}

// SaveToken persists the token with owner-only permissions.
func (s *Store) SaveToken(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0o700); err != nil {
		return fmt.Errorf("cannot create token directory: %w", err)
	}

	// Write-then-rename so a crash never leaves a truncated token behind.
	tmp := s.tokenFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cannot write token file: %w", err)
	}
	if err := os.Rename(tmp, s.tokenFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cannot replace token file: %w", err)
	}
	s.logger.Debug("Token saved to %s", s.tokenFile)
	return nil
}

// Token returns a valid token, refreshing it first when expired. A rotated
// token is persisted before returning. Classification:
//   - no token on disk            -> ErrMissing
//   - expired, no refresh token   -> ErrExpired
//   - refresh rejected (invalid_grant) -> ErrRevoked
func (s *Store) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := s.LoadToken()
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: access token expired and no refresh token stored", ErrExpired)
	}

	cfg, err := s.oauthConfig()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Refreshing access token")
	fresh, err := cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return nil, fmt.Errorf("%w: refresh token rejected by provider", ErrRevoked)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	if fresh.AccessToken != tok.AccessToken {
		if err := s.SaveToken(fresh); err != nil {
			s.logger.Warning("Failed to persist refreshed token: %v", err)
		}
	}
	return fresh, nil
}

// Verify proves the credential end to end with a single cheap API call. The
// caller bounds the probe through ctx. A 401 means the token was revoked
// server-side even though it looked valid locally.
func (s *Store) Verify(ctx context.Context) error {
	tok, err := s.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, aboutEndpoint, nil)
	if err != nil {
		return fmt.Errorf("cannot build verification request: %w", err)
	}
	tok.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("credential verification failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: provider rejected the access token", ErrRevoked)
	case resp.StatusCode >= 400:
		return fmt.Errorf("credential verification failed: unexpected status %s", resp.Status)
	}

	var about struct {
		User struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&about); err == nil && about.User.EmailAddress != "" {
		s.logger.Debug("Verified credential for %s", utils.MaskSensitive(about.User.EmailAddress))
	}
	return nil
}

// AuthCodeURL builds the authorization URL for a fresh consent flow.
// Offline access is requested so the provider issues a refresh token.
func (s *Store) AuthCodeURL(state string) (string, error) {
	cfg, err := s.oauthConfig()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// Exchange trades an authorization code for a token and persists it.
func (s *Store) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("no authorization code provided")
	}
	if !strings.HasPrefix(code, "4/") {
		s.logger.Warning("Authorization code does not start with '4/', it may be incomplete")
	}

	cfg, err := s.oauthConfig()
	if err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}
	if err := s.SaveToken(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Client returns an HTTP client that injects and auto-refreshes the token.
func (s *Store) Client(ctx context.Context) (*http.Client, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := s.oauthConfig()
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, cfg.TokenSource(ctx, tok)), nil
}

// isInvalidGrant detects the provider's "refresh token no longer valid"
// answer, which OAuth spells invalid_grant.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		if strings.Contains(string(retrieveErr.Body), "invalid_grant") {
			return true
		}
	}
	return strings.Contains(err.Error(), "invalid_grant")
}
