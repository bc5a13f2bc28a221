package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	serviceName        = "cloudmirror"
	tokenRefreshBuffer = 5 * time.Minute
)

// Credential profiles, one per provider that authenticates with OAuth2
const (
	ProfileGoogleDrive = "googledrive"
	ProfileDropbox     = "dropbox"
)

// DropboxEndpoint is the OAuth2 endpoint used to refresh Dropbox tokens
var DropboxEndpoint = oauth2.Endpoint{
	AuthURL:   utils.DropboxAuthURL,
	TokenURL:  utils.DropboxTokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// Manager owns stored provider credentials and hands out refreshing token sources
type Manager struct {
	storage      StorageBackend
	info         StorageInfo
	oauthConfigs map[string]*oauth2.Config
	logger       logging.Logger
	now          func() time.Time
}

// StorageInfo describes where credentials are kept
type StorageInfo struct {
	Backend   string `json:"backend"`
	Encrypted bool   `json:"encrypted"`
	// Warning is set when credentials are kept less safely than they could be.
	Warning string `json:"warning,omitempty"`
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	ForceEncryptedFile bool
	// ForcePlainFile stores tokens unencrypted. Tests and development only.
	ForcePlainFile bool
	// Fs defaults to the OS filesystem.
	Fs     afero.Fs
	Logger logging.Logger
}

// NewManagerWithOptions creates an auth manager keeping credentials under
// configDir, preferring the system keyring over an encrypted file
func NewManagerWithOptions(configDir string, opts ManagerOptions) *Manager {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	storage, info := chooseStorage(configDir, opts)
	return &Manager{
		storage:      storage,
		info:         info,
		oauthConfigs: make(map[string]*oauth2.Config),
		logger:       opts.Logger,
		now:          time.Now,
	}
}

func chooseStorage(configDir string, opts ManagerOptions) (StorageBackend, StorageInfo) {
	plain := func(warning string) (StorageBackend, StorageInfo) {
		s := NewPlainFileStorage(opts.Fs, configDir)
		return s, StorageInfo{Backend: s.Name(), Warning: warning}
	}

	if opts.ForcePlainFile {
		return plain("credentials are stored unencrypted")
	}
	if !opts.ForceEncryptedFile && checkKeyringAvailable() {
		s := NewKeyringStorage(serviceName, opts.Fs, configDir)
		return s, StorageInfo{Backend: s.Name(), Encrypted: true}
	}

	s, err := NewEncryptedFileStorage(opts.Fs, configDir)
	if err != nil {
		return plain(fmt.Sprintf("encryption setup failed (%v), credentials are stored unencrypted", err))
	}
	info := StorageInfo{Backend: s.Name(), Encrypted: true}
	if !opts.ForceEncryptedFile {
		info.Warning = "system keyring not available, using an encrypted file"
	}
	return s, info
}

// Storage describes the credential store in use
func (m *Manager) Storage() StorageInfo {
	return m.info
}

// SetOAuthConfig registers the client used to refresh tokens for a profile.
// Without one, stored tokens are used as-is until they expire.
func (m *Manager) SetOAuthConfig(profile string, config *oauth2.Config) {
	if config == nil {
		delete(m.oauthConfigs, profile)
		return
	}
	m.oauthConfigs[profile] = config
}

// GoogleOAuthConfig builds the refresh client for the Drive provider
func GoogleOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       utils.ScopesMirror,
		Endpoint:     google.Endpoint,
	}
}

// DropboxOAuthConfig builds the refresh client for the Dropbox provider
func DropboxOAuthConfig(appKey, appSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     appKey,
		ClientSecret: appSecret,
		Endpoint:     DropboxEndpoint,
	}
}

// LoadCredentials reads the credentials stored for profile. A profile with
// nothing stored yields an error wrapping ErrCredentialsNotFound.
func (m *Manager) LoadCredentials(profile string) (*types.Credentials, error) {
	data, err := m.storage.Load(profile)
	if err != nil {
		return nil, err
	}
	var creds types.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return &creds, nil
}

// SaveCredentials stores creds under profile, replacing what was there
func (m *Manager) SaveCredentials(profile string, creds *types.Credentials) error {
	stored := *creds
	stored.Profile = profile
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return m.storage.Save(profile, data)
}

// DeleteCredentials removes credentials for a profile
func (m *Manager) DeleteCredentials(profile string) error {
	return m.storage.Delete(profile)
}

// ListProfiles lists the profiles with stored credentials
func (m *Manager) ListProfiles() ([]string, error) {
	return m.storage.Profiles()
}

// NeedsRefresh reports whether creds expire within the refresh window
func (m *Manager) NeedsRefresh(creds *types.Credentials) bool {
	return creds.Expired(m.now().Add(tokenRefreshBuffer))
}

// TokenSource returns a token source for profile. Refreshed tokens are written
// back to the credential store. Missing credentials are AUTH_REQUIRED and a
// token that expired with no way to refresh it is AUTH_EXPIRED.
func (m *Manager) TokenSource(ctx context.Context, profile string) (oauth2.TokenSource, error) {
	creds, err := m.LoadCredentials(profile)
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				fmt.Sprintf("No credentials stored for %s. Run 'cloudmirror auth set-token %s' first.", profile, profile)).
				WithContext("profile", profile).
				Build())
		}
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
			fmt.Sprintf("Stored credentials for %s are unreadable", profile)).
			WithContext("profile", profile).
			Build(), err)
	}

	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiryDate,
		TokenType:    "Bearer",
	}

	config, canRefresh := m.oauthConfigs[profile]
	if !canRefresh || !creds.Refreshable() {
		if creds.Expired(m.now()) {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired,
				fmt.Sprintf("Stored token for %s expired and cannot be refreshed. Run 'cloudmirror auth set-token %s'.", profile, profile)).
				WithContext("profile", profile).
				Build())
		}
		return oauth2.StaticTokenSource(token), nil
	}

	return &persistingTokenSource{
		base:    oauth2.ReuseTokenSourceWithExpiry(token, config.TokenSource(ctx, token), tokenRefreshBuffer),
		manager: m,
		profile: profile,
		scopes:  creds.Scopes,
		last:    token.AccessToken,
	}, nil
}

// GetHTTPClient returns an HTTP client that authorizes requests with ts.
// base is the underlying transport, http.DefaultTransport when nil.
func (m *Manager) GetHTTPClient(ts oauth2.TokenSource, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}}
}

// persistingTokenSource saves every newly minted token for its profile
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	manager *Manager
	profile string
	scopes  []string
	last    string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken

	creds := &types.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiryDate:   token.Expiry,
		Scopes:       s.scopes,
		Type:         types.AuthTypeOAuth,
	}
	if err := s.manager.SaveCredentials(s.profile, creds); err != nil {
		s.manager.logger.Warn("Failed to persist refreshed token",
			logging.F("profile", s.profile),
			logging.F("error", err.Error()),
		)
	}
	return token, nil
}
