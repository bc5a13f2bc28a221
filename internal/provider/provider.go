// Package provider builds the remote storage backend named in the config.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dl-alexandre/cloudmirror/internal/api"
	"github.com/dl-alexandre/cloudmirror/internal/auth"
	"github.com/dl-alexandre/cloudmirror/internal/config"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/provider/dropbox"
	"github.com/dl-alexandre/cloudmirror/internal/provider/gdrive"
	"github.com/dl-alexandre/cloudmirror/internal/provider/s3"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
)

// Provider is a remote storage backend the mirror follows. FetchChanges must
// not touch local state. Fatal failures carry a code for which utils.IsFatal
// is true; anything else is retried on the next tick.
type Provider interface {
	ID() string
	FetchChanges(ctx context.Context, cursor types.SyncCursor) (*types.ChangeBatch, error)
	Open(ctx context.Context, entry types.ChangeEntry) (io.ReadCloser, error)
}

var (
	_ Provider = (*gdrive.Provider)(nil)
	_ Provider = (*dropbox.Provider)(nil)
	_ Provider = (*s3.Provider)(nil)
)

// Deps are the collaborators a provider needs besides its config
type Deps struct {
	Auth   *auth.Manager
	Logger logging.Logger
	// Debug traces provider HTTP traffic when set.
	Debug *logging.DebugTransport
	// DriveEndpoint overrides the Drive API base URL.
	DriveEndpoint string
}

// New builds the provider selected by cfg.Provider
func New(ctx context.Context, cfg *config.Config, deps Deps) (Provider, error) {
	if deps.Logger == nil {
		deps.Logger = logging.NewNoOpLogger()
	}

	switch cfg.Provider {
	case config.ProviderGoogleDrive:
		return newGoogleDrive(ctx, cfg, deps)
	case config.ProviderDropbox:
		return newDropbox(ctx, cfg, deps)
	case config.ProviderS3:
		return newS3(ctx, cfg, deps)
	case "":
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeProviderMissing,
			"No provider configured").
			WithContext("suggestedAction", "set 'provider' in config.yaml or CLOUDMIRROR_PROVIDER").
			Build())
	default:
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeProviderMissing,
			fmt.Sprintf("Unknown provider: %s", cfg.Provider)).
			WithContext("provider", cfg.Provider).
			Build())
	}
}

// Profile returns the credential profile used by a provider, "" when the
// provider does not authenticate through the auth manager.
func Profile(providerName string) string {
	switch providerName {
	case config.ProviderGoogleDrive:
		return auth.ProfileGoogleDrive
	case config.ProviderDropbox:
		return auth.ProfileDropbox
	}
	return ""
}

func newGoogleDrive(ctx context.Context, cfg *config.Config, deps Deps) (Provider, error) {
	gd := cfg.GoogleDrive
	if gd.ClientID != "" {
		deps.Auth.SetOAuthConfig(auth.ProfileGoogleDrive, auth.GoogleOAuthConfig(gd.ClientID, gd.ClientSecret))
	}

	factory := auth.NewServiceFactory(deps.Auth)
	factory.DriveEndpoint = deps.DriveEndpoint
	factory.Transport = debugTransport(deps.Debug)
	service, err := factory.CreateDriveService(ctx)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(service, api.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.GetRetryBaseDelay(),
		Logger:     deps.Logger,
	})
	return gdrive.New(client, gdrive.Options{
		Folder:        gd.Folder,
		DriveID:       gd.DriveID,
		SkipUnchanged: gd.SkipUnchanged,
	}, deps.Logger), nil
}

func newDropbox(ctx context.Context, cfg *config.Config, deps Deps) (Provider, error) {
	db := cfg.Dropbox
	if db.AppKey != "" {
		deps.Auth.SetOAuthConfig(auth.ProfileDropbox, auth.DropboxOAuthConfig(db.AppKey, db.AppSecret))
	}

	ts, err := deps.Auth.TokenSource(ctx, auth.ProfileDropbox)
	if err != nil {
		return nil, err
	}

	return dropbox.New(ts, dropbox.Options{
		Root:       db.Root,
		APIURL:     db.APIURL,
		ContentURL: db.ContentURL,
		Timeout:    cfg.GetRequestTimeout(),
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.GetRetryBaseDelay(),
		Debug:      deps.Debug,
	}, deps.Logger), nil
}

func newS3(ctx context.Context, cfg *config.Config, deps Deps) (Provider, error) {
	opts := s3.Options{
		Bucket:       cfg.S3.Bucket,
		Prefix:       cfg.S3.Prefix,
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		UsePathStyle: cfg.S3.UsePathStyle,
		MaxRetries:   cfg.MaxRetries,
		Timeout:      cfg.GetRequestTimeout(),
		Debug:        deps.Debug,
	}
	client, err := s3.NewClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s3.New(client, opts, deps.Logger), nil
}

func debugTransport(debug *logging.DebugTransport) http.RoundTripper {
	if debug == nil {
		return nil
	}
	return debug.Wrap(http.DefaultTransport)
}
