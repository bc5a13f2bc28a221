package auth

import (
	"context"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ServiceFactory builds authenticated provider API clients
type ServiceFactory struct {
	manager *Manager
	// Transport sits under the OAuth2 transport; nil means http.DefaultTransport.
	Transport http.RoundTripper
	// DriveEndpoint overrides the Drive API base URL.
	DriveEndpoint string
}

func NewServiceFactory(manager *Manager) *ServiceFactory {
	return &ServiceFactory{manager: manager}
}

// CreateDriveService returns a Drive client authorized with the googledrive profile
func (f *ServiceFactory) CreateDriveService(ctx context.Context) (*drive.Service, error) {
	ts, err := f.manager.TokenSource(ctx, ProfileGoogleDrive)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(f.manager.GetHTTPClient(ts, f.Transport))}
	if f.DriveEndpoint != "" {
		opts = append(opts, option.WithEndpoint(f.DriveEndpoint))
	}
	return drive.NewService(ctx, opts...)
}
