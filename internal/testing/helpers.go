package testing

import (
	"testing"

	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"google.golang.org/api/drive/v3"
)

// TestRequestContext is the request context classifier tests log against
func TestRequestContext() *types.RequestContext {
	return &types.RequestContext{
		Profile:     "test-profile",
		RequestType: types.RequestTypeListOrSearch,
		TraceID:     "test-trace-id",
	}
}

// TestFolder creates a Drive folder fixture
func TestFolder(id, name string) *drive.File {
	return &drive.File{
		Id:       id,
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
}

// Must stops the test on a non-nil error
func Must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Equal stops the test when got differs from want
func Equal[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// RequireCode stops the test unless err carries the given CLI error code.
// An empty code only requires a non-nil error.
func RequireCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", code)
	}
	if code != "" && utils.ErrorCode(err) != code {
		t.Fatalf("error code = %q, want %q (%v)", utils.ErrorCode(err), code, err)
	}
}
