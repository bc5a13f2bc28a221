package gdrive

import (
	"context"
	"io"
	"testing"

	"github.com/dl-alexandre/cloudmirror/internal/api"
	testhelpers "github.com/dl-alexandre/cloudmirror/internal/testing"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
)

func newProvider(t *testing.T, srv *testhelpers.DriveServer, opts Options) *Provider {
	t.Helper()
	client := api.NewClient(srv.Service(t), api.Options{})
	return New(client, opts, nil)
}

func seedSite(srv *testhelpers.DriveServer) {
	srv.AddFolder("root1", "site", "")
	srv.AddFile("f1", "index.md", "root1", "text/markdown", "home")
	srv.AddFolder("d1", "posts", "root1")
	srv.AddFile("f2", "a.md", "d1", "text/markdown", "# A")
	srv.AddFile("f3", "b.md", "d1", "text/markdown", "# B")
	srv.AddFile("f4", "c.md", "d1", "text/markdown", "# C")
	srv.AddFolder("d2", "empty", "root1")
	srv.AddFile("f5", "notes", "root1", utils.MimeTypeDocument, "")
	srv.AddFile("f6", "old.md", "d1", "text/markdown", "old")
	srv.Trash("f6")
}

func paths(entries []types.ChangeEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Kind.String() + ":" + e.Path
	}
	return out
}

func TestFetchChanges_WalksTree(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	p := newProvider(t, srv, Options{Folder: "root1"})

	batch, err := p.FetchChanges(context.Background(), nil)
	testhelpers.Must(t, err)

	if !batch.ResetRequested {
		t.Error("tree walk batch must request a reset")
	}
	want := []string{"file:index.md", "directory:posts", "file:posts/a.md", "file:posts/b.md", "file:posts/c.md"}
	got := paths(batch.Entries)
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i], want[i])
		}
	}
	if batch.Entries[0].RemoteID != "f1" || batch.Entries[0].Size != 4 {
		t.Errorf("index.md entry = %+v", batch.Entries[0])
	}
	if batch.Entries[0].ModifiedTime.IsZero() {
		t.Error("modified time not parsed")
	}
	// posts has four children (one trashed) and a page size of two.
	if srv.Requests["files"] < 4 {
		t.Errorf("expected paginated listing, got %d list calls", srv.Requests["files"])
	}
}

func TestFetchChanges_RootByName(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	p := newProvider(t, srv, Options{Folder: "site"})

	batch, err := p.FetchChanges(context.Background(), nil)
	testhelpers.Must(t, err)
	if len(batch.Entries) != 5 {
		t.Errorf("got %d entries", len(batch.Entries))
	}
	if p.rootID != "root1" {
		t.Errorf("rootID = %q", p.rootID)
	}
}

func TestFetchChanges_RootErrors(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		code   string
	}{
		{"missing", "nope", utils.ErrCodeRemoteRootNotFound},
		{"not a folder", "f1", utils.ErrCodeRemoteRootNotFound},
		{"unset", "", utils.ErrCodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testhelpers.NewDriveServer(t)
			seedSite(srv)
			p := newProvider(t, srv, Options{Folder: tt.folder})

			_, err := p.FetchChanges(context.Background(), nil)
			if got := utils.ErrorCode(err); got != tt.code {
				t.Errorf("code = %s, want %s (err %v)", got, tt.code, err)
			}
			if !utils.IsFatal(err) {
				t.Error("root errors must be fatal")
			}
		})
	}
}

func TestFetchChanges_AuthFailureIsFatal(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	srv.Fail["files/root1"] = 401
	p := newProvider(t, srv, Options{Folder: "root1"})

	_, err := p.FetchChanges(context.Background(), nil)
	if utils.ErrorCode(err) != utils.ErrCodeAuthExpired || !utils.IsFatal(err) {
		t.Errorf("err = %v, want fatal AUTH_EXPIRED", err)
	}
}

func TestFetchChanges_ServerErrorIsTransient(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	srv.Fail["files"] = 503
	p := newProvider(t, srv, Options{Folder: "root1"})

	_, err := p.FetchChanges(context.Background(), nil)
	if err == nil || utils.IsFatal(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestFetchChanges_SkipUnchanged(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	p := newProvider(t, srv, Options{Folder: "root1", SkipUnchanged: true})
	ctx := context.Background()

	first, err := p.FetchChanges(ctx, nil)
	testhelpers.Must(t, err)
	if !first.ResetRequested || first.NextCursor.IsEmpty() {
		t.Fatalf("first fetch = reset %v cursor %q", first.ResetRequested, first.NextCursor)
	}

	second, err := p.FetchChanges(ctx, first.NextCursor)
	testhelpers.Must(t, err)
	if !second.IsEmpty() {
		t.Errorf("unchanged drive produced %d entries (reset %v)", len(second.Entries), second.ResetRequested)
	}

	srv.RecordChange("f2")
	third, err := p.FetchChanges(ctx, first.NextCursor)
	testhelpers.Must(t, err)
	if !third.ResetRequested || len(third.Entries) != 5 {
		t.Errorf("changed drive: reset %v entries %d", third.ResetRequested, len(third.Entries))
	}
	if string(third.NextCursor) == string(first.NextCursor) {
		t.Error("cursor did not move after a change")
	}
}

func TestFetchChanges_SkipUnchangedPagesChanges(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	srv.ChangesPageSize = 1
	p := newProvider(t, srv, Options{Folder: "root1", SkipUnchanged: true})
	ctx := context.Background()

	first, err := p.FetchChanges(ctx, nil)
	testhelpers.Must(t, err)

	srv.RecordChange("f1")
	srv.RecordChange("f2")
	srv.RecordChange("f3")
	before := srv.Requests["changes"]

	second, err := p.FetchChanges(ctx, first.NextCursor)
	testhelpers.Must(t, err)
	if !second.ResetRequested || len(second.Entries) != 5 {
		t.Errorf("reset %v entries %d", second.ResetRequested, len(second.Entries))
	}
	testhelpers.Equal(t, srv.Requests["changes"]-before, 3)

	token, err := decodeCursor(second.NextCursor)
	testhelpers.Must(t, err)
	testhelpers.Equal(t, token, "4")

	third, err := p.FetchChanges(ctx, second.NextCursor)
	testhelpers.Must(t, err)
	if !third.IsEmpty() {
		t.Errorf("no changes since the last page, got %d entries", len(third.Entries))
	}
}

func TestFetchChanges_RootGoneAfterFirstFetch(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		mutate func(srv *testhelpers.DriveServer)
		code   string
		fatal  bool
	}{
		{"trashed", "root1", func(srv *testhelpers.DriveServer) {
			for _, id := range []string{"root1", "f1", "d1", "f2", "f3", "f4", "d2", "f5"} {
				srv.Trash(id)
			}
		}, utils.ErrCodeRemoteRootNotFound, true},
		{"trashed, found by name", "site", func(srv *testhelpers.DriveServer) {
			srv.Trash("root1")
		}, utils.ErrCodeRemoteRootNotFound, true},
		{"deleted", "root1", func(srv *testhelpers.DriveServer) {
			srv.Fail["files/root1"] = 404
		}, utils.ErrCodeRemoteRootNotFound, true},
		{"server error", "root1", func(srv *testhelpers.DriveServer) {
			srv.Fail["files/root1"] = 503
		}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testhelpers.NewDriveServer(t)
			seedSite(srv)
			p := newProvider(t, srv, Options{Folder: tt.folder})
			ctx := context.Background()

			_, err := p.FetchChanges(ctx, nil)
			testhelpers.Must(t, err)

			tt.mutate(srv)
			batch, err := p.FetchChanges(ctx, nil)
			if batch != nil {
				t.Fatalf("got a batch with %d entries (reset %v), want an error", len(batch.Entries), batch.ResetRequested)
			}
			testhelpers.RequireCode(t, err, tt.code)
			testhelpers.Equal(t, utils.IsFatal(err), tt.fatal)
		})
	}
}

func TestFetchChanges_SkipUnchangedIgnoresBadCursor(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	p := newProvider(t, srv, Options{Folder: "root1", SkipUnchanged: true})

	batch, err := p.FetchChanges(context.Background(), types.SyncCursor("garbage"))
	testhelpers.Must(t, err)
	if !batch.ResetRequested || len(batch.Entries) == 0 {
		t.Error("bad cursor should fall back to a full rebuild")
	}
}

func TestOpen(t *testing.T) {
	srv := testhelpers.NewDriveServer(t)
	seedSite(srv)
	p := newProvider(t, srv, Options{Folder: "root1"})

	rc, err := p.Open(context.Background(), types.ChangeEntry{Path: "posts/a.md", RemoteID: "f2"})
	testhelpers.Must(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	testhelpers.Must(t, err)
	testhelpers.Equal(t, string(data), "# A")

	_, err = p.Open(context.Background(), types.ChangeEntry{Path: "gone.md", RemoteID: "missing"})
	testhelpers.RequireCode(t, err, utils.ErrCodeFileNotFound)
}

func TestCursorRoundTrip(t *testing.T) {
	token, err := decodeCursor(encodeCursor("42"))
	testhelpers.Must(t, err)
	testhelpers.Equal(t, token, "42")

	_, err = decodeCursor(types.SyncCursor(`{"v":9,"startPageToken":"1"}`))
	testhelpers.RequireCode(t, err, "")

	token, err = decodeCursor(nil)
	testhelpers.Must(t, err)
	testhelpers.Equal(t, token, "")
}
