package dropbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"golang.org/x/oauth2"
)

type fakeDropbox struct {
	mu    sync.Mutex
	calls []string
	auth  []string
	// handlers keyed by endpoint path, e.g. "/files/list_folder"
	handlers map[string]http.HandlerFunc
}

func newFakeDropbox(t *testing.T) (*fakeDropbox, *httptest.Server) {
	t.Helper()
	f := &fakeDropbox{handlers: make(map[string]http.HandlerFunc)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.URL.Path)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		h := f.handlers[r.URL.Path]
		f.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func jsonReply(status int, v interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func page(cursor string, hasMore bool, entries ...map[string]interface{}) map[string]interface{} {
	if entries == nil {
		entries = []map[string]interface{}{}
	}
	return map[string]interface{}{"entries": entries, "cursor": cursor, "has_more": hasMore}
}

func fileMeta(display string) map[string]interface{} {
	return map[string]interface{}{
		".tag":            "file",
		"name":            display[strings.LastIndex(display, "/")+1:],
		"path_lower":      strings.ToLower(display),
		"path_display":    display,
		"id":              "id:" + strings.ToLower(display),
		"size":            3,
		"server_modified": "2024-05-01T10:00:00Z",
		"content_hash":    "abc",
	}
}

func folderMeta(display string) map[string]interface{} {
	m := fileMeta(display)
	m[".tag"] = "folder"
	delete(m, "size")
	delete(m, "server_modified")
	return m
}

func deletedMeta(display string) map[string]interface{} {
	return map[string]interface{}{
		".tag":         "deleted",
		"name":         display[strings.LastIndex(display, "/")+1:],
		"path_lower":   strings.ToLower(display),
		"path_display": display,
	}
}

func newTestProvider(srv *httptest.Server, root string, ts oauth2.TokenSource) *Provider {
	if ts == nil {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
	}
	return New(ts, Options{Root: root, APIURL: srv.URL, ContentURL: srv.URL}, nil)
}

func TestFetchChanges_EmptyCursorListsFolder(t *testing.T) {
	f, srv := newFakeDropbox(t)
	var gotArg listFolderArg
	f.handlers["/files/list_folder"] = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotArg)
		jsonReply(200, page("c1", false,
			folderMeta("/Site"),
			folderMeta("/Site/Posts"),
			fileMeta("/Site/Posts/A.md"),
			fileMeta("/Other/x.md"),
		))(w, r)
	}
	p := newTestProvider(srv, "/site", nil)

	batch, err := p.FetchChanges(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchChanges: %v", err)
	}
	if !batch.ResetRequested {
		t.Error("empty cursor must request a reset")
	}
	if gotArg.Path != "/site" || !gotArg.Recursive {
		t.Errorf("list_folder arg = %+v", gotArg)
	}
	if string(batch.NextCursor) != "c1" {
		t.Errorf("cursor = %q", batch.NextCursor)
	}
	if len(batch.Entries) != 2 {
		t.Fatalf("entries = %+v", batch.Entries)
	}
	if batch.Entries[0].Path != "Posts" || batch.Entries[0].Kind != types.KindDirectory {
		t.Errorf("entry 0 = %+v", batch.Entries[0])
	}
	e := batch.Entries[1]
	if e.Path != "Posts/A.md" || e.Kind != types.KindFile || e.RemoteID != "id:/site/posts/a.md" || e.Size != 3 {
		t.Errorf("entry 1 = %+v", e)
	}
	if e.ModifiedTime.IsZero() || e.Hash != "abc" {
		t.Errorf("metadata not carried: %+v", e)
	}
	if f.auth[0] != "Bearer tok" {
		t.Errorf("Authorization = %q", f.auth[0])
	}
}

func TestFetchChanges_PaginationKeepsLastCursor(t *testing.T) {
	f, srv := newFakeDropbox(t)
	f.handlers["/files/list_folder/continue"] = func(w http.ResponseWriter, r *http.Request) {
		var arg continueArg
		_ = json.NewDecoder(r.Body).Decode(&arg)
		switch arg.Cursor {
		case "c1":
			jsonReply(200, page("c2", true, fileMeta("/a.md")))(w, r)
		case "c2":
			jsonReply(200, page("c3", false, deletedMeta("/b.md")))(w, r)
		default:
			jsonReply(400, map[string]string{"error_summary": "bad cursor"})(w, r)
		}
	}
	p := newTestProvider(srv, "", nil)

	batch, err := p.FetchChanges(context.Background(), types.SyncCursor("c1"))
	if err != nil {
		t.Fatalf("FetchChanges: %v", err)
	}
	if batch.ResetRequested {
		t.Error("continue must not request a reset")
	}
	if string(batch.NextCursor) != "c3" {
		t.Errorf("cursor = %q, want c3", batch.NextCursor)
	}
	if len(batch.Entries) != 2 {
		t.Fatalf("entries = %+v", batch.Entries)
	}
	if batch.Entries[0].Path != "a.md" || batch.Entries[1].Operation != types.OpDelete || batch.Entries[1].Path != "b.md" {
		t.Errorf("entries = %+v", batch.Entries)
	}
}

func TestFetchChanges_DeleteWithoutDisplayPath(t *testing.T) {
	f, srv := newFakeDropbox(t)
	lowerOnly := deletedMeta("/Site/Posts/A.md")
	delete(lowerOnly, "path_display")
	f.handlers["/files/list_folder/continue"] = jsonReply(200, page("c2", false,
		lowerOnly,
		deletedMeta("/Site/Posts/B.md"),
	))
	p := newTestProvider(srv, "/site", nil)

	batch, err := p.FetchChanges(context.Background(), types.SyncCursor("c1"))
	if err != nil {
		t.Fatalf("FetchChanges: %v", err)
	}
	if len(batch.Entries) != 2 {
		t.Fatalf("entries = %+v", batch.Entries)
	}
	if e := batch.Entries[0]; e.Path != "posts/a.md" || !e.CaseFolded {
		t.Errorf("entry without path_display = %+v, want folded posts/a.md", e)
	}
	if e := batch.Entries[1]; e.Path != "Posts/B.md" || e.CaseFolded {
		t.Errorf("entry with path_display = %+v", e)
	}
}

func TestFetchChanges_ResetRelists(t *testing.T) {
	f, srv := newFakeDropbox(t)
	f.handlers["/files/list_folder/continue"] = jsonReply(409, map[string]string{"error_summary": "reset/..."})
	f.handlers["/files/list_folder"] = jsonReply(200, page("fresh", false, fileMeta("/a.md")))
	p := newTestProvider(srv, "", nil)

	batch, err := p.FetchChanges(context.Background(), types.SyncCursor("stale"))
	if err != nil {
		t.Fatalf("FetchChanges: %v", err)
	}
	if !batch.ResetRequested || string(batch.NextCursor) != "fresh" || len(batch.Entries) != 1 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestFetchChanges_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		summary string
		code    string
		fatal   bool
	}{
		{"expired token", 401, "expired_access_token/..", utils.ErrCodeAuthExpired, true},
		{"invalid token", 401, "invalid_access_token/..", utils.ErrCodeAuthInvalid, true},
		{"missing root", 409, "path/not_found/..", utils.ErrCodeRemoteRootNotFound, true},
		{"server error", 503, "", utils.ErrCodeNetworkError, false},
		{"rate limited", 429, "too_many_requests/..", utils.ErrCodeRateLimited, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeDropbox(t)
			f.handlers["/files/list_folder"] = jsonReply(tt.status, map[string]string{"error_summary": tt.summary})
			p := newTestProvider(srv, "/site", nil)

			_, err := p.FetchChanges(context.Background(), nil)
			if got := utils.ErrorCode(err); got != tt.code {
				t.Errorf("code = %s, want %s (err %v)", got, tt.code, err)
			}
			if utils.IsFatal(err) != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", utils.IsFatal(err), tt.fatal)
			}
		})
	}
}

type failingTokenSource struct{}

func (failingTokenSource) Token() (*oauth2.Token, error) {
	return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
}

func TestFetchChanges_TokenRefreshFailureIsFatal(t *testing.T) {
	f, srv := newFakeDropbox(t)
	f.handlers["/files/list_folder"] = jsonReply(200, page("c", false))
	p := newTestProvider(srv, "", failingTokenSource{})

	_, err := p.FetchChanges(context.Background(), nil)
	if utils.ErrorCode(err) != utils.ErrCodeAuthExpired || !utils.IsFatal(err) {
		t.Errorf("err = %v, want fatal AUTH_EXPIRED", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("request sent without a token: %v", f.calls)
	}
}

func TestOpen(t *testing.T) {
	f, srv := newFakeDropbox(t)
	var gotArg string
	f.handlers["/files/download"] = func(w http.ResponseWriter, r *http.Request) {
		gotArg = r.Header.Get("Dropbox-API-Arg")
		_, _ = w.Write([]byte("hello"))
	}
	p := newTestProvider(srv, "/site", nil)

	rc, err := p.Open(context.Background(), types.ChangeEntry{Path: "a.md", RemoteID: "id:123"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
	if gotArg != `{"path":"id:123"}` {
		t.Errorf("Dropbox-API-Arg = %s", gotArg)
	}
}

func TestOpen_NotFound(t *testing.T) {
	f, srv := newFakeDropbox(t)
	f.handlers["/files/download"] = jsonReply(409, map[string]string{"error_summary": "path/not_found/.."})
	p := newTestProvider(srv, "", nil)

	_, err := p.Open(context.Background(), types.ChangeEntry{Path: "gone.md"})
	if utils.ErrorCode(err) != utils.ErrCodeFileNotFound {
		t.Errorf("code = %s", utils.ErrorCode(err))
	}
}

func TestHeaderJSON(t *testing.T) {
	got, err := headerJSON(map[string]string{"path": "/café/😀.md"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"path":"/caf\u00e9/\ud83d\ude00.md"}`
	if got != want {
		t.Errorf("headerJSON = %s, want %s", got, want)
	}
	var back map[string]string
	if err := json.Unmarshal([]byte(got), &back); err != nil || back["path"] != "/café/😀.md" {
		t.Errorf("round trip = %v, %v", back, err)
	}
}

func TestNormalizeRoot(t *testing.T) {
	for in, want := range map[string]string{"": "", "/": "", "site": "/site", "/site/": "/site", " /a/b ": "/a/b"} {
		if got := normalizeRoot(in); got != want {
			t.Errorf("normalizeRoot(%q) = %q, want %q", in, got, want)
		}
	}
}
