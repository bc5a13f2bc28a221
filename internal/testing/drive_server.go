package testing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var (
	parentQuery = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)' in parents`)
	nameQuery   = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)
)

// DriveServer is an in-memory Drive v3 API behind httptest. It serves the
// calls a folder mirror makes: files.get (metadata and alt=media), files.list
// by parent or by folder name, and the changes feed.
type DriveServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]*drive.File
	content  map[string]string
	order    []string
	changes  []*drive.Change
	token    int
	PageSize int
	// ChangesPageSize splits the changes feed into pages; 0 means one page.
	ChangesPageSize int
	// Fail makes a request path answer with the given status.
	Fail map[string]int
	// Requests counts calls per URL path.
	Requests map[string]int
}

// NewDriveServer starts a fake Drive server closed with t.Cleanup
func NewDriveServer(t *testing.T) *DriveServer {
	t.Helper()
	s := &DriveServer{
		files:    make(map[string]*drive.File),
		content:  make(map[string]string),
		PageSize: 2,
		Fail:     make(map[string]int),
		Requests: make(map[string]int),
		token:    1,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Service returns a Drive client pointed at the fake server
func (s *DriveServer) Service(t *testing.T) *drive.Service {
	t.Helper()
	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(s.URL+"/"),
		option.WithHTTPClient(s.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService: %v", err)
	}
	return svc
}

// AddFolder registers a folder under parent ("" for none)
func (s *DriveServer) AddFolder(id, name, parent string) {
	s.add(TestFolder(id, name), parent, "")
}

// AddFile registers a file with content under parent
func (s *DriveServer) AddFile(id, name, parent, mimeType, content string) {
	s.add(&drive.File{
		Id:           id,
		Name:         name,
		MimeType:     mimeType,
		Size:         int64(len(content)),
		ModifiedTime: "2024-05-01T10:00:00Z",
	}, parent, content)
}

// Trash marks a file trashed
func (s *DriveServer) Trash(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[id]; ok {
		f.Trashed = true
	}
}

// RecordChange appends an entry to the changes feed
func (s *DriveServer) RecordChange(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, &drive.Change{FileId: fileID})
	s.token++
}

func (s *DriveServer) add(f *drive.File, parent, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if parent != "" {
		f.Parents = []string{parent}
	}
	s.files[f.Id] = f
	s.content[f.Id] = content
	s.order = append(s.order, f.Id)
}

func (s *DriveServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	s.Requests[p]++
	if status, ok := s.Fail[p]; ok {
		writeError(w, status, "injected")
		return
	}

	switch {
	case p == "files":
		s.list(w, r)
	case strings.HasPrefix(p, "files/"):
		s.get(w, r, strings.TrimPrefix(p, "files/"))
	case p == "changes/startPageToken":
		writeJSON(w, map[string]string{"startPageToken": strconv.Itoa(s.token)})
	case p == "changes":
		s.listChanges(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown path "+p)
	}
}

func (s *DriveServer) get(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := s.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	if r.URL.Query().Get("alt") == "media" {
		_, _ = w.Write([]byte(s.content[id]))
		return
	}
	writeJSON(w, f)
}

func (s *DriveServer) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var matched []*drive.File
	for _, id := range s.order {
		f := s.files[id]
		if strings.Contains(q, "trashed = false") && f.Trashed {
			continue
		}
		if m := parentQuery.FindStringSubmatch(q); m != nil {
			if len(f.Parents) == 0 || f.Parents[0] != unescape(m[1]) {
				continue
			}
		}
		if m := nameQuery.FindStringSubmatch(q); m != nil {
			if f.Name != unescape(m[1]) || f.MimeType != "application/vnd.google-apps.folder" {
				continue
			}
		}
		matched = append(matched, f)
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	end := len(matched)
	next := ""
	if s.PageSize > 0 && start+s.PageSize < end {
		end = start + s.PageSize
		next = strconv.Itoa(end)
	}
	if start > len(matched) {
		start = len(matched)
	}
	writeJSON(w, &drive.FileList{Files: matched[start:end], NextPageToken: next})
}

func (s *DriveServer) listChanges(w http.ResponseWriter, r *http.Request) {
	// Token n resumes at the n-th recorded change, counting from one.
	from, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	start := min(max(from-1, 0), len(s.changes))
	end := len(s.changes)
	if s.ChangesPageSize > 0 && start+s.ChangesPageSize < end {
		end = start + s.ChangesPageSize
		writeJSON(w, &drive.ChangeList{Changes: s.changes[start:end], NextPageToken: strconv.Itoa(end + 1)})
		return
	}
	writeJSON(w, &drive.ChangeList{Changes: s.changes[start:end], NewStartPageToken: strconv.Itoa(s.token)})
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\'`, "'")
	return strings.ReplaceAll(s, `\\`, `\`)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": msg,
			"errors":  []map[string]string{{"reason": reasonFor(status), "message": msg}},
		},
	})
}

func reasonFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "notFound"
	case http.StatusUnauthorized:
		return "authError"
	case http.StatusForbidden:
		return "forbidden"
	default:
		return "backendError"
	}
}
