// Package mirror applies remote change entries to the local mirror directory.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/spf13/afero"
)

const (
	dirMode  = 0755
	fileMode = 0644
	tempGlob = ".cloudmirror-*"
)

// ErrUnsafePath marks entries whose path would escape the mirror root
var ErrUnsafePath = errors.New("path escapes mirror root")

// ContentSource fetches the full content of a file entry
type ContentSource interface {
	Open(ctx context.Context, entry types.ChangeEntry) (io.ReadCloser, error)
}

// Status is the outcome of applying one entry
type Status string

const (
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome records what happened to one entry
type Outcome struct {
	Entry  types.ChangeEntry
	Status Status
	Bytes  int64
	Err    error
}

// Result aggregates the outcomes of one Apply call
type Result struct {
	Applied  int
	Failed   int
	Skipped  int
	Bytes    int64
	Outcomes []Outcome
}

// Errors returns the per-entry failures joined into one error, or nil
func (r Result) Errors() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed && o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Entry.Path, o.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Result) add(o Outcome) {
	switch o.Status {
	case StatusApplied:
		r.Applied++
		r.Bytes += o.Bytes
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Writer owns the mirror tree. fs must be rooted at the mirror directory,
// normally an afero.BasePathFs over the OS filesystem.
type Writer struct {
	fs      afero.Fs
	source  ContentSource
	exclude *Matcher
	logger  logging.Logger
}

// Options configures a Writer
type Options struct {
	Exclude []string
	Logger  logging.Logger
}

// NewWriter creates a writer that fetches file content from source
func NewWriter(fs afero.Fs, source ContentSource, opts Options) *Writer {
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Writer{
		fs:      fs,
		source:  source,
		exclude: NewMatcher(opts.Exclude),
		logger:  opts.Logger,
	}
}

// NewOsWriter creates a writer for the mirror rooted at root on the OS filesystem
func NewOsWriter(root string, source ContentSource, opts Options) *Writer {
	return NewWriter(afero.NewBasePathFs(afero.NewOsFs(), root), source, opts)
}

// ClearAll removes every child of the mirror root and leaves the root in place.
// Excluded top-level entries survive.
func (w *Writer) ClearAll() error {
	if err := w.fs.MkdirAll("/", dirMode); err != nil {
		return fmt.Errorf("failed to create mirror root: %w", err)
	}
	children, err := afero.ReadDir(w.fs, "/")
	if err != nil {
		return fmt.Errorf("failed to list mirror root: %w", err)
	}

	var errs []error
	for _, child := range children {
		if w.exclude.IsExcluded(child.Name(), child.IsDir()) {
			continue
		}
		if err := w.fs.RemoveAll("/" + child.Name()); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", child.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Apply applies every entry independently; a failing entry never stops the rest.
func (w *Writer) Apply(ctx context.Context, entries []types.ChangeEntry) Result {
	logger := w.logger.WithContext(ctx)
	var result Result

	for _, entry := range entries {
		outcome := w.applyOne(ctx, entry)
		switch outcome.Status {
		case StatusFailed:
			logger.Warn("Failed to apply change",
				logging.F("path", entry.Path),
				logging.F("kind", entry.Kind.String()),
				logging.F("operation", entry.Operation.String()),
				logging.F("error", outcome.Err.Error()),
			)
		case StatusSkipped:
			reason := "excluded"
			if outcome.Err != nil {
				reason = outcome.Err.Error()
			}
			logger.Debug("Skipped change",
				logging.F("path", entry.Path),
				logging.F("reason", reason),
			)
		}
		result.add(outcome)
	}
	return result
}

func (w *Writer) applyOne(ctx context.Context, entry types.ChangeEntry) Outcome {
	target, err := mirrorPath(entry.Path)
	if err != nil {
		return Outcome{Entry: entry, Status: StatusSkipped, Err: err}
	}
	if w.exclude.IsExcluded(target[1:], entry.Kind == types.KindDirectory) {
		return Outcome{Entry: entry, Status: StatusSkipped}
	}

	if entry.IsRemoval() {
		targets := []string{target}
		if entry.CaseFolded {
			targets = w.foldedMatches(target)
		}
		for _, t := range targets {
			if err := w.fs.RemoveAll(t); err != nil {
				return Outcome{Entry: entry, Status: StatusFailed, Err: err}
			}
		}
		return Outcome{Entry: entry, Status: StatusApplied}
	}

	switch entry.Kind {
	case types.KindDirectory:
		if err := w.ensureDir(target); err != nil {
			return Outcome{Entry: entry, Status: StatusFailed, Err: err}
		}
		return Outcome{Entry: entry, Status: StatusApplied}
	case types.KindFile:
		n, err := w.writeFile(ctx, target, entry)
		if err != nil {
			return Outcome{Entry: entry, Status: StatusFailed, Err: err}
		}
		return Outcome{Entry: entry, Status: StatusApplied, Bytes: n}
	default:
		return Outcome{Entry: entry, Status: StatusFailed, Err: fmt.Errorf("unknown entry kind %d", entry.Kind)}
	}
}

// foldedMatches returns the local paths equal to target ignoring case
func (w *Writer) foldedMatches(target string) []string {
	if _, err := w.fs.Stat(target); err == nil {
		return []string{target}
	}
	matches := []string{"/"}
	for _, segment := range strings.Split(target[1:], "/") {
		var next []string
		for _, dir := range matches {
			infos, err := afero.ReadDir(w.fs, dir)
			if err != nil {
				continue
			}
			for _, info := range infos {
				if strings.EqualFold(info.Name(), segment) {
					next = append(next, path.Join(dir, info.Name()))
				}
			}
		}
		matches = next
	}
	return matches
}

// ensureDir creates target, replacing any file occupying it or one of its parents
func (w *Writer) ensureDir(target string) error {
	if err := w.clearFileAncestors(target); err != nil {
		return err
	}
	info, err := w.fs.Stat(target)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		if err := w.fs.Remove(target); err != nil {
			return fmt.Errorf("failed to replace file with directory: %w", err)
		}
	}
	return w.fs.MkdirAll(target, dirMode)
}

// writeFile streams the entry content to a temp file next to target and
// renames it into place, so readers never see a half-written file.
func (w *Writer) writeFile(ctx context.Context, target string, entry types.ChangeEntry) (int64, error) {
	if w.source == nil {
		return 0, errors.New("no content source configured")
	}
	dir := path.Dir(target)
	if err := w.ensureDir(dir); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if info, err := w.fs.Stat(target); err == nil && info.IsDir() {
		if err := w.fs.RemoveAll(target); err != nil {
			return 0, fmt.Errorf("failed to replace directory with file: %w", err)
		}
	}

	body, err := w.source.Open(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch content: %w", err)
	}
	defer body.Close()

	tmp, err := afero.TempFile(w.fs, dir, tempGlob)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = w.fs.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("failed to download content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := w.fs.Chmod(tmpName, fileMode); err != nil {
		return 0, err
	}
	if !entry.ModifiedTime.IsZero() {
		_ = w.fs.Chtimes(tmpName, entry.ModifiedTime, entry.ModifiedTime)
	}
	if err := w.fs.Rename(tmpName, target); err != nil {
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}
	committed = true
	return n, nil
}

// clearFileAncestors removes regular files sitting where a parent directory of target must go
func (w *Writer) clearFileAncestors(target string) error {
	parts := strings.Split(strings.TrimPrefix(target, "/"), "/")
	current := ""
	for _, part := range parts[:len(parts)-1] {
		current += "/" + part
		info, err := w.fs.Stat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			if err := w.fs.Remove(current); err != nil {
				return fmt.Errorf("failed to replace file with directory: %w", err)
			}
			return nil
		}
	}
	return nil
}

// mirrorPath turns an entry path into a rooted, cleaned path inside the mirror
func mirrorPath(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
		}
	}
	cleaned := path.Clean("/" + rel)
	if cleaned == "/" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return cleaned, nil
}
