package mirror

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides which mirror paths the writer must never touch.
//
// Pattern forms:
//   - "drafts/" excludes a directory and everything below it
//   - "**/*.tmp" and other globs match the slash-separated relative path
//   - a glob without a slash, e.g. "*.swp", also matches the base name at any depth
//   - a plain name matches that path, or that base name for files
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher, ignoring blank patterns
func NewMatcher(patterns []string) *Matcher {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		cleaned = append(cleaned, strings.TrimPrefix(p, "./"))
	}
	return &Matcher{patterns: cleaned}
}

// Patterns returns the active patterns
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// IsExcluded reports whether relPath is excluded
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	relPath = strings.TrimPrefix(strings.TrimPrefix(relPath, "./"), "/")
	base := path.Base(relPath)

	for _, p := range m.patterns {
		if strings.HasSuffix(p, "/") {
			dirPattern := strings.TrimSuffix(p, "/")
			if relPath == dirPattern || strings.HasPrefix(relPath, dirPattern+"/") {
				return true
			}
			if ok, _ := doublestar.Match(dirPattern+"/**", relPath); ok && isGlob(dirPattern) {
				return true
			}
			continue
		}
		if isGlob(p) {
			if ok, _ := doublestar.Match(p, relPath); ok {
				return true
			}
			if !strings.Contains(p, "/") {
				if ok, _ := doublestar.Match(p, base); ok {
					return true
				}
			}
			continue
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if !isDir && base == p {
			return true
		}
	}
	return false
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
