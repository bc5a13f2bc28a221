package mirror

import "testing"

func TestMatcher_IsExcluded(t *testing.T) {
	m := NewMatcher([]string{"*.tmp", ".git/", "drafts/**", "docs/*.bak", "Thumbs.db", "  "})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"a.tmp", false, true},
		{"deep/nested/a.tmp", false, true},
		{".git", true, true},
		{".git/config", false, true},
		{"drafts/x.md", false, true},
		{"drafts/a/b.md", false, true},
		{"docs/a.bak", false, true},
		{"other/docs/a.bak", false, false},
		{"photos/Thumbs.db", false, true},
		{"Thumbs.db", false, true},
		{"posts/a.md", false, false},
		{"gitx/readme", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.IsExcluded(tt.path, tt.isDir); got != tt.want {
				t.Errorf("IsExcluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_Empty(t *testing.T) {
	var m *Matcher
	if m.IsExcluded("anything", false) {
		t.Error("nil matcher excluded a path")
	}
	if NewMatcher(nil).IsExcluded("a.tmp", false) {
		t.Error("empty matcher excluded a path")
	}
	if got := NewMatcher([]string{"", "./a"}).Patterns(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Patterns = %v", got)
	}
}

func TestMirrorPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.md", "/a.md", false},
		{"posts/./a.md", "/posts/a.md", false},
		{"posts//a.md", "/posts/a.md", false},
		{"../a", "", true},
		{"/abs", "", true},
		{"", "", true},
		{".", "", true},
		{`a\b`, "", true},
	}
	for _, tt := range tests {
		got, err := mirrorPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("mirrorPath(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("mirrorPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
