package contentcache

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

func TestCache_GetAndInvalidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/posts/a.md", []byte("v1"), 0644)

	c, err := New(fs, 4)
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.Get("posts/a.md")
	if err != nil || string(data) != "v1" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	_ = afero.WriteFile(fs, "/posts/a.md", []byte("v2"), 0644)
	if data, _ := c.Get("/posts/a.md"); string(data) != "v1" {
		t.Errorf("cached read = %q, want stale v1 before invalidation", data)
	}

	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("Len after Invalidate = %d", c.Len())
	}
	if data, _ := c.Get("posts/a.md"); string(data) != "v2" {
		t.Errorf("read after Invalidate = %q, want v2", data)
	}
}

func TestCache_Eviction(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"/a", "/b", "/c"} {
		_ = afero.WriteFile(fs, name, []byte(name), 0644)
	}
	c, _ := New(fs, 2)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := c.Get(name); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_NotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/dir", 0755)
	c, _ := New(fs, 2)

	for _, p := range []string{"missing.md", "dir", "../etc/passwd", "", "/"} {
		if _, err := c.Get(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Get(%q) err = %v, want not exist", p, err)
		}
	}
}

func TestNew_InvalidSize(t *testing.T) {
	if _, err := New(afero.NewMemMapFs(), 0); err == nil {
		t.Error("expected error for zero size")
	}
}

// invalidatingFs calls Invalidate on every Open, as if a sync landed mid-read
type invalidatingFs struct {
	afero.Fs
	cache *Cache
}

func (f invalidatingFs) Open(name string) (afero.File, error) {
	f.cache.Invalidate()
	return f.Fs.Open(name)
}

func TestCache_ReadRacingInvalidateIsNotStored(t *testing.T) {
	base := afero.NewMemMapFs()
	_ = afero.WriteFile(base, "/a.md", []byte("v1"), 0644)
	fs := &invalidatingFs{Fs: base}
	c, _ := New(fs, 4)
	fs.cache = c

	if data, err := c.Get("a.md"); err != nil || string(data) != "v1" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, a read overlapping Invalidate must not be cached", c.Len())
	}
}

func TestCache_InvalidateIsNeverUndoneByConcurrentReads(t *testing.T) {
	fs := afero.NewMemMapFs()
	publish := func(v int) {
		_ = afero.WriteFile(fs, "/tmp.md", []byte(fmt.Sprintf("%06d", v)), 0644)
		_ = fs.Rename("/tmp.md", "/a.md")
	}
	publish(0)
	c, _ := New(fs, 4)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = c.Get("a.md")
				}
			}
		}()
	}

	for v := 1; v <= 300; v++ {
		publish(v)
		c.Invalidate()
		data, err := c.Get("a.md")
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := strconv.Atoi(string(data)); got < v {
			t.Errorf("after publishing %d and invalidating, Get = %d", v, got)
			break
		}
	}
	close(stop)
	wg.Wait()
}
