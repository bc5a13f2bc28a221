// Package contentcache keeps recently served mirror files in memory.
package contentcache

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

// Cache is an LRU of file contents read from the mirror. Invalidate drops
// every entry so the next read sees what the sync engine last wrote.
type Cache struct {
	fs      afero.Fs
	entries *lru.Cache[string, []byte]

	// mu orders stores against Invalidate; a read started before an
	// Invalidate is never stored after it.
	mu         sync.Mutex
	generation uint64
}

// New creates a cache holding at most size files
func New(fs afero.Fs, size int) (*Cache, error) {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create content cache: %w", err)
	}
	return &Cache{fs: fs, entries: entries}, nil
}

// Get returns the content of the mirror file at p. Directories and paths
// outside the mirror report os.ErrNotExist.
func (c *Cache) Get(p string) ([]byte, error) {
	key, ok := cleanKey(p)
	if !ok {
		return nil, os.ErrNotExist
	}
	if data, ok := c.entries.Get(key); ok {
		return data, nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	info, err := c.fs.Stat(key)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, os.ErrNotExist
	}
	data, err := afero.ReadFile(c.fs, key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.generation == gen {
		c.entries.Add(key, data)
	}
	c.mu.Unlock()
	return data, nil
}

// Invalidate empties the cache
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.Purge()
}

// Len returns the number of cached files
func (c *Cache) Len() int {
	return c.entries.Len()
}

func cleanKey(p string) (string, bool) {
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", false
		}
	}
	key := path.Clean("/" + p)
	return key, key != "/"
}
