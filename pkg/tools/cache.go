package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Cache stores raw tool outputs so the model can retrieve the full
// text behind a summary. Writers produce unique ids of the form
// {tool}_{timestamp}, so concurrent writes never collide.
type Cache struct {
	dir string
}

var cacheIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// NewCache prefers dir under the state root; when that is not writable
// it falls back to the process temp directory.
func NewCache(dir string) *Cache {
	if err := os.MkdirAll(dir, 0o755); err == nil {
		if probe, err := os.CreateTemp(dir, ".probe*"); err == nil {
			probe.Close()
			os.Remove(probe.Name())
			return &Cache{dir: dir}
		}
	}
	fallback := filepath.Join(os.TempDir(), "warden_tool_cache")
	_ = os.MkdirAll(fallback, 0o755)
	return &Cache{dir: fallback}
}

// Dir returns the directory the cache writes to.
func (c *Cache) Dir() string { return c.dir }

// Put writes output under a fresh id derived from the tool name and
// the current time, returning the id.
func (c *Cache) Put(tool, output string) (string, error) {
	id := fmt.Sprintf("%s_%d", tool, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(c.dir, id+".txt"), []byte(output), 0o644); err != nil {
		return "", fmt.Errorf("failed to write cache entry: %w", err)
	}
	return id, nil
}

// Get reads a cached output, truncating symmetrically around the
// middle when it exceeds maxChars.
func (c *Cache) Get(id string, maxChars int) (string, error) {
	if !cacheIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid cache id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, id+".txt"))
	if err != nil {
		return "", fmt.Errorf("failed to read cache entry: %w", err)
	}
	text := string(data)
	if maxChars <= 0 || len(text) <= maxChars {
		return text, nil
	}
	head := maxChars / 2
	tail := maxChars - head
	return text[:head] + "\n... [truncated] ...\n" + text[len(text)-tail:], nil
}
