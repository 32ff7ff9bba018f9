package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalogue(t *testing.T, safeMode bool) *Catalogue {
	t.Helper()
	return New(NewCache(filepath.Join(t.TempDir(), "tool_cache")), nil, safeMode)
}

func TestKindNames_RoundTrip(t *testing.T) {
	for _, k := range AllKinds() {
		got, ok := KindByName(k.Name())
		require.True(t, ok, k.Name())
		assert.Equal(t, k, got)
	}
	_, ok := KindByName("rm_everything")
	assert.False(t, ok)
}

func TestDefs_EveryToolHasSchema(t *testing.T) {
	c := newTestCatalogue(t, false)
	defs := c.Defs()
	require.Len(t, defs, len(AllKinds()))
	for _, def := range defs {
		assert.Equal(t, "function", def.Type)
		assert.NotEmpty(t, def.Function.Description, def.Function.Name)
		var schema map[string]any
		require.NoError(t, json.Unmarshal(def.Function.Parameters, &schema), def.Function.Name)
		assert.Equal(t, "object", schema["type"])
	}
}

func TestDispatch_UnknownToolIsStructuredError(t *testing.T) {
	c := newTestCatalogue(t, false)
	res := c.Dispatch(context.Background(), "format_disk", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestExecuteCommand(t *testing.T) {
	c := newTestCatalogue(t, false)
	res := c.Dispatch(context.Background(), "execute_command", map[string]any{
		"command": "echo hello",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello\n", res.Output)
}

func TestExecuteCommand_SafeModeBlocks(t *testing.T) {
	c := newTestCatalogue(t, true)

	res := c.Dispatch(context.Background(), "execute_command", map[string]any{
		"command": "rm -rf /tmp/x",
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not permitted")

	res = c.Dispatch(context.Background(), "execute_command", map[string]any{
		"command": "uptime",
	})
	assert.True(t, res.Success, res.Error)
}

func TestExecuteCommand_Timeout(t *testing.T) {
	c := newTestCatalogue(t, false)
	res := c.Dispatch(context.Background(), "execute_command", map[string]any{
		"command": "sleep 5",
		"timeout": float64(1),
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestReadFile(t *testing.T) {
	c := newTestCatalogue(t, false)
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644))

	res := c.Dispatch(context.Background(), "read_file", map[string]any{
		"path": path, "max_lines": float64(2),
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "line1")
	assert.Contains(t, res.Output, "truncated at 2 lines")
	assert.NotContains(t, res.Output, "line3")
}

func TestReadFile_RefusesNonFile(t *testing.T) {
	c := newTestCatalogue(t, false)
	res := c.Dispatch(context.Background(), "read_file", map[string]any{"path": t.TempDir()})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not a regular file")
}

func TestListDirectory(t *testing.T) {
	c := newTestCatalogue(t, false)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	res := c.Dispatch(context.Background(), "list_directory", map[string]any{"path": dir})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "visible.txt")
	assert.NotContains(t, res.Output, ".hidden")

	res = c.Dispatch(context.Background(), "list_directory", map[string]any{
		"path": dir, "show_hidden": true,
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, ".hidden")
}

func TestCache_PutGetTruncates(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "tool_cache"))

	big := strings.Repeat("a", 500) + "MIDDLE" + strings.Repeat("b", 500)
	id, err := cache.Put("execute_command", big)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "execute_command_"))

	full, err := cache.Get(id, 0)
	require.NoError(t, err)
	assert.Equal(t, big, full)

	truncated, err := cache.Get(id, 100)
	require.NoError(t, err)
	assert.Contains(t, truncated, "[truncated]")
	assert.True(t, strings.HasPrefix(truncated, "aaaa"))
	assert.True(t, strings.HasSuffix(truncated, "bbbb"))
	assert.NotContains(t, truncated, "MIDDLE")
}

func TestRetrieveCachedOutput(t *testing.T) {
	c := newTestCatalogue(t, false)
	id, err := c.Cache().Put("view_logs", "cached log text")
	require.NoError(t, err)

	res := c.Dispatch(context.Background(), "retrieve_cached_output", map[string]any{
		"cache_id": id,
	})
	require.True(t, res.Success)
	assert.Equal(t, "cached log text", res.Output)

	res = c.Dispatch(context.Background(), "retrieve_cached_output", map[string]any{
		"cache_id": "../../etc/passwd",
	})
	assert.False(t, res.Success)
}

func TestSendNotification(t *testing.T) {
	c := newTestCatalogue(t, false)
	res := c.Dispatch(context.Background(), "send_notification", map[string]any{
		"title": "disk filling", "message": "root at 91%",
	})
	assert.True(t, res.Success)

	res = c.Dispatch(context.Background(), "send_notification", map[string]any{
		"title": "no message",
	})
	assert.False(t, res.Success)
}
