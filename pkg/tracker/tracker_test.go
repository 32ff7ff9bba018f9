package tracker

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := vectorstore.Open(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, dir), dir
}

func TestCreate_AndFindSimilar(t *testing.T) {
	tr, _ := newTestTracker(t)

	id, err := tr.Create("host1", "nginx not running", "nginx.service entered failed state",
		models.SeverityHigh, "review")
	require.NoError(t, err)

	// Tracker dedup: the same title finds the just-created issue.
	found, err := tr.FindSimilar("host1", "nginx not running")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)

	// Mostly overlapping titles match too.
	found, err = tr.FindSimilar("host1", "nginx not responding")
	require.NoError(t, err)
	require.NotNil(t, found)

	// A different host does not match.
	found, err = tr.FindSimilar("host2", "nginx not running")
	require.NoError(t, err)
	assert.Nil(t, found)

	// An unrelated title does not match.
	found, err = tr.FindSimilar("host1", "disk filling rapidly")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCreate_DeduplicatesSimilar(t *testing.T) {
	tr, _ := newTestTracker(t)

	first, err := tr.Create("host1", "nginx not running", "d1", models.SeverityHigh, "review")
	require.NoError(t, err)
	second, err := tr.Create("host1", "nginx not running again", "d2", models.SeverityHigh, "review")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	issues, err := tr.List("host1")
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestUpdate_LifecycleMonotonic(t *testing.T) {
	tr, _ := newTestTracker(t)
	id, err := tr.Create("host1", "disk filling", "root at 91%", models.SeverityHigh, "trigger")
	require.NoError(t, err)

	require.NoError(t, tr.Update(id, models.IssueInvestigating, "checked df output", ""))
	require.NoError(t, tr.Update(id, models.IssueFixing, "", "vacuumed journal"))

	issue, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.IssueFixing, issue.Status)
	assert.Len(t, issue.Investigations, 1)
	assert.Len(t, issue.Actions, 1)

	// Backwards transitions are rejected.
	assert.Error(t, tr.Update(id, models.IssueOpen, "", ""))

	// resolved -> open is forbidden.
	require.NoError(t, tr.Resolve(id, "cleaned up"))
	assert.Error(t, tr.Update(id, models.IssueOpen, "", ""))
}

func TestClose_OnlyFromResolved(t *testing.T) {
	tr, dir := newTestTracker(t)
	id, err := tr.Create("host1", "disk filling", "root at 91%", models.SeverityHigh, "trigger")
	require.NoError(t, err)

	assert.Error(t, tr.Close(id), "closing an open issue must fail")

	require.NoError(t, tr.Resolve(id, "fixed"))
	require.NoError(t, tr.Close(id))

	// Closed issues are unreachable.
	_, err = tr.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)

	// And archived as one JSON line.
	f, err := os.Open(filepath.Join(dir, "logs", "closed_issues.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var archived models.Issue
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &archived))
	assert.Equal(t, id, archived.ID)
	assert.Equal(t, models.IssueClosed, archived.Status)
	assert.NotNil(t, archived.ClosedAt)
}

func TestAutoResolveIfFixed(t *testing.T) {
	tr, _ := newTestTracker(t)

	id, err := tr.Create("host1", "nginx not running", "nginx.service failed", models.SeverityHigh, "review")
	require.NoError(t, err)

	// The detected problems no longer mention nginx.
	count, err := tr.AutoResolveIfFixed("host1", []string{"disk 91%"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	issue, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.IssueResolved, issue.Status)
	assert.Equal(t, "problem no longer detected", issue.Resolution)
}

func TestAutoResolveIfFixed_StillDetected(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, err := tr.Create("host1", "nginx not running", "nginx.service failed", models.SeverityHigh, "review")
	require.NoError(t, err)

	count, err := tr.AutoResolveIfFixed("host1", []string{"nginx still down"})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
