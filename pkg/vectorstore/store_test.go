package vectorstore

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	err := s.Upsert(CollectionSystems, "host1", "web server running nginx", map[string]any{
		"os": "nixos",
	})
	require.NoError(t, err)

	doc, err := s.Get(CollectionSystems, "host1")
	require.NoError(t, err)
	assert.Equal(t, "web server running nginx", doc.Text)
	assert.Equal(t, "nixos", doc.Metadata["os"])

	// Upsert replaces in place.
	require.NoError(t, s.Upsert(CollectionSystems, "host1", "database server", nil))
	doc, err = s.Get(CollectionSystems, "host1")
	require.NoError(t, err)
	assert.Equal(t, "database server", doc.Text)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(CollectionIssues, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_QueryRanksByRelevance(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Upsert(CollectionIssues, "a", "nginx service keeps crashing with segfault", nil))
	require.NoError(t, s.Upsert(CollectionIssues, "b", "disk usage grew past ninety percent on root", nil))
	require.NoError(t, s.Upsert(CollectionIssues, "c", "scheduled backup completed successfully", nil))

	results, err := s.Query(CollectionIssues, "nginx service crashing", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.LessOrEqual(t, len(results), 2)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Relevance, 0.0)
		assert.LessOrEqual(t, r.Relevance, 1.0)
	}
}

func TestStore_QueryWithFilters(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Upsert(CollectionIssues, "a", "disk filling on web host",
		map[string]any{"host": "web1"}))
	require.NoError(t, s.Upsert(CollectionIssues, "b", "disk filling on db host",
		map[string]any{"host": "db1"}))

	results, err := s.Query(CollectionIssues, "disk filling", 5, map[string]any{"host": "db1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Upsert(CollectionDecisions, "d1", "restarted nginx", nil))
	require.NoError(t, s.Delete(CollectionDecisions, "d1"))
	_, err := s.Get(CollectionDecisions, "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(CollectionDecisions, "d1"))
}

func TestKnowledge_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	item := &models.KnowledgeItem{
		Topic:      "nginx restarts",
		Body:       "Restarting nginx clears stuck worker processes after log rotation",
		Category:   "remediation",
		Source:     "meta",
		Confidence: models.ConfidenceMedium,
	}
	require.NoError(t, s.StoreKnowledge(item))
	require.NotEmpty(t, item.ID)

	found, err := s.QueryKnowledge("nginx stuck workers", 3)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, item.ID, found[0].ID)
	assert.Equal(t, 1, found[0].ReferenceCount)

	// A second query sees the bumped reference count.
	found, err = s.QueryKnowledge("nginx stuck workers", 3)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, 2, found[0].ReferenceCount)
}

func TestKnowledge_ListTopics(t *testing.T) {
	s := newTestStore(t)

	for _, item := range []*models.KnowledgeItem{
		{Topic: "nginx restarts", Body: "body one", Category: "remediation"},
		{Topic: "nginx restarts", Body: "body two", Category: "remediation"},
		{Topic: "disk pressure", Body: "body three", Category: "diagnosis"},
	} {
		require.NoError(t, s.StoreKnowledge(item))
	}

	topics, err := s.ListKnowledgeTopics()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"nginx restarts": 2,
		"disk pressure":  1,
	}, topics)
}

func TestClampRelevance(t *testing.T) {
	// The SQL ranking path maps vec_distance_cosine through the same
	// clamp, so distances past [0,2] and NaN both degrade to 0 or 1.
	assert.Equal(t, 0.0, clampRelevance(math.NaN()))
	assert.Equal(t, 0.0, clampRelevance(-0.2))
	assert.Equal(t, 1.0, clampRelevance(1.3))
	assert.InDelta(t, 0.7, clampRelevance(0.7), 1e-9)
}

func TestEmbed_Deterministic(t *testing.T) {
	a := embed("disk is nearly full")
	b := embed("disk is nearly full")
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosineRelevance(a, b), 1e-6)

	c := embed("completely unrelated text about butterflies")
	assert.Less(t, cosineRelevance(a, c), 0.5)
}
