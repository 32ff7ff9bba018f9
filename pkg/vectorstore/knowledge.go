package vectorstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/models"
)

// StoreKnowledge indexes a knowledge item by its body. A missing id is
// assigned; the full item rides along in metadata so retrieval does
// not need a second store.
func (s *Store) StoreKnowledge(item *models.KnowledgeItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.LastVerifiedAt.IsZero() {
		item.LastVerifiedAt = item.CreatedAt
	}

	fullDoc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode knowledge item: %w", err)
	}
	return s.Upsert(CollectionKnowledge, item.ID, item.Topic+"\n"+item.Body, map[string]any{
		"category": item.Category,
		"full_doc": string(fullDoc),
	})
}

// QueryKnowledge searches the knowledge collection and returns decoded
// items, best match first. Each returned item's reference count is
// incremented and persisted; failures to persist the bump are ignored.
func (s *Store) QueryKnowledge(query string, k int) ([]models.KnowledgeItem, error) {
	docs, err := s.Query(CollectionKnowledge, query, k, nil)
	if err != nil {
		return nil, err
	}

	items := make([]models.KnowledgeItem, 0, len(docs))
	for _, doc := range docs {
		raw, _ := doc.Metadata["full_doc"].(string)
		if raw == "" {
			continue
		}
		var item models.KnowledgeItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		item.ReferenceCount++
		_ = s.StoreKnowledge(&item)
		items = append(items, item)
	}
	return items, nil
}

// VerifyKnowledge advances last_verified_at on an existing item.
func (s *Store) VerifyKnowledge(id string) error {
	doc, err := s.Get(CollectionKnowledge, id)
	if err != nil {
		return err
	}
	raw, _ := doc.Metadata["full_doc"].(string)
	var item models.KnowledgeItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return fmt.Errorf("failed to decode knowledge item %s: %w", id, err)
	}
	item.LastVerifiedAt = time.Now().UTC()
	return s.StoreKnowledge(&item)
}

// ListKnowledgeTopics returns the distinct topics stored in the
// knowledge collection with an item count per topic.
func (s *Store) ListKnowledgeTopics() (map[string]int, error) {
	docs, err := s.List(CollectionKnowledge, nil)
	if err != nil {
		return nil, err
	}
	topics := make(map[string]int)
	for _, doc := range docs {
		raw, _ := doc.Metadata["full_doc"].(string)
		if raw == "" {
			continue
		}
		var item models.KnowledgeItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		topics[item.Topic]++
	}
	return topics, nil
}
