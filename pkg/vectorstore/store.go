package vectorstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Collection names the store serves. Ids are stable per collection:
// hostname for systems, UUID for issues/decisions/knowledge, relative
// path for config files.
const (
	CollectionSystems       = "systems"
	CollectionRelationships = "relationships"
	CollectionIssues        = "issues"
	CollectionDecisions     = "decisions"
	CollectionConfigFiles   = "config_files"
	CollectionKnowledge     = "knowledge"
)

// ErrNotFound indicates no document exists for the given id.
var ErrNotFound = errors.New("document not found")

// Document is one stored record with its metadata and relevance when
// returned from a query.
type Document struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Relevance float64        `json:"relevance,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is a SQLite-backed vector store. Embeddings are computed
// locally; similarity search scans the collection and ranks by cosine
// relevance.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path. The schema is
// migrated on first use. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    document   TEXT NOT NULL,
    metadata   TEXT,
    embedding  BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate vector store schema: %w", err)
	}
	return nil
}

// Upsert stores or replaces a document, recomputing its embedding.
func (s *Store) Upsert(collection, id, text string, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	_, err := s.db.Exec(`
INSERT INTO documents (collection, id, document, metadata, embedding, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET
    document = excluded.document,
    metadata = excluded.metadata,
    embedding = excluded.embedding,
    updated_at = excluded.updated_at`,
		collection, id, text, metaJSON, encodeVector(embed(text)), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get fetches one document by id.
func (s *Store) Get(collection, id string) (*Document, error) {
	row := s.db.QueryRow(`
SELECT id, document, metadata, updated_at FROM documents
WHERE collection = ? AND id = ?`, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return doc, err
}

// Delete removes one document; removing a missing document is not an error.
func (s *Store) Delete(collection, id string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query runs a semantic search over the collection. filters, when
// non-nil, require exact matches on metadata keys. Results carry a
// relevance score in [0,1], best first.
func (s *Store) Query(collection, text string, k int, filters map[string]any) ([]Document, error) {
	if k <= 0 {
		k = 5
	}
	query := embed(text)

	var (
		rows *sql.Rows
		err  error
	)
	if vecRanking {
		rows, err = s.db.Query(`
SELECT id, document, metadata, vec_distance_cosine(embedding, ?) AS distance, updated_at
FROM documents
WHERE collection = ?
ORDER BY distance`, encodeVector(query), collection)
	} else {
		rows, err = s.db.Query(`
SELECT id, document, metadata, embedding, updated_at FROM documents
WHERE collection = ?`, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var (
			doc      Document
			metaJSON sql.NullString
		)
		if vecRanking {
			// Cosine distance is 1 - similarity for unit vectors.
			var distance float64
			if err := rows.Scan(&doc.ID, &doc.Text, &metaJSON, &distance, &doc.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan document: %w", err)
			}
			doc.Relevance = clampRelevance(1 - distance)
		} else {
			var embedding []byte
			if err := rows.Scan(&doc.ID, &doc.Text, &metaJSON, &embedding, &doc.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan document: %w", err)
			}
			doc.Relevance = cosineRelevance(query, decodeVector(embedding))
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
				slog.Warn("Skipping document with corrupt metadata",
					"collection", collection, "id", doc.ID, "error", err)
				continue
			}
		}
		if !matchesFilters(doc.Metadata, filters) {
			continue
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collection %s: %w", collection, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// List returns every document in the collection matching the filters,
// in id order. No similarity ranking is applied.
func (s *Store) List(collection string, filters map[string]any) ([]Document, error) {
	rows, err := s.db.Query(`
SELECT id, document, metadata, updated_at FROM documents
WHERE collection = ?
ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var (
			doc      Document
			metaJSON sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &metaJSON, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
				continue
			}
		}
		if !matchesFilters(doc.Metadata, filters) {
			continue
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

func matchesFilters(metadata, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func scanDocument(row *sql.Row) (*Document, error) {
	var (
		doc      Document
		metaJSON sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Text, &metaJSON, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &doc, nil
}
