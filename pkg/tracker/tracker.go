// Package tracker deduplicates problem reports into stable issues and
// walks them through their lifecycle.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

// ErrNotFound indicates no live issue exists with the given id.
var ErrNotFound = errors.New("issue not found")

// similarityThreshold is the fraction of candidate title tokens that
// must appear in an existing title for the two to be the same problem.
const similarityThreshold = 0.5

// Tracker owns the live issue store. Status transitions are serialised
// by a single mutex.
type Tracker struct {
	mu          sync.Mutex
	store       *vectorstore.Store
	archivePath string
	now         func() time.Time
}

// New creates a tracker persisting live issues in the vector store and
// archiving closed ones under stateDir/logs/closed_issues.jsonl.
func New(store *vectorstore.Store, stateDir string) *Tracker {
	return &Tracker{
		store:       store,
		archivePath: filepath.Join(stateDir, "logs", "closed_issues.jsonl"),
		now:         time.Now,
	}
}

// Create opens a new issue, or returns the existing one when a similar
// open issue for the host is already tracked.
func (t *Tracker) Create(host, title, description string, severity models.Severity, source string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, err := t.findSimilarLocked(host, title); err == nil && existing != nil {
		slog.Debug("Similar issue already open", "issue_id", existing.ID, "title", title)
		return existing.ID, nil
	}

	now := t.now().UTC()
	issue := &models.Issue{
		ID:          uuid.NewString(),
		Host:        host,
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      models.IssueOpen,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.putLocked(issue); err != nil {
		return "", err
	}
	slog.Info("Issue created", "issue_id", issue.ID, "host", host, "title", title)
	return issue.ID, nil
}

// Get returns a live issue by id. Closed issues are unreachable.
func (t *Tracker) Get(id string) (*models.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(id)
}

// FindSimilar looks for an open issue on host whose title covers more
// than half of the candidate title's tokens.
func (t *Tracker) FindSimilar(host, title string) (*models.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findSimilarLocked(host, title)
}

func (t *Tracker) findSimilarLocked(host, title string) (*models.Issue, error) {
	issues, err := t.listLocked(host)
	if err != nil {
		return nil, err
	}
	candidate := titleTokens(title)
	if len(candidate) == 0 {
		return nil, nil
	}

	for _, issue := range issues {
		if issue.Status == models.IssueResolved || issue.Status == models.IssueClosed {
			continue
		}
		existing := make(map[string]bool)
		for _, tok := range titleTokens(issue.Title) {
			existing[tok] = true
		}
		matched := 0
		for _, tok := range candidate {
			if existing[tok] {
				matched++
			}
		}
		if float64(matched)/float64(len(candidate)) > similarityThreshold {
			return issue, nil
		}
	}
	return nil, nil
}

func titleTokens(title string) []string {
	return strings.Fields(strings.ToLower(title))
}

// Update applies a status transition and/or appends investigation and
// action notes. A zero status leaves the status alone.
func (t *Tracker) Update(id string, status models.IssueStatus, investigation, action string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue, err := t.getLocked(id)
	if err != nil {
		return err
	}

	if status != "" && status != issue.Status {
		if err := models.ValidateIssueTransition(issue.Status, status); err != nil {
			return err
		}
		issue.Status = status
	}
	now := t.now().UTC()
	if investigation != "" {
		issue.Investigations = append(issue.Investigations, models.IssueNote{Time: now, Text: investigation})
	}
	if action != "" {
		issue.Actions = append(issue.Actions, models.IssueNote{Time: now, Text: action})
	}
	issue.UpdatedAt = now
	return t.putLocked(issue)
}

// Resolve marks the issue resolved with a resolution note.
func (t *Tracker) Resolve(id, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveLocked(id, note)
}

func (t *Tracker) resolveLocked(id, note string) error {
	issue, err := t.getLocked(id)
	if err != nil {
		return err
	}
	if err := models.ValidateIssueTransition(issue.Status, models.IssueResolved); err != nil {
		return err
	}
	issue.Status = models.IssueResolved
	issue.Resolution = note
	issue.UpdatedAt = t.now().UTC()
	slog.Info("Issue resolved", "issue_id", id, "note", note)
	return t.putLocked(issue)
}

// Close archives a resolved issue and evicts it from the live store.
// Closure is terminal. Archive failures are logged, never fatal.
func (t *Tracker) Close(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue, err := t.getLocked(id)
	if err != nil {
		return err
	}
	if err := models.ValidateIssueTransition(issue.Status, models.IssueClosed); err != nil {
		return err
	}
	now := t.now().UTC()
	issue.Status = models.IssueClosed
	issue.ClosedAt = &now
	issue.UpdatedAt = now

	if err := t.archive(issue); err != nil {
		slog.Warn("Failed to archive closed issue", "issue_id", id, "error", err)
	}
	if err := t.store.Delete(vectorstore.CollectionIssues, id); err != nil {
		return fmt.Errorf("failed to evict closed issue: %w", err)
	}
	slog.Info("Issue closed", "issue_id", id)
	return nil
}

func (t *Tracker) archive(issue *models.Issue) error {
	if err := os.MkdirAll(filepath.Dir(t.archivePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.archivePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(issue)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// AutoResolveIfFixed resolves every open issue on host whose title and
// description tokens no longer appear in any detected-problem string.
// Returns the number resolved.
func (t *Tracker) AutoResolveIfFixed(host string, detected []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	issues, err := t.listLocked(host)
	if err != nil {
		return 0, err
	}

	detectedWords := make(map[string]bool)
	for _, d := range detected {
		for _, w := range strings.Fields(strings.ToLower(d)) {
			detectedWords[w] = true
		}
	}

	resolved := 0
	for _, issue := range issues {
		if issue.Status == models.IssueResolved || issue.Status == models.IssueClosed {
			continue
		}
		stillDetected := false
		for _, tok := range strings.Fields(strings.ToLower(issue.Title + " " + issue.Description)) {
			if detectedWords[tok] {
				stillDetected = true
				break
			}
		}
		if stillDetected {
			continue
		}
		if err := t.resolveLocked(issue.ID, "problem no longer detected"); err != nil {
			slog.Warn("Auto-resolve failed", "issue_id", issue.ID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// List returns all live issues on host, open first.
func (t *Tracker) List(host string) ([]*models.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(host)
}

func (t *Tracker) listLocked(host string) ([]*models.Issue, error) {
	docs, err := t.store.List(vectorstore.CollectionIssues, map[string]any{"host": host})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	issues := make([]*models.Issue, 0, len(docs))
	for _, doc := range docs {
		issue, err := decodeIssue(&doc)
		if err != nil {
			slog.Warn("Skipping undecodable issue", "id", doc.ID, "error", err)
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (t *Tracker) getLocked(id string) (*models.Issue, error) {
	doc, err := t.store.Get(vectorstore.CollectionIssues, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return decodeIssue(doc)
}

func (t *Tracker) putLocked(issue *models.Issue) error {
	fullDoc, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to encode issue: %w", err)
	}
	err = t.store.Upsert(vectorstore.CollectionIssues, issue.ID,
		issue.Title+"\n"+issue.Description, map[string]any{
			"host":     issue.Host,
			"status":   string(issue.Status),
			"full_doc": string(fullDoc),
		})
	if err != nil {
		return fmt.Errorf("failed to persist issue: %w", err)
	}
	return nil
}

func decodeIssue(doc *vectorstore.Document) (*models.Issue, error) {
	raw, _ := doc.Metadata["full_doc"].(string)
	if raw == "" {
		return nil, fmt.Errorf("issue %s has no full_doc", doc.ID)
	}
	var issue models.Issue
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}
