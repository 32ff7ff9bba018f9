package llmqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

// Queue directory names; a request lives in exactly one at a time.
const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirFailed     = "failed"
)

// Sentinel errors for queue operations.
var (
	// ErrDuplicate indicates an equivalent autonomous request is
	// already pending or processing.
	ErrDuplicate = errors.New("equivalent request already in progress")

	// ErrNotFound indicates no request file exists for the given id.
	ErrNotFound = errors.New("request not found")

	// ErrWaitTimeout indicates the caller's deadline passed before the
	// request completed.
	ErrWaitTimeout = errors.New("timed out waiting for request")
)

// Queue is a file-backed priority queue of LLM requests. Each request
// is one JSON file; its lifecycle is a sequence of atomic renames
// between the four directories.
type Queue struct {
	root string
}

// Open prepares a queue rooted at dir, creating the four state
// directories if needed.
func Open(dir string) (*Queue, error) {
	for _, sub := range []string{dirPending, dirProcessing, dirCompleted, dirFailed} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}
	return &Queue{root: dir}, nil
}

// Root returns the queue's base directory.
func (q *Queue) Root() string { return q.root }

// newID builds a request id that encodes submission time and priority.
// Requests are served in priority order, ties broken by submission time.
func newID(priority models.Priority) string {
	return fmt.Sprintf("%d_%d", time.Now().UnixMicro(), priority)
}

// parseID extracts the submission micros and priority from an id.
func parseID(id string) (micros int64, priority models.Priority, ok bool) {
	us, pr, found := strings.Cut(id, "_")
	if !found {
		return 0, 0, false
	}
	m, err := strconv.ParseInt(us, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.Atoi(pr)
	if err != nil {
		return 0, 0, false
	}
	return m, models.Priority(p), true
}

// Submit writes a new request into pending/ and returns its id.
// Autonomous requests are coalesced: if any request of the same
// priority is already pending or processing, ErrDuplicate is returned
// and nothing is written.
func (q *Queue) Submit(req *models.LLMRequest) (string, error) {
	if req.Priority == models.PriorityAutonomous {
		inFlight, err := q.hasPriorityInFlight(models.PriorityAutonomous)
		if err != nil {
			return "", err
		}
		if inFlight {
			return "", ErrDuplicate
		}
	}

	req.ID = newID(req.Priority)
	req.Status = models.RequestPending
	req.SubmittedAt = time.Now().UTC()

	if err := q.write(dirPending, req); err != nil {
		return "", err
	}
	slog.Debug("Request submitted", "request_id", req.ID, "kind", req.Kind, "priority", req.Priority)
	return req.ID, nil
}

// hasPriorityInFlight scans pending and processing for any request of
// the given priority.
func (q *Queue) hasPriorityInFlight(priority models.Priority) (bool, error) {
	for _, sub := range []string{dirPending, dirProcessing} {
		ids, err := q.list(sub)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			if _, p, ok := parseID(id); ok && p == priority {
				return true, nil
			}
		}
	}
	return false, nil
}

// Status reports which state directory holds the request.
func (q *Queue) Status(id string) (models.RequestStatus, error) {
	for sub, status := range map[string]models.RequestStatus{
		dirPending:    models.RequestPending,
		dirProcessing: models.RequestProcessing,
		dirCompleted:  models.RequestCompleted,
		dirFailed:     models.RequestFailed,
	} {
		if _, err := os.Stat(q.path(sub, id)); err == nil {
			return status, nil
		}
	}
	return "", ErrNotFound
}

// Get loads the full request record from whichever directory holds it.
func (q *Queue) Get(id string) (*models.LLMRequest, error) {
	for _, sub := range []string{dirCompleted, dirFailed, dirProcessing, dirPending} {
		req, err := q.read(sub, id)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// ProgressFunc receives status transitions while waiting on a request.
type ProgressFunc func(id string, status models.RequestStatus)

// Wait polls until the request completes or fails, reporting status
// transitions through progress (which may be nil). It returns
// ErrWaitTimeout once the deadline passes.
func (q *Queue) Wait(id string, timeout time.Duration, progress ProgressFunc) (*models.LLMRequest, error) {
	const pollInterval = 500 * time.Millisecond

	deadline := time.Now().Add(timeout)
	var lastStatus models.RequestStatus
	for {
		status, err := q.Status(id)
		if err != nil {
			return nil, err
		}
		if status != lastStatus {
			lastStatus = status
			if progress != nil {
				progress(id, status)
			}
		}
		if status == models.RequestCompleted || status == models.RequestFailed {
			return q.Get(id)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, id, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// nextPending returns the id of the best pending request, ordered by
// priority then submission time, or "" when the queue is empty.
func (q *Queue) nextPending() (string, error) {
	ids, err := q.list(dirPending)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Slice(ids, func(i, j int) bool {
		mi, pi, oki := parseID(ids[i])
		mj, pj, okj := parseID(ids[j])
		if !oki || !okj {
			return ids[i] < ids[j]
		}
		if pi != pj {
			return pi < pj
		}
		return mi < mj
	})
	return ids[0], nil
}

// claim atomically moves a pending request into processing/.
func (q *Queue) claim(id string) (*models.LLMRequest, error) {
	if err := os.Rename(q.path(dirPending, id), q.path(dirProcessing, id)); err != nil {
		return nil, fmt.Errorf("failed to claim request %s: %w", id, err)
	}
	req, err := q.read(dirProcessing, id)
	if err != nil {
		return nil, err
	}
	req.Status = models.RequestProcessing
	if err := q.write(dirProcessing, req); err != nil {
		return nil, err
	}
	return req, nil
}

// finish writes the final record and moves the request out of
// processing/ into completed/ or failed/.
func (q *Queue) finish(req *models.LLMRequest) error {
	dest := dirCompleted
	req.Status = models.RequestCompleted
	if req.Error != "" {
		dest = dirFailed
		req.Status = models.RequestFailed
	}
	if err := q.write(dirProcessing, req); err != nil {
		return err
	}
	if err := os.Rename(q.path(dirProcessing, req.ID), q.path(dest, req.ID)); err != nil {
		return fmt.Errorf("failed to finish request %s: %w", req.ID, err)
	}
	return nil
}

// Evict removes completed and failed requests older than maxAge.
func (q *Queue) Evict(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, sub := range []string{dirCompleted, dirFailed} {
		ids, err := q.list(sub)
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			micros, _, ok := parseID(id)
			if !ok {
				continue
			}
			if time.UnixMicro(micros).Before(cutoff) {
				if err := os.Remove(q.path(sub, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
					slog.Warn("Failed to evict request", "request_id", id, "error", err)
					continue
				}
				removed++
			}
		}
	}
	return removed, nil
}

func (q *Queue) path(sub, id string) string {
	return filepath.Join(q.root, sub, id+".json")
}

func (q *Queue) list(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, sub))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", sub, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (q *Queue) read(sub, id string) (*models.LLMRequest, error) {
	data, err := os.ReadFile(q.path(sub, id))
	if err != nil {
		return nil, err
	}
	var req models.LLMRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request %s: %w", id, err)
	}
	return &req, nil
}

func (q *Queue) write(sub string, req *models.LLMRequest) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode request %s: %w", req.ID, err)
	}
	if err := os.WriteFile(q.path(sub, req.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write request %s: %w", req.ID, err)
	}
	return nil
}
