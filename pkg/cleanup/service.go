// Package cleanup enforces the agent's data retention policies in the
// background.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// MetricsStore is the retention slice of the time-series adapter.
type MetricsStore interface {
	DropChunksOlderThan(ctx context.Context, age time.Duration) error
}

// RequestQueue is the retention slice of the LLM queue.
type RequestQueue interface {
	Evict(maxAge time.Duration) (int, error)
}

// Service periodically enforces retention:
//   - drops time-series chunks past the configured window
//   - evicts finished LLM queue requests
//   - removes stale tool cache files
//
// All operations are idempotent and individually fault-isolated.
type Service struct {
	metrics       MetricsStore // may be nil
	queue         RequestQueue // may be nil
	cacheDir      string
	metricsMaxAge time.Duration
	queueMaxAge   time.Duration
	cacheMaxAge   time.Duration
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service. Nil stores disable their
// respective passes.
func NewService(metrics MetricsStore, queue RequestQueue, cacheDir string, retentionDays int) *Service {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Service{
		metrics:       metrics,
		queue:         queue,
		cacheDir:      cacheDir,
		metricsMaxAge: time.Duration(retentionDays) * 24 * time.Hour,
		queueMaxAge:   time.Hour,
		cacheMaxAge:   24 * time.Hour,
		interval:      time.Hour,
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"metrics_max_age", s.metricsMaxAge,
		"queue_max_age", s.queueMaxAge,
		"interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll performs one pass over every retention target.
func (s *Service) RunAll(ctx context.Context) {
	s.dropOldChunks(ctx)
	s.evictFinishedRequests()
	s.pruneToolCache()
}

func (s *Service) dropOldChunks(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.DropChunksOlderThan(ctx, s.metricsMaxAge); err != nil {
		slog.Error("Retention: chunk drop failed", "error", err)
	}
}

func (s *Service) evictFinishedRequests() {
	if s.queue == nil {
		return
	}
	count, err := s.queue.Evict(s.queueMaxAge)
	if err != nil {
		slog.Error("Retention: queue eviction failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: evicted finished requests", "count", count)
	}
}

func (s *Service) pruneToolCache() {
	if s.cacheDir == "" {
		return
	}
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.cacheMaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cacheDir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Retention: pruned tool cache", "count", removed)
	}
}
