package llmqueue

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/telemetry"
)

// DefaultRetention is how long completed and failed requests are kept.
const DefaultRetention = time.Hour

// Worker services the queue one request at a time, so that exactly one
// generation is ever in flight against the backend.
type Worker struct {
	queue     *Queue
	backend   llm.Backend
	retention time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                sync.RWMutex
	requestsProcessed int
	currentRequestID  string
}

// NewWorker creates a queue worker. retention <= 0 selects the default.
func NewWorker(queue *Queue, backend llm.Backend, retention time.Duration) *Worker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Worker{
		queue:     queue,
		backend:   backend,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current request to
// finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Processed returns how many requests this worker has completed.
func (w *Worker) Processed() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.requestsProcessed
}

// run is the main worker loop. It wakes on pending-directory activity
// when fsnotify is available and falls back to polling otherwise.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("queue_root", w.queue.Root())
	log.Info("LLM queue worker started")

	if removed, err := w.queue.Evict(w.retention); err != nil {
		log.Warn("Startup eviction failed", "error", err)
	} else if removed > 0 {
		log.Info("Evicted old requests", "count", removed)
	}

	var wake <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(filepath.Join(w.queue.Root(), dirPending)); err == nil {
			wake = watcher.Events
		}
		defer watcher.Close()
	}
	if wake == nil {
		log.Warn("Filesystem watch unavailable, polling only", "error", err)
	}

	const pollInterval = 2 * time.Second
	for {
		processed, err := w.drain(ctx)
		if err != nil {
			log.Error("Queue drain failed", "error", err)
		}
		if processed > 0 {
			continue
		}

		select {
		case <-w.stopCh:
			log.Info("LLM queue worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, LLM queue worker shutting down")
			return
		case <-wake:
		case <-time.After(pollInterval):
		}
	}
}

// drain processes pending requests until the queue is empty or a stop
// is requested, returning how many were serviced.
func (w *Worker) drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		select {
		case <-w.stopCh:
			return processed, nil
		case <-ctx.Done():
			return processed, nil
		default:
		}

		id, err := w.queue.nextPending()
		if err != nil {
			return processed, err
		}
		if id == "" {
			return processed, nil
		}

		req, err := w.queue.claim(id)
		if err != nil {
			return processed, err
		}
		w.process(ctx, req)
		if err := w.queue.finish(req); err != nil {
			return processed, err
		}
		state := "completed"
		if req.Error != "" {
			state = "failed"
		}
		telemetry.LLMRequestsTotal.WithLabelValues(state).Inc()
		processed++

		w.mu.Lock()
		w.requestsProcessed++
		w.currentRequestID = ""
		w.mu.Unlock()
	}
}

// process dispatches one claimed request to the backend, recording the
// result or error on the request itself.
func (w *Worker) process(ctx context.Context, req *models.LLMRequest) {
	w.mu.Lock()
	w.currentRequestID = req.ID
	w.mu.Unlock()

	log := slog.With("request_id", req.ID, "kind", req.Kind)
	start := time.Now()

	switch req.Kind {
	case models.RequestGenerate:
		if req.Generate == nil {
			req.Error = "generate request missing payload"
			return
		}
		text, err := w.backend.Generate(ctx, llm.GenerateRequest{
			Prompt:      req.Generate.Prompt,
			Model:       req.Generate.Model,
			System:      req.Generate.System,
			Temperature: req.Generate.Temperature,
			MaxTokens:   req.Generate.MaxTokens,
		})
		if err != nil {
			req.Error = err.Error()
		} else {
			req.Result = &models.LLMResult{Text: text}
		}

	case models.RequestChat, models.RequestChatWithTools:
		if req.Chat == nil {
			req.Error = "chat request missing payload"
			return
		}
		msg, err := w.backend.ChatWithTools(ctx, llm.ChatRequest{
			Messages:    req.Chat.Messages,
			Tools:       req.Chat.Tools,
			Model:       req.Chat.Model,
			Temperature: req.Chat.Temperature,
		})
		if err != nil {
			req.Error = err.Error()
		} else {
			req.Result = &models.LLMResult{Message: msg}
		}

	default:
		req.Error = fmt.Sprintf("unknown request kind %q", req.Kind)
	}

	if req.Error != "" {
		log.Warn("Request failed", "error", req.Error, "duration", time.Since(start))
	} else {
		log.Debug("Request completed", "duration", time.Since(start))
	}
}
