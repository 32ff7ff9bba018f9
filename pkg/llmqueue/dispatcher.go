package llmqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/models"
)

// Dispatcher routes inference calls through the queue when possible and
// falls back to direct backend calls when the queue directory is not
// writable (an unprivileged operator session, for example). The
// fallback is logged once per process.
type Dispatcher struct {
	queue    *Queue
	backend  llm.Backend
	priority models.Priority
	timeout  time.Duration

	fallbackOnce sync.Once
	mu           sync.RWMutex
	degraded     bool
}

// NewDispatcher wraps a queue and backend. timeout bounds each Wait;
// zero selects 10 minutes. queue may be nil to force direct dispatch.
func NewDispatcher(queue *Queue, backend llm.Backend, priority models.Priority, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Dispatcher{
		queue:    queue,
		backend:  backend,
		priority: priority,
		timeout:  timeout,
		degraded: queue == nil,
	}
}

// Generate submits a text completion, preferring the queue.
func (d *Dispatcher) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	if d.useDirect() {
		return d.backend.Generate(ctx, req)
	}

	id, err := d.queue.Submit(&models.LLMRequest{
		Kind:     models.RequestGenerate,
		Priority: d.priority,
		Generate: &models.GeneratePayload{
			Prompt:      req.Prompt,
			Model:       req.Model,
			System:      req.System,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return "", err
		}
		d.degrade(err)
		return d.backend.Generate(ctx, req)
	}

	done, err := d.queue.Wait(id, d.timeout, nil)
	if err != nil {
		return "", err
	}
	if done.Error != "" {
		return "", fmt.Errorf("queued generate failed: %s", done.Error)
	}
	return done.Result.Text, nil
}

// ChatWithTools submits a chat call, preferring the queue.
func (d *Dispatcher) ChatWithTools(ctx context.Context, req llm.ChatRequest) (*models.ChatMessage, error) {
	if d.useDirect() {
		return d.backend.ChatWithTools(ctx, req)
	}

	kind := models.RequestChat
	if len(req.Tools) > 0 {
		kind = models.RequestChatWithTools
	}
	id, err := d.queue.Submit(&models.LLMRequest{
		Kind:     kind,
		Priority: d.priority,
		Chat: &models.ChatPayload{
			Messages:    req.Messages,
			Tools:       req.Tools,
			Model:       req.Model,
			Temperature: req.Temperature,
		},
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		d.degrade(err)
		return d.backend.ChatWithTools(ctx, req)
	}

	done, err := d.queue.Wait(id, d.timeout, nil)
	if err != nil {
		return nil, err
	}
	if done.Error != "" {
		return nil, fmt.Errorf("queued chat failed: %s", done.Error)
	}
	return done.Result.Message, nil
}

// IsAvailable defers to the underlying backend.
func (d *Dispatcher) IsAvailable(ctx context.Context) bool {
	return d.backend.IsAvailable(ctx)
}

func (d *Dispatcher) useDirect() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.degraded || d.queue == nil
}

func (d *Dispatcher) degrade(cause error) {
	d.fallbackOnce.Do(func() {
		slog.Warn("LLM queue unavailable, falling back to direct backend calls", "error", cause)
	})
	d.mu.Lock()
	d.degraded = true
	d.mu.Unlock()
}
