package llm

import (
	"context"

	"github.com/wardenhq/warden/pkg/models"
)

// GenerateRequest is a plain text-completion call.
type GenerateRequest struct {
	Prompt      string
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
}

// ChatRequest is a chat call, optionally with a tool catalogue.
type ChatRequest struct {
	Messages    []models.ChatMessage
	Tools       []models.ToolDef
	Model       string
	Temperature float64
}

// Backend is the abstract inference backend the core depends on.
// Implementations must be safe for concurrent use; the LLM queue is
// what serialises generations, not the backend itself.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	ChatWithTools(ctx context.Context, req ChatRequest) (*models.ChatMessage, error)
	IsAvailable(ctx context.Context) bool
}
