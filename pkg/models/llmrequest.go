package models

import "time"

// Priority orders LLM queue requests; lower values win.
type Priority int

// Queue priorities. Interactive operator traffic always jumps ahead of
// the autonomous loop, which in turn beats batch work.
const (
	PriorityInteractive Priority = 0
	PriorityAutonomous  Priority = 1
	PriorityBatch       Priority = 2
)

// RequestKind selects which backend operation a queued request performs.
type RequestKind string

// Request kinds.
const (
	RequestGenerate      RequestKind = "generate"
	RequestChat          RequestKind = "chat"
	RequestChatWithTools RequestKind = "chat_with_tools"
)

// RequestStatus tracks a queued request through its four directories.
type RequestStatus string

// Request statuses; they mirror the queue directory names.
const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// GeneratePayload is the body of a generate request.
type GeneratePayload struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ChatPayload is the body of a chat or chat_with_tools request.
type ChatPayload struct {
	Messages    []ChatMessage `json:"messages"`
	Tools       []ToolDef     `json:"tools,omitempty"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
}

// LLMResult carries whichever response shape the request produced.
type LLMResult struct {
	Text    string       `json:"text,omitempty"`
	Message *ChatMessage `json:"message,omitempty"`
}

// LLMRequest is the on-disk record of one queued inference call. Once
// completed or failed it is immutable until retention eviction.
type LLMRequest struct {
	ID          string           `json:"id"`
	Kind        RequestKind      `json:"kind"`
	Priority    Priority         `json:"priority"`
	Status      RequestStatus    `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Generate    *GeneratePayload `json:"generate,omitempty"`
	Chat        *ChatPayload     `json:"chat,omitempty"`
	Result      *LLMResult       `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
}
