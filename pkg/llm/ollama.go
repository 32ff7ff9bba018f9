package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

// OllamaBackend talks to an Ollama server over its native HTTP API.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// NewOllamaBackend creates a backend for the given base URL
// (e.g. http://localhost:11434).
func NewOllamaBackend(baseURL string) *OllamaBackend {
	return &OllamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Tools    []models.ToolDef     `json:"tools,omitempty"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message models.ChatMessage `json:"message"`
	Error   string             `json:"error,omitempty"`
}

// Generate performs a non-streaming text completion.
func (b *OllamaBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body := ollamaGenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: options,
	}

	var resp ollamaGenerateResponse
	if err := b.post(ctx, "/api/generate", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", classifyBackendError(resp.Error)
	}
	return resp.Response, nil
}

// ChatWithTools performs a non-streaming chat call, passing the tool
// catalogue through when present.
func (b *OllamaBackend) ChatWithTools(ctx context.Context, req ChatRequest) (*models.ChatMessage, error) {
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Tools:    req.Tools,
		Stream:   false,
		Options:  map[string]any{"temperature": req.Temperature},
	}

	var resp ollamaChatResponse
	if err := b.post(ctx, "/api/chat", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, classifyBackendError(resp.Error)
	}
	return &resp.Message, nil
}

// IsAvailable probes the server's version endpoint with a short timeout.
func (b *OllamaBackend) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (b *OllamaBackend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Debug("Backend returned non-OK status",
			"path", path, "status", resp.StatusCode)
		return classifyBackendError(fmt.Sprintf("status %d: %s", resp.StatusCode, string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// classifyBackendError maps known error text onto sentinel errors so
// callers can match with errors.Is.
func classifyBackendError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "context") && (strings.Contains(lower, "too long") ||
		strings.Contains(lower, "length") || strings.Contains(lower, "exceed")) {
		return fmt.Errorf("%w: %s", ErrContextTooLong, msg)
	}
	return fmt.Errorf("backend error: %s", msg)
}
