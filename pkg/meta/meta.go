// Package meta is the large-model layer: deep diagnosis on
// escalation, operator chat and a tool-calling loop over the
// read-only tool surface.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/tools"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

const defaultMaxIterations = 30

// Generator is the completion slice of the inference surface.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

// ChatBackend is the inference surface the tool loop drives.
type ChatBackend interface {
	Generator
	ChatWithTools(ctx context.Context, req llm.ChatRequest) (*models.ChatMessage, error)
}

// Meta runs the large-model analysis layer.
type Meta struct {
	backend       ChatBackend
	catalogue     *tools.Catalogue
	knowledge     *vectorstore.Store
	model         string
	maxIterations int
	historyBudget int
	logger        *slog.Logger
	summarise     *summariser
	now           func() time.Time
}

// New wires the meta layer. knowledge may be nil to disable recall
// and reflection.
func New(backend ChatBackend, catalogue *tools.Catalogue, knowledge *vectorstore.Store, model string) *Meta {
	logger := slog.With("component", "meta")
	return &Meta{
		backend:       backend,
		catalogue:     catalogue,
		knowledge:     knowledge,
		model:         model,
		maxIterations: defaultMaxIterations,
		historyBudget: defaultHistoryBudget,
		logger:        logger,
		summarise: &summariser{
			backend: backend,
			cache:   catalogue.Cache(),
			model:   model,
			logger:  logger,
		},
		now: time.Now,
	}
}

// Analyze handles an escalation. The returned record always carries
// either an analysis or an error string; escalations never abort the
// orchestrator's cycle.
func (m *Meta) Analyze(ctx context.Context, reason, contextWindow string) *models.MetaAnalysis {
	record := &models.MetaAnalysis{
		Reason:    reason,
		Timestamp: m.now().UTC(),
	}

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: m.systemPrompt(reason)},
		{Role: models.RoleUser, Content: fmt.Sprintf(
			"The review layer escalated with reason: %s\n\nCurrent system context:\n%s\n\nInvestigate with the available tools and produce a diagnosis with concrete next steps.",
			reason, contextWindow)},
	}

	analysis, err := m.Chat(ctx, messages)
	if err != nil {
		record.Error = err.Error()
		return record
	}
	record.Analysis = analysis.Content
	return record
}

// Chat drives the tool-calling loop over a message history and
// returns the final assistant message.
func (m *Meta) Chat(ctx context.Context, messages []models.ChatMessage) (*models.ChatMessage, error) {
	collapsed := false

	for iteration := 0; iteration < m.maxIterations; iteration++ {
		pruned, before, after := pruneHistory(messages, m.historyBudget)
		if after < before {
			m.logger.Info("Pruned chat history", "before", before, "after", after)
		}
		messages = pruned

		response, err := m.backend.ChatWithTools(ctx, llm.ChatRequest{
			Messages:    messages,
			Tools:       m.catalogue.Defs(),
			Model:       m.model,
			Temperature: 0.2,
		})
		if err != nil {
			if errors.Is(err, llm.ErrContextTooLong) && !collapsed {
				m.logger.Warn("Context too long, retrying with collapsed history")
				messages = collapseHistory(messages)
				collapsed = true
				continue
			}
			return nil, fmt.Errorf("meta chat failed: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			return response, nil
		}

		messages = append(messages, *response)
		for _, call := range response.ToolCalls {
			name := call.Function.Name
			m.logger.Info("Executing tool call", "tool", name, "iteration", iteration+1)
			result := m.catalogue.Dispatch(ctx, name, call.Function.Arguments)

			content := result.Output
			if !result.Success {
				content = fmt.Sprintf("tool %s failed: %s", name, result.Error)
			}
			messages = append(messages, models.ChatMessage{
				Role:    models.RoleTool,
				Content: m.summarise.process(ctx, name, content),
			})
		}
	}

	return nil, fmt.Errorf("tool loop exceeded %d iterations without a final answer", m.maxIterations)
}

func (m *Meta) systemPrompt(topic string) string {
	prompt := `You are an experienced Linux system administrator with read-only
diagnostic tools for this host. Investigate thoroughly before
concluding. Prefer evidence from tools over speculation. When you
recommend an action, state its risk and a rollback.`
	if items := m.recallKnowledge(topic); items != "" {
		prompt += "\n\nRelevant past knowledge:\n" + items
	}
	if topics := m.knownTopics(); topics != "" {
		prompt += "\n\nKnowledge base covers: " + topics
	}
	return prompt
}

// knownTopics renders the knowledge base topic inventory, capped so a
// large store cannot bloat the prompt.
func (m *Meta) knownTopics() string {
	if m.knowledge == nil {
		return ""
	}
	counts, err := m.knowledge.ListKnowledgeTopics()
	if err != nil || len(counts) == 0 {
		return ""
	}
	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	if len(topics) > 20 {
		topics = topics[:20]
	}
	return strings.Join(topics, ", ")
}

// recallKnowledge returns the top matching knowledge items formatted
// for prompt injection, or "" when the store is empty or disabled.
func (m *Meta) recallKnowledge(topic string) string {
	if m.knowledge == nil || topic == "" {
		return ""
	}
	items, err := m.knowledge.QueryKnowledge(topic, 3)
	if err != nil {
		m.logger.Warn("Knowledge recall failed", "error", err)
		return ""
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "- [%s confidence, referenced %d times] %s: %s\n",
			item.Confidence, item.ReferenceCount, item.Topic, item.Body)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// Reflect distils knowledge from a successful action. It matches the
// executor's learning hook and swallows every failure.
func (m *Meta) Reflect(ctx context.Context, situation, action, outcome string) {
	if m.knowledge == nil {
		return
	}

	prompt := fmt.Sprintf(`A remediation just succeeded on this host.

Situation: %s
Action taken: %s
Outcome: %s

Extract at most 2 reusable lessons as a JSON array:
[{"topic": "short title", "body": "the lesson", "category": "incident|performance|maintenance", "confidence": "low|medium|high"}]
Respond with ONLY the JSON array, or [] if there is nothing worth keeping.`,
		situation, action, outcome)

	response, err := m.backend.Generate(ctx, llm.GenerateRequest{
		Model:       m.model,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		m.logger.Warn("Knowledge reflection failed", "error", err)
		return
	}

	for _, item := range parseKnowledgeItems(response) {
		item.Source = "reflection"
		item.CreatedAt = m.now().UTC()
		if err := m.knowledge.StoreKnowledge(&item); err != nil {
			m.logger.Warn("Failed to store knowledge item", "topic", item.Topic, "error", err)
		}
	}
}

// parseKnowledgeItems extracts at most two well-formed items from the
// model's response.
func parseKnowledgeItems(response string) []models.KnowledgeItem {
	start := strings.IndexByte(response, '[')
	end := strings.LastIndexByte(response, ']')
	if start < 0 || end <= start {
		return nil
	}
	var items []models.KnowledgeItem
	if err := json.Unmarshal([]byte(response[start:end+1]), &items); err != nil {
		return nil
	}
	var kept []models.KnowledgeItem
	for _, item := range items {
		if item.Topic == "" || item.Body == "" {
			continue
		}
		if item.Confidence == "" {
			item.Confidence = models.ConfidenceLow
		}
		kept = append(kept, item)
		if len(kept) == 2 {
			break
		}
	}
	return kept
}
