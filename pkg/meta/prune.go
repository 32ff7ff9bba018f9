package meta

import (
	"github.com/wardenhq/warden/pkg/contextbuf"
	"github.com/wardenhq/warden/pkg/models"
)

const (
	defaultHistoryBudget = 80000
	keepRecentMessages   = 20
)

// pruneHistory bounds a chat history's estimated token cost. Under
// budget the history passes through untouched; over budget it keeps
// the system message plus the last 20 non-system messages. Returns
// the history and the before/after message counts.
func pruneHistory(messages []models.ChatMessage, budget int) ([]models.ChatMessage, int, int) {
	if budget <= 0 {
		budget = defaultHistoryBudget
	}

	total := 0
	for _, m := range messages {
		total += contextbuf.EstimateTokens(m.Content)
	}
	if total <= budget {
		return messages, len(messages), len(messages)
	}

	var system []models.ChatMessage
	var rest []models.ChatMessage
	for _, m := range messages {
		if m.Role == models.RoleSystem && len(system) == 0 {
			system = append(system, m)
			continue
		}
		rest = append(rest, m)
	}
	if len(rest) > keepRecentMessages {
		rest = rest[len(rest)-keepRecentMessages:]
	}

	pruned := append(system, rest...)
	return pruned, len(messages), len(pruned)
}

// collapseHistory is the context-too-long recovery shape: the system
// message plus the most recent user message.
func collapseHistory(messages []models.ChatMessage) []models.ChatMessage {
	var collapsed []models.ChatMessage
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			collapsed = append(collapsed, m)
			break
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			collapsed = append(collapsed, messages[i])
			break
		}
	}
	return collapsed
}
