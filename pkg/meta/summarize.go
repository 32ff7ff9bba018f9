package meta

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/tools"
)

const (
	verbatimLimit   = 5000
	oneShotLimit    = 8000
	chunkSize       = 8000
	oneShotMaxChars = 600
	chunkMaxChars   = 400
	reduceMaxChars  = 800
	reduceThreshold = 5
)

// summariser compresses oversized tool outputs before they re-enter
// the chat history. Raw output always lands in the cache first so the
// model can pull it back with retrieve_cached_output.
type summariser struct {
	backend Generator
	cache   *tools.Cache
	model   string
	logger  *slog.Logger
}

// process returns the text that should represent a tool result in the
// history. Summarisation failures degrade to truncation, never to an
// error.
func (s *summariser) process(ctx context.Context, tool, output string) string {
	if len(output) < verbatimLimit {
		return output
	}

	cacheID, err := s.cache.Put(tool, output)
	if err != nil {
		s.logger.Warn("Failed to cache tool output", "tool", tool, "error", err)
		cacheID = ""
	}

	var summary string
	if len(output) <= oneShotLimit {
		summary = s.summariseOnce(ctx, tool, output, oneShotMaxChars)
	} else {
		summary = s.mapReduce(ctx, tool, output)
	}

	if cacheID != "" {
		summary += fmt.Sprintf("\n[full output cached: %s]", cacheID)
	}
	return summary
}

func (s *summariser) summariseOnce(ctx context.Context, tool, text string, maxChars int) string {
	prompt := fmt.Sprintf(
		"Summarise this %s output in at most %d characters, keeping exact error messages, unit names and numbers:\n\n%s",
		tool, maxChars, text)
	response, err := s.backend.Generate(ctx, llm.GenerateRequest{
		Model:       s.model,
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   maxChars / 2,
	})
	if err != nil {
		s.logger.Warn("Tool output summarisation failed, truncating", "tool", tool, "error", err)
		return truncate(text, maxChars)
	}
	return truncate(strings.TrimSpace(response), maxChars)
}

// mapReduce partitions the output into fixed chunks, summarises each
// and, past five chunks, runs one reduce pass over the summaries.
func (s *summariser) mapReduce(ctx context.Context, tool, output string) string {
	var chunks []string
	for start := 0; start < len(output); start += chunkSize {
		end := start + chunkSize
		if end > len(output) {
			end = len(output)
		}
		chunks = append(chunks, output[start:end])
	}

	summaries := make([]string, len(chunks))
	for i, chunk := range chunks {
		s.logger.Info("Summarising tool output chunk", "tool", tool, "chunk", i+1, "total", len(chunks))
		summaries[i] = s.summariseOnce(ctx, tool, chunk, chunkMaxChars)
	}

	combined := strings.Join(summaries, "\n")
	if len(chunks) <= reduceThreshold {
		return combined
	}
	return s.summariseOnce(ctx, tool, combined, reduceMaxChars)
}

func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}
