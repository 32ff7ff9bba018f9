package review

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

// extractBalancedJSON returns the outermost balanced JSON object in
// text, or "" when none is present. Braces inside string literals do
// not count.
func extractBalancedJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// parseReviewResponse decodes the model's response. Malformed output
// degrades to an "unknown" record carrying the first 500 characters,
// never to an error.
func parseReviewResponse(response string, now time.Time) *models.ReviewResult {
	fallback := func() *models.ReviewResult {
		summary := response
		if len(summary) > 500 {
			summary = summary[:500]
		}
		return &models.ReviewResult{
			Status:      "unknown",
			Summary:     summary,
			RawResponse: response,
			Timestamp:   now,
		}
	}

	blob := extractBalancedJSON(response)
	if blob == "" {
		return fallback()
	}
	var result models.ReviewResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return fallback()
	}
	if result.Status == "" {
		result.Status = "unknown"
	}
	result.RawResponse = response
	result.Timestamp = now
	return &result
}
