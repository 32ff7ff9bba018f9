package models

import "time"

// Confidence grades how much weight a knowledge item deserves.
type Confidence string

// Confidence levels for learned knowledge.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// KnowledgeItem is a learned fact stored in the vector knowledge
// collection and injected into prompts on semantic match.
type KnowledgeItem struct {
	ID             string     `json:"id"`
	Topic          string     `json:"topic"`
	Body           string     `json:"body"`
	Category       string     `json:"category"`
	Source         string     `json:"source"`
	Confidence     Confidence `json:"confidence"`
	Tags           []string   `json:"tags,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastVerifiedAt time.Time  `json:"last_verified_at"`
	ReferenceCount int        `json:"reference_count"`
}
