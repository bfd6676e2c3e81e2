package domain

import "time"

// SenderKind identifies who authored a message
type SenderKind string

const (
	SenderUser  SenderKind = "user"
	SenderAI    SenderKind = "ai"
	SenderHuman SenderKind = "human"
)

// Message is an append-only conversation entry
type Message struct {
	ID                string
	TenantID          string
	EndUserID         string
	TurnID            string // Empty for operator messages
	SenderKind        SenderKind
	Content           string
	Confidence        *float64 // AI messages only
	FallbackTriggered bool
	CreatedAt         time.Time
}

// IsAfter checks if the message is after the specified time
func (m *Message) IsAfter(t time.Time) bool {
	return m.CreatedAt.After(t)
}

// Role maps the sender to a chat role for prompt history
func (m *Message) Role() string {
	if m.SenderKind == SenderUser {
		return "user"
	}
	return "assistant"
}
