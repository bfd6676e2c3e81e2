package domain

import "time"

// DayLayout is the bucket key format of usage counters
const DayLayout = "2006-01-02"

// TokenUsage is the token count of one generation
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the element-wise sum
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Total returns prompt plus completion tokens
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// UsageDelta is one additive contribution to a tenant's daily counter
type UsageDelta struct {
	TenantID          string
	TurnID            string // Idempotency key
	Day               string
	Tokens            TokenUsage
	EstimatedCost     float64
	MessagesProcessed int
}

// UsageCounter is the accumulated usage of a tenant for one day
type UsageCounter struct {
	TenantID          string  `json:"tenant_id"`
	Day               string  `json:"day"`
	PromptTokens      int     `json:"prompt_tokens"`
	CompletionTokens  int     `json:"completion_tokens"`
	EstimatedCost     float64 `json:"estimated_cost"`
	MessagesProcessed int     `json:"messages_processed"`
}

// DayOf returns the UTC day bucket of t
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
