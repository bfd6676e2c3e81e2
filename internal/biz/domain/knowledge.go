package domain

import "time"

// KnowledgeFragment is a retrieved piece of tenant knowledge
type KnowledgeFragment struct {
	ID       int64             `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"` // Relevance in [0,1], higher is better
}

// KnowledgeDocument is raw content submitted for ingestion
type KnowledgeDocument struct {
	TenantID  string
	Source    string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// TopScore returns the best score of an ordered fragment list, 0 if empty
func TopScore(fragments []KnowledgeFragment) float64 {
	if len(fragments) == 0 {
		return 0
	}
	return fragments[0].Score
}
