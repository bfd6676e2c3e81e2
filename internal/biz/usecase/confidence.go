package usecase

import (
	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// ConfidenceInput is what a policy may look at
type ConfidenceInput struct {
	Fragments       []domain.KnowledgeFragment // Ordered by descending score
	ModelCertainty  float64                    // Self-reported, [0,1]
	NeedsKnowledge  bool                       // The model says the answer depends on business facts
	Parsed          bool                       // Whether the model output followed the answer format
	RetrievalFailed bool                       // The knowledge lookup errored, so an empty Fragments proves nothing
}

// ConfidencePolicy maps generation signals to a confidence in [0,1]
type ConfidencePolicy interface {
	Score(in ConfidenceInput) float64
}

// BlendedConfidence blends top retrieval relevance with model certainty.
// For a fixed certainty the score never decreases as retrieval relevance grows.
type BlendedConfidence struct {
	RetrievalWeight float64
	ModelWeight     float64
	UngroundedCap   float64 // Ceiling when retrieval failed, or the answer needs knowledge and nothing was retrieved
}

// DefaultBlendedConfidence returns the default policy
func DefaultBlendedConfidence() BlendedConfidence {
	return BlendedConfidence{
		RetrievalWeight: 0.5,
		ModelWeight:     0.5,
		UngroundedCap:   0.2,
	}
}

// Score implements ConfidencePolicy
func (p BlendedConfidence) Score(in ConfidenceInput) float64 {
	if !in.Parsed {
		return 0
	}

	m := clamp01(in.ModelCertainty)
	r := clamp01(domain.TopScore(in.Fragments))

	total := p.RetrievalWeight + p.ModelWeight
	if total <= 0 {
		return m
	}
	blend := (p.RetrievalWeight*r + p.ModelWeight*m) / total

	// Without a lookup the model cannot know whether facts were needed
	if in.RetrievalFailed {
		return clamp01(min(blend, p.UngroundedCap))
	}
	if !in.NeedsKnowledge {
		// Small talk does not depend on retrieval, but good retrieval still helps
		return clamp01(max(m, blend))
	}
	if len(in.Fragments) == 0 {
		return clamp01(min(blend, p.UngroundedCap))
	}
	return clamp01(blend)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
