package repo

import (
	"context"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// KnowledgeRepo is the knowledge retriever interface
type KnowledgeRepo interface {
	// Retrieve returns up to topK fragments scoped to the tenant, ordered by descending score.
	// An empty result is valid.
	Retrieve(ctx context.Context, tenantID, query string, topK int) ([]domain.KnowledgeFragment, error)

	// Add stores already split chunks of a document, returning how many were stored
	Add(ctx context.Context, doc *domain.KnowledgeDocument, chunks []string) (int, error)

	// Count returns the number of fragments stored for a tenant
	Count(ctx context.Context, tenantID string) (int, error)
}

// Embedder turns texts into vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
