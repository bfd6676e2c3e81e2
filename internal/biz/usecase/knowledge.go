package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// KnowledgeConfig contains knowledge configuration
type KnowledgeConfig struct {
	RetrieveTimeout time.Duration
	MaxChunkChars   int // Paragraphs longer than this are split on sentence boundaries
}

// DefaultKnowledgeConfig returns default knowledge configuration
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		RetrieveTimeout: 5 * time.Second,
		MaxChunkChars:   800,
	}
}

// KnowledgeUsecase handles retrieval and ingestion of tenant knowledge
type KnowledgeUsecase struct {
	knowledgeRepo repo.KnowledgeRepo
	config        KnowledgeConfig
}

// NewKnowledgeUsecase creates a new knowledge usecase
func NewKnowledgeUsecase(knowledgeRepo repo.KnowledgeRepo, config KnowledgeConfig) *KnowledgeUsecase {
	return &KnowledgeUsecase{knowledgeRepo: knowledgeRepo, config: config}
}

// Retrieve returns the tenant's most relevant fragments.
// Failures are RetrievalUnavailable errors.
func (uc *KnowledgeUsecase) Retrieve(ctx context.Context, tenantID, query string, topK int) ([]domain.KnowledgeFragment, error) {
	if uc.config.RetrieveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.config.RetrieveTimeout)
		defer cancel()
	}

	fragments, err := uc.knowledgeRepo.Retrieve(ctx, tenantID, query, topK)
	if err != nil {
		return nil, domain.NewError(domain.KindRetrievalUnavailable, "retrieve", err)
	}
	return fragments, nil
}

// Ingest splits a document into fragments and stores them
func (uc *KnowledgeUsecase) Ingest(ctx context.Context, doc *domain.KnowledgeDocument) (int, error) {
	if doc.TenantID == "" || strings.TrimSpace(doc.Content) == "" {
		return 0, domain.NewError(domain.KindInvalidInput, "ingest", nil)
	}
	chunks := SplitChunks(doc.Content, uc.config.MaxChunkChars)
	return uc.knowledgeRepo.Add(ctx, doc, chunks)
}

// Count returns the number of fragments stored for a tenant
func (uc *KnowledgeUsecase) Count(ctx context.Context, tenantID string) (int, error) {
	return uc.knowledgeRepo.Count(ctx, tenantID)
}

// SplitChunks splits text on blank lines, then long paragraphs on sentence ends
func SplitChunks(text string, maxChars int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if maxChars <= 0 || len(para) <= maxChars {
			chunks = append(chunks, para)
			continue
		}
		chunks = append(chunks, splitSentences(para, maxChars)...)
	}
	return chunks
}

func splitSentences(para string, maxChars int) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, sentence := range sentences(para) {
		if cur.Len() > 0 && cur.Len()+len(sentence) > maxChars {
			flush()
		}
		cur.WriteString(sentence)
	}
	flush()
	return out
}

// sentences cuts after '.', '!' or '?' followed by a space, keeping the delimiter
func sentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' {
				out = append(out, s[start:i+2])
				start = i + 2
			}
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
