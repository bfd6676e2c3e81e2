package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// maxScanFragments bounds the per-tenant candidate scan
const maxScanFragments = 2000

// knowledgeRepo implements tenant scoped retrieval over sqlite.
// With an embedder it ranks by cosine similarity, otherwise by term overlap.
type knowledgeRepo struct {
	db       *sql.DB
	embedder repo.Embedder
	log      zerolog.Logger
}

// NewKnowledgeRepo creates a new knowledge repository, embedder may be nil
func NewKnowledgeRepo(db *sql.DB, embedder repo.Embedder, log zerolog.Logger) (repo.KnowledgeRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_fragments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding TEXT,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge_fragments table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_knowledge_tenant ON knowledge_fragments(tenant_id)`)

	// FTS is optional, lookups fall back to a tenant scan without it
	_, _ = db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
			content,
			content='knowledge_fragments',
			content_rowid='id'
		)
	`)
	_, _ = db.Exec(`
		CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge_fragments BEGIN
			INSERT INTO knowledge_fts(rowid, content) VALUES (new.id, new.content);
		END
	`)
	_, _ = db.Exec(`
		CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge_fragments BEGIN
			INSERT INTO knowledge_fts(knowledge_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END
	`)

	return &knowledgeRepo{
		db:       db,
		embedder: embedder,
		log:      log.With().Str("component", "knowledge").Logger(),
	}, nil
}

// Add stores chunks of a document
func (r *knowledgeRepo) Add(ctx context.Context, doc *domain.KnowledgeDocument, chunks []string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	var vectors [][]float32
	if r.embedder != nil {
		v, err := r.embedder.Embed(ctx, chunks)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(v) != len(chunks) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(v), len(chunks))
		}
		vectors = v
	}

	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata: %w", err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, chunk := range chunks {
		var embedding interface{}
		if vectors != nil {
			raw, err := json.Marshal(vectors[i])
			if err != nil {
				return 0, fmt.Errorf("failed to encode embedding: %w", err)
			}
			embedding = string(raw)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_fragments (tenant_id, source, content, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, doc.TenantID, doc.Source, chunk, string(metaJSON), embedding, createdAt.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("failed to insert fragment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit fragments: %w", err)
	}
	return len(chunks), nil
}

// Count counts a tenant's fragments
func (r *knowledgeRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_fragments WHERE tenant_id = ?`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	return n, nil
}

type storedFragment struct {
	domain.KnowledgeFragment
	embedding []float32
}

// Retrieve ranks a tenant's fragments against the query
func (r *knowledgeRepo) Retrieve(ctx context.Context, tenantID, query string, topK int) ([]domain.KnowledgeFragment, error) {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if r.embedder != nil {
		frags, err := r.retrieveSemantic(ctx, tenantID, query, topK)
		if err == nil {
			return frags, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("semantic retrieval failed, using lexical ranking")
	}
	return r.retrieveLexical(ctx, tenantID, query, topK)
}

func (r *knowledgeRepo) retrieveSemantic(ctx context.Context, tenantID, query string, topK int) ([]domain.KnowledgeFragment, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vectors))
	}
	qv := vectors[0]

	candidates, err := r.scanTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Fragments stored while embeddings were off are ranked by term overlap
	terms := tokenize(query)
	var scored []domain.KnowledgeFragment
	for _, c := range candidates {
		if len(c.embedding) == 0 {
			c.Score = overlap(terms, tokenize(c.Text))
		} else {
			c.Score = math.Max(0, cosine(qv, c.embedding))
		}
		scored = append(scored, c.KnowledgeFragment)
	}
	return rank(scored, topK), nil
}

func (r *knowledgeRepo) retrieveLexical(ctx context.Context, tenantID, query string, topK int) ([]domain.KnowledgeFragment, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	candidates, err := r.searchFTS(ctx, tenantID, terms)
	if err != nil || len(candidates) == 0 {
		// FTS misses accent variants, so a miss still scans the tenant
		candidates, err = r.scanTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}

	var scored []domain.KnowledgeFragment
	for _, c := range candidates {
		c.Score = overlap(terms, tokenize(c.Text))
		scored = append(scored, c.KnowledgeFragment)
	}
	return rank(scored, topK), nil
}

func (r *knowledgeRepo) searchFTS(ctx context.Context, tenantID string, terms []string) ([]storedFragment, error) {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT k.id, k.content, k.metadata, k.embedding
		FROM knowledge_fragments k
		JOIN knowledge_fts f ON k.id = f.rowid
		WHERE knowledge_fts MATCH ? AND k.tenant_id = ?
		ORDER BY rank
		LIMIT ?
	`, strings.Join(quoted, " OR "), tenantID, maxScanFragments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

func (r *knowledgeRepo) scanTenant(ctx context.Context, tenantID string) ([]storedFragment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, metadata, embedding
		FROM knowledge_fragments
		WHERE tenant_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, tenantID, maxScanFragments)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

func scanFragments(rows *sql.Rows) ([]storedFragment, error) {
	var out []storedFragment
	for rows.Next() {
		var f storedFragment
		var metaJSON string
		var embedding sql.NullString
		if err := rows.Scan(&f.ID, &f.Text, &metaJSON, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		if metaJSON != "" && metaJSON != "{}" {
			_ = json.Unmarshal([]byte(metaJSON), &f.Metadata)
		}
		if embedding.Valid && embedding.String != "" {
			_ = json.Unmarshal([]byte(embedding.String), &f.embedding)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// rank drops zero scores and keeps the best topK, ties by id
func rank(frags []domain.KnowledgeFragment, topK int) []domain.KnowledgeFragment {
	kept := frags[:0]
	for _, f := range frags {
		if f.Score > 0 {
			kept = append(kept, f)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].ID < kept[j].ID
	})
	if len(kept) > topK {
		kept = kept[:topK]
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

var stopwords = map[string]bool{
	"a": true, "o": true, "as": true, "os": true, "de": true, "da": true, "do": true,
	"das": true, "dos": true, "e": true, "em": true, "um": true, "uma": true, "para": true,
	"por": true, "com": true, "que": true, "no": true, "na": true, "se": true, "eu": true,
	"the": true, "of": true, "and": true, "to": true, "is": true, "in": true,
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// tokenize lowercases, strips accents and drops stopwords
func tokenize(s string) []string {
	folded, _, err := transform.String(foldAccents, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// overlap is the share of query terms present in the document
func overlap(query, doc []string) float64 {
	if len(query) == 0 {
		return 0
	}
	have := make(map[string]bool, len(doc))
	for _, t := range doc {
		have[t] = true
	}
	hits := 0
	for _, t := range query {
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
