package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// Mock implementations

type mockConversationRepo struct {
	mu       sync.Mutex
	convs    map[domain.ConversationKey]*domain.Conversation
	messages []*domain.Message
	dropped  []*domain.DroppedTurn
	saveErr  error
}

func newMockConversationRepo() *mockConversationRepo {
	return &mockConversationRepo{convs: make(map[domain.ConversationKey]*domain.Conversation)}
}

func (m *mockConversationRepo) Get(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *mockConversationRepo) GetOrCreate(ctx context.Context, key domain.ConversationKey, now time.Time) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	if !ok {
		c = domain.NewConversation(key.TenantID, key.EndUserID, now)
		m.convs[key] = c
	}
	cp := *c
	return &cp, nil
}

func (m *mockConversationRepo) SaveState(ctx context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *conv
	m.convs[conv.Key()] = &cp
	return nil
}

func (m *mockConversationRepo) SaveTurn(ctx context.Context, rec *repo.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *rec.Conversation
	m.convs[cp.Key()] = &cp
	m.messages = append(m.messages, rec.Messages...)
	return nil
}

func (m *mockConversationRepo) RecentMessages(ctx context.Context, key domain.ConversationKey, limit int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.TenantID == key.TenantID && msg.EndUserID == key.EndUserID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockConversationRepo) ListByState(ctx context.Context, state domain.ConversationState) ([]*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Conversation
	for _, c := range m.convs {
		if c.State == state {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockConversationRepo) RecordDroppedTurn(ctx context.Context, turn *domain.DroppedTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, turn)
	return nil
}

func (m *mockConversationRepo) Close() error { return nil }

type mockLLMRepo struct {
	mu       sync.Mutex
	content  string
	model    string
	usage    domain.TokenUsage
	err      error
	requests []*repo.CompletionRequest
}

func (m *mockLLMRepo) Complete(ctx context.Context, req *repo.CompletionRequest) (*repo.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &repo.Completion{Content: m.content, Model: m.model, Usage: m.usage}, nil
}

type mockUsageRepo struct {
	mu       sync.Mutex
	counters map[string]*domain.UsageCounter
	seen     map[string]bool
}

func newMockUsageRepo() *mockUsageRepo {
	return &mockUsageRepo{counters: make(map[string]*domain.UsageCounter), seen: make(map[string]bool)}
}

func (m *mockUsageRepo) AddUsage(ctx context.Context, d *domain.UsageDelta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[d.TurnID] {
		return false, nil
	}
	m.seen[d.TurnID] = true
	key := d.TenantID + "|" + d.Day
	c, ok := m.counters[key]
	if !ok {
		c = &domain.UsageCounter{TenantID: d.TenantID, Day: d.Day}
		m.counters[key] = c
	}
	c.PromptTokens += d.Tokens.PromptTokens
	c.CompletionTokens += d.Tokens.CompletionTokens
	c.EstimatedCost += d.EstimatedCost
	c.MessagesProcessed += d.MessagesProcessed
	return true, nil
}

func (m *mockUsageRepo) GetUsage(ctx context.Context, tenantID, day string) (*domain.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[tenantID+"|"+day]; ok {
		cp := *c
		return &cp, nil
	}
	return &domain.UsageCounter{TenantID: tenantID, Day: day}, nil
}

func (m *mockUsageRepo) ListUsage(ctx context.Context, tenantID, from, to string) ([]*domain.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.UsageCounter
	for _, c := range m.counters {
		if c.TenantID == tenantID && c.Day >= from && c.Day <= to {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockBotConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*domain.BotConfig
	gets    int
	err     error
}

func (m *mockBotConfigRepo) Get(ctx context.Context, tenantID string) (*domain.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	return m.configs[tenantID], nil
}

func (m *mockBotConfigRepo) Save(ctx context.Context, cfg *domain.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configs == nil {
		m.configs = make(map[string]*domain.BotConfig)
	}
	m.configs[cfg.TenantID] = cfg
	return nil
}

func (m *mockBotConfigRepo) List(ctx context.Context) ([]*domain.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BotConfig
	for _, c := range m.configs {
		out = append(out, c)
	}
	return out, nil
}

type mockKnowledgeRepo struct {
	fragments []domain.KnowledgeFragment
	err       error
	added     []string
}

func (m *mockKnowledgeRepo) Retrieve(ctx context.Context, tenantID, query string, topK int) ([]domain.KnowledgeFragment, error) {
	if m.err != nil {
		return nil, m.err
	}
	if topK > 0 && len(m.fragments) > topK {
		return m.fragments[:topK], nil
	}
	return m.fragments, nil
}

func (m *mockKnowledgeRepo) Add(ctx context.Context, doc *domain.KnowledgeDocument, chunks []string) (int, error) {
	m.added = append(m.added, chunks...)
	return len(chunks), nil
}

func (m *mockKnowledgeRepo) Count(ctx context.Context, tenantID string) (int, error) {
	return len(m.added), nil
}
