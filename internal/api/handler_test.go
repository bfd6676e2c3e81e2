package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/service"
)

type inboundCall struct {
	tenantID, endUserID, text string
	at                        time.Time
}

// fakePipeline implements Pipeline for testing
type fakePipeline struct {
	mu       sync.Mutex
	inbound  []inboundCall
	convs    map[domain.ConversationKey]*domain.Conversation
	messages []*domain.Message
	docs     []*domain.KnowledgeDocument
	configs  map[string]*domain.BotConfig
	usageArg [3]string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		convs:   make(map[domain.ConversationKey]*domain.Conversation),
		configs: make(map[string]*domain.BotConfig),
	}
}

func (f *fakePipeline) HandleInbound(ctx context.Context, tenantID, endUserID, text string, now time.Time) error {
	if strings.TrimSpace(text) == "" {
		return domain.NewError(domain.KindInvalidInput, "handle inbound", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, inboundCall{tenantID, endUserID, text, now})
	return nil
}

func (f *fakePipeline) fire(tenantID, endUserID string, ev domain.Event) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.ConversationKey{TenantID: tenantID, EndUserID: endUserID}
	c, ok := f.convs[key]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, string(ev), nil)
	}
	if err := c.Fire(ev, time.Unix(60, 0).UTC()); err != nil {
		return nil, err
	}
	return c, nil
}

func (f *fakePipeline) HumanReplied(ctx context.Context, tenantID, endUserID, text string) (*domain.Conversation, error) {
	return f.fire(tenantID, endUserID, domain.EventHumanReplied)
}

func (f *fakePipeline) Release(ctx context.Context, tenantID, endUserID string) (*domain.Conversation, error) {
	return f.fire(tenantID, endUserID, domain.EventOperatorRelease)
}

func (f *fakePipeline) Takeover(ctx context.Context, tenantID, endUserID string) (*domain.Conversation, error) {
	return f.fire(tenantID, endUserID, domain.EventOperatorTakeover)
}

func (f *fakePipeline) Conversation(ctx context.Context, tenantID, endUserID string, limit int) (*service.ConversationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[domain.ConversationKey{TenantID: tenantID, EndUserID: endUserID}]
	if !ok {
		return nil, nil
	}
	msgs := f.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return &service.ConversationView{Conversation: c, Messages: msgs}, nil
}

func (f *fakePipeline) Usage(ctx context.Context, tenantID, from, to string) (*service.UsageReport, error) {
	f.mu.Lock()
	f.usageArg = [3]string{tenantID, from, to}
	f.mu.Unlock()
	day := &domain.UsageCounter{TenantID: tenantID, Day: from, PromptTokens: 100, CompletionTokens: 20, MessagesProcessed: 2}
	return &service.UsageReport{Days: []*domain.UsageCounter{day}, Total: day}, nil
}

func (f *fakePipeline) AddKnowledge(ctx context.Context, doc *domain.KnowledgeDocument) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return 2, nil
}

func (f *fakePipeline) BotConfig(ctx context.Context, tenantID string) (*domain.BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.configs[tenantID]; ok {
		return cfg, nil
	}
	return domain.DefaultBotConfig(tenantID), nil
}

func (f *fakePipeline) SaveBotConfig(ctx context.Context, cfg *domain.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return domain.NewError(domain.KindInvalidInput, "save bot config", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[cfg.TenantID] = cfg
	return nil
}

func (f *fakePipeline) Stats() domain.BufferStats {
	return domain.BufferStats{PendingKeys: 1, PendingFragments: 3}
}

func newTestServer(t *testing.T) (*Server, *fakePipeline) {
	t.Helper()
	p := newFakePipeline()
	s := NewServer(p, "127.0.0.1:0", zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }
	return s, p
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotNil(t, body["buffer"])
}

func TestInbound(t *testing.T) {
	s, p := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/inbound", `{"tenant_id":"locadora-sol","end_user_id":"5511","text":"oi"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/inbound",
		`{"tenant_id":"locadora-sol","end_user_id":"5511","text":"quanto custa","received_at":"2026-03-02T09:29:58Z"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, p.inbound, 2)
	assert.Equal(t, inboundCall{"locadora-sol", "5511", "oi", s.now()}, p.inbound[0])
	assert.Equal(t, time.Date(2026, 3, 2, 9, 29, 58, 0, time.UTC), p.inbound[1].at)

	w = do(t, s, http.MethodPost, "/api/v1/inbound", `{"tenant_id":"locadora-sol","end_user_id":"5511","text":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode[ErrorResponse](t, w).Kind)

	w = do(t, s, http.MethodPost, "/api/v1/inbound", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHumanReplyLifecycle(t *testing.T) {
	s, p := newTestServer(t)
	base := "/api/v1/tenants/locadora-sol/conversations/5511"

	// Nobody has written from this number yet
	w := do(t, s, http.MethodPost, base+"/takeover", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Kind)

	// AI owns a new thread
	p.convs[domain.ConversationKey{TenantID: "locadora-sol", EndUserID: "5511"}] = domain.NewConversation("locadora-sol", "5511", s.now())
	w = do(t, s, http.MethodPost, base+"/human-reply", `{"text":"oi"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", decode[ErrorResponse](t, w).Kind)

	w = do(t, s, http.MethodPost, base+"/takeover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AWAITING_HUMAN", decode[ConversationDTO](t, w).State)

	w = do(t, s, http.MethodPost, base+"/human-reply", `{"text":"Olá, aqui é a Ana."}`)
	require.Equal(t, http.StatusOK, w.Code)
	dto := decode[ConversationDTO](t, w)
	assert.Equal(t, "HUMAN_RESPONDED", dto.State)
	require.NotNil(t, dto.LastHumanAt)

	w = do(t, s, http.MethodPost, base+"/human-reply", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, base+"/release", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AI_ACTIVE", decode[ConversationDTO](t, w).State)

	w = do(t, s, http.MethodPost, base+"/release", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetConversation(t *testing.T) {
	s, p := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/tenants/locadora-sol/conversations/5511", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	conf := 0.3
	p.convs[domain.ConversationKey{TenantID: "locadora-sol", EndUserID: "5511"}] = domain.NewConversation("locadora-sol", "5511", s.now())
	p.messages = []*domain.Message{
		{ID: "m1", TurnID: "t1", SenderKind: domain.SenderUser, Content: "oi"},
		{ID: "m2", TurnID: "t1", SenderKind: domain.SenderAI, Content: "Um atendente já vai falar com você.", Confidence: &conf, FallbackTriggered: true},
		{ID: "m3", SenderKind: domain.SenderHuman, Content: "Oi!"},
	}

	w = do(t, s, http.MethodGet, "/api/v1/tenants/locadora-sol/conversations/5511?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ConversationResponse](t, w)
	assert.Equal(t, "AI_ACTIVE", resp.Conversation.State)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "ai", resp.Messages[0].Sender)
	assert.True(t, resp.Messages[0].FallbackTriggered)
	assert.Equal(t, 0.3, *resp.Messages[0].Confidence)
	assert.Equal(t, "human", resp.Messages[1].Sender)
	assert.Empty(t, resp.Messages[1].TurnID)
}

func TestUsage(t *testing.T) {
	s, p := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/tenants/locadora-sol/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [3]string{"locadora-sol", "2026-03-02", "2026-03-02"}, p.usageArg)

	report := decode[service.UsageReport](t, w)
	assert.Equal(t, 100, report.Total.PromptTokens)
	assert.Equal(t, 2, report.Total.MessagesProcessed)

	w = do(t, s, http.MethodGet, "/api/v1/tenants/locadora-sol/usage?from=2026-03-01&to=2026-03-31", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [3]string{"locadora-sol", "2026-03-01", "2026-03-31"}, p.usageArg)

	w = do(t, s, http.MethodGet, "/api/v1/tenants/locadora-sol/usage?from=03/01/2026", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/tenants/locadora-sol/usage?from=2026-03-05&to=2026-03-01", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddKnowledge(t *testing.T) {
	s, p := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/tenants/clinica-vida/knowledge",
		`{"source":"faq.md","content":"Atendemos de segunda a sexta.\n\nAceitamos convênios.","metadata":{"lang":"pt"}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, decode[map[string]int](t, w)["fragments"])

	require.Len(t, p.docs, 1)
	assert.Equal(t, "clinica-vida", p.docs[0].TenantID)
	assert.Equal(t, "faq.md", p.docs[0].Source)
	assert.Equal(t, "pt", p.docs[0].Metadata["lang"])

	w = do(t, s, http.MethodPost, "/api/v1/tenants/clinica-vida/knowledge", `{"source":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBotConfig(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/tenants/nova/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[domain.BotConfig](t, w)
	assert.Equal(t, "nova", cfg.TenantID)
	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)

	w = do(t, s, http.MethodPut, "/api/v1/tenants/nova/config",
		`{"tenant_id":"ignored","business_name":"Nova","tone":"formal","confidence_threshold":0.8}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/tenants/nova/config", "")
	cfg = decode[domain.BotConfig](t, w)
	assert.Equal(t, "nova", cfg.TenantID)
	assert.Equal(t, domain.ToneFormal, cfg.Tone)
	assert.Equal(t, 0.8, cfg.ConfidenceThreshold)

	w = do(t, s, http.MethodPut, "/api/v1/tenants/nova/config", `{"confidence_threshold":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBotConfig_PartialUpdateKeepsOtherFields(t *testing.T) {
	s, _ := newTestServer(t)

	// A body without confidence_threshold must not zero it and disable handoff
	w := do(t, s, http.MethodPut, "/api/v1/tenants/nova/config", `{"business_name":"Nova"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[domain.BotConfig](t, w)
	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)
	assert.Equal(t, domain.DefaultFallbackMessage, cfg.FallbackMessage)

	w = do(t, s, http.MethodPut, "/api/v1/tenants/nova/config", `{"confidence_threshold":0.75}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodPut, "/api/v1/tenants/nova/config", `{"tone":"formal"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/tenants/nova/config", "")
	cfg = decode[domain.BotConfig](t, w)
	assert.Equal(t, "Nova", cfg.BusinessName)
	assert.Equal(t, domain.ToneFormal, cfg.Tone)
	assert.Equal(t, 0.75, cfg.ConfidenceThreshold)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.TransitionError{State: domain.StateAIActive, Event: domain.EventHumanReplied}, http.StatusConflict},
		{domain.NewError(domain.KindInvalidInput, "x", nil), http.StatusBadRequest},
		{domain.NewError(domain.KindNotFound, "x", nil), http.StatusNotFound},
		{domain.NewError(domain.KindPersistenceFailed, "x", nil), http.StatusServiceUnavailable},
		{domain.NewError(domain.KindDeliveryFailed, "x", nil), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
