package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brunobiu/chatbotprincipal/internal/biz"
	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
	"github.com/brunobiu/chatbotprincipal/internal/biz/usecase"
	"github.com/brunobiu/chatbotprincipal/internal/retry"
)

// OrchestratorConfig contains pipeline timing
type OrchestratorConfig struct {
	GenerationTimeout time.Duration
	RetrieveTimeout   time.Duration
	FlushTimeout      time.Duration
	Persist           retry.Config
}

// DefaultOrchestratorConfig returns default pipeline timing
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		GenerationTimeout: 30 * time.Second,
		RetrieveTimeout:   5 * time.Second,
		FlushTimeout:      2 * time.Minute,
		Persist:           retry.DefaultConfig(),
	}
}

// ConversationView is a conversation with its recent messages
type ConversationView struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []*domain.Message    `json:"messages"`
}

// UsageReport is a tenant's usage over a day range
type UsageReport struct {
	Days  []*domain.UsageCounter `json:"days"`
	Total *domain.UsageCounter   `json:"total"`
}

// Orchestrator runs the inbound pipeline: debounce, retrieve, generate, hand off, persist, deliver.
// Every mutation of one conversation happens under that conversation's lock.
type Orchestrator struct {
	uc       *biz.Usecases
	delivery repo.DeliveryRepo
	buffer   *usecase.MessageBuffer
	locks    *keyLocks
	clock    usecase.Clock
	config   OrchestratorConfig
	log      zerolog.Logger
}

// NewOrchestrator creates the orchestrator and its message buffer
func NewOrchestrator(uc *biz.Usecases, delivery repo.DeliveryRepo, clock usecase.Clock, config OrchestratorConfig, log zerolog.Logger) *Orchestrator {
	if clock == nil {
		clock = usecase.RealClock()
	}
	defaults := DefaultOrchestratorConfig()
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = defaults.GenerationTimeout
	}
	if config.RetrieveTimeout <= 0 {
		config.RetrieveTimeout = defaults.RetrieveTimeout
	}

	o := &Orchestrator{
		uc:       uc,
		delivery: delivery,
		locks:    newKeyLocks(),
		clock:    clock,
		config:   config,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}

	bufCfg := usecase.DefaultBufferConfig()
	bufCfg.Window = func(tenantID string) time.Duration {
		return uc.BotConfig.Cached(tenantID).Debounce()
	}
	if config.FlushTimeout > 0 {
		bufCfg.FlushTimeout = config.FlushTimeout
	}
	o.buffer = usecase.NewMessageBuffer(bufCfg, clock, o.flush, log)
	o.buffer.OnFlushError(o.onFlushError)
	return o
}

// HandleInbound validates an inbound fragment and buffers it. It returns without waiting for the reply.
func (o *Orchestrator) HandleInbound(ctx context.Context, tenantID, endUserID, text string, now time.Time) error {
	tenantID = strings.TrimSpace(tenantID)
	endUserID = strings.TrimSpace(endUserID)
	text = strings.TrimSpace(text)

	switch {
	case tenantID == "":
		return domain.NewError(domain.KindInvalidInput, "handle inbound", errors.New("tenant_id is required"))
	case endUserID == "":
		return domain.NewError(domain.KindInvalidInput, "handle inbound", errors.New("end_user_id is required"))
	case text == "":
		return domain.NewError(domain.KindInvalidInput, "handle inbound", errors.New("text is required"))
	}

	if now.IsZero() {
		now = o.clock.Now()
	}

	// Warm the config cache so the debounce window reflects the tenant's setting
	if _, err := o.uc.BotConfig.Get(ctx, tenantID); err != nil {
		o.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("bot config unavailable, using cached or default window")
	}

	return o.buffer.Enqueue(tenantID, endUserID, text, now)
}

// flush processes one debounced turn
func (o *Orchestrator) flush(ctx context.Context, turn *domain.Turn) error {
	key := turn.Key()
	unlock := o.locks.Lock(key)
	defer unlock()

	log := o.log.With().Str("key", key.String()).Str("turn_id", turn.ID).Logger()
	text := turn.Text()

	cfg, err := o.uc.BotConfig.Get(ctx, turn.TenantID)
	if err != nil {
		log.Warn().Err(err).Msg("bot config unavailable, using defaults")
		cfg = domain.DefaultBotConfig(turn.TenantID)
	}

	var conv *domain.Conversation
	res := retry.Do(ctx, o.config.Persist, func(ctx context.Context) error {
		var err error
		conv, err = o.uc.Conversation.Load(ctx, key, turn.FirstAt)
		return retryable(err)
	}, log)
	if !res.Success {
		o.drop(ctx, turn, "", res.LastError)
		return res.LastError
	}
	conv.Touch(turn.LastAt)

	userMsg := o.newMessage(turn, domain.SenderUser, text, turn.LastAt)
	rec := &repo.TurnRecord{Conversation: conv, Messages: []*domain.Message{userMsg}}

	// The AI stays silent while a human owns the thread
	if !conv.AIActive() {
		if err := o.persist(ctx, turn, rec, "", log); err != nil {
			return err
		}
		log.Info().Str("state", string(conv.State)).Msg("turn stored for human operator")
		return nil
	}

	history, err := o.uc.Conversation.History(ctx, key, cfg.History())
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable, generating without it")
	}

	retCtx, cancelRet := context.WithTimeout(ctx, o.config.RetrieveTimeout)
	fragments, err := o.uc.Knowledge.Retrieve(retCtx, turn.TenantID, text, cfg.Fragments())
	cancelRet()
	retrievalFailed := err != nil
	if retrievalFailed {
		log.Warn().Err(err).Msg("knowledge retrieval failed, continuing without context")
		fragments = nil
	}

	now := o.clock.Now()
	genCtx, cancel := context.WithTimeout(ctx, o.config.GenerationTimeout)
	resp, genErr := o.uc.Response.Generate(genCtx, &usecase.GenerateRequest{
		Config:    cfg,
		Fragments: fragments,
		History:   history,
		Text:      text,
		Now:       now,

		RetrievalFailed: retrievalFailed,
	})
	cancel()

	aiMsg := o.newMessage(turn, domain.SenderAI, "", now)
	var reply string
	switch {
	case genErr != nil:
		log.Warn().Err(genErr).Bool("retrieval_failed", retrievalFailed).Msg("generation failed, handing off to a human")
		if err := conv.Fire(domain.EventGenerationFailed, now); err != nil {
			return fmt.Errorf("fire generation_failed: %w", err)
		}
		zero := 0.0
		aiMsg.Confidence = &zero
		aiMsg.FallbackTriggered = true
		reply = cfg.Fallback()

	case resp.Confidence < cfg.ConfidenceThreshold:
		log.Info().
			Float64("confidence", resp.Confidence).
			Float64("threshold", cfg.ConfidenceThreshold).
			Int("fragments", len(fragments)).
			Bool("retrieval_failed", retrievalFailed).
			Msg("low confidence, handing off to a human")
		if err := conv.Fire(domain.EventLowConfidence, now); err != nil {
			return fmt.Errorf("fire low_confidence: %w", err)
		}
		confidence := resp.Confidence
		aiMsg.Confidence = &confidence
		aiMsg.FallbackTriggered = true
		reply = cfg.Fallback()

	default:
		confidence := resp.Confidence
		aiMsg.Confidence = &confidence
		reply = resp.Answer
	}
	aiMsg.Content = reply
	rec.Messages = append(rec.Messages, aiMsg)

	if err := o.persist(ctx, turn, rec, reply, log); err != nil {
		return err
	}

	// A failed generation may still have consumed tokens
	var usage domain.TokenUsage
	var model string
	if resp != nil {
		usage, model = resp.Usage, resp.Model
	}
	o.recordUsage(ctx, turn, model, usage, now, log)

	if err := o.delivery.Deliver(ctx, turn.TenantID, turn.EndUserID, reply); err != nil {
		log.Error().Err(err).Msg("reply delivery failed")
		return nil
	}

	log.Info().
		Str("state", string(conv.State)).
		Bool("fallback", aiMsg.FallbackTriggered).
		Int("fragments", turn.FragmentCount()).
		Msg("turn answered")
	return nil
}

// persist saves a turn with bounded retry, recording it as dropped when retries run out
func (o *Orchestrator) persist(ctx context.Context, turn *domain.Turn, rec *repo.TurnRecord, reply string, log zerolog.Logger) error {
	res := retry.Do(ctx, o.config.Persist, func(ctx context.Context) error {
		return retryable(o.uc.Conversation.SaveTurn(ctx, rec))
	}, log)
	if res.Success {
		return nil
	}
	o.drop(ctx, turn, reply, res.LastError)
	return res.LastError
}

func (o *Orchestrator) recordUsage(ctx context.Context, turn *domain.Turn, model string, usage domain.TokenUsage, now time.Time, log zerolog.Logger) {
	res := retry.Do(ctx, o.config.Persist, func(ctx context.Context) error {
		_, err := o.uc.Usage.Record(ctx, turn.TenantID, turn.ID, model, usage, now)
		return retryable(err)
	}, log)
	if !res.Success {
		log.Error().Err(res.LastError).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Msg("usage not recorded")
	}
}

// retryable stops retries on errors a second attempt cannot fix, such as constraint violations
func retryable(err error) error {
	if err != nil && !retry.IsTransient(err) {
		return retry.Permanent(err)
	}
	return err
}

// drop leaves a trace of a turn that could not be persisted
func (o *Orchestrator) drop(ctx context.Context, turn *domain.Turn, reply string, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	dropped := &domain.DroppedTurn{
		TurnID:    turn.ID,
		TenantID:  turn.TenantID,
		EndUserID: turn.EndUserID,
		Text:      turn.Text(),
		Reply:     reply,
		Reason:    reason,
		DroppedAt: o.clock.Now(),
	}

	// The pipeline context may be what failed, the trace gets its own
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := o.uc.Conversation.RecordDropped(recCtx, dropped)

	ev := o.log.Error().
		Str("turn_id", turn.ID).
		Str("tenant_id", turn.TenantID).
		Str("end_user_id", turn.EndUserID).
		Str("text", dropped.Text).
		Str("reply", reply).
		Str("reason", reason)
	if err != nil {
		ev = ev.AnErr("record_error", err)
	}
	ev.Msg("turn dropped")
}

func (o *Orchestrator) onFlushError(turn *domain.Turn, err error) {
	if domain.KindOf(err) == domain.KindPersistenceFailed {
		// Already traced by drop
		return
	}
	o.log.Error().Err(err).
		Str("turn_id", turn.ID).
		Str("key", turn.Key().String()).
		Msg("turn processing aborted")
}

func (o *Orchestrator) newMessage(turn *domain.Turn, sender domain.SenderKind, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:         uuid.NewString(),
		TenantID:   turn.TenantID,
		EndUserID:  turn.EndUserID,
		TurnID:     turn.ID,
		SenderKind: sender,
		Content:    content,
		CreatedAt:  at,
	}
}

// HumanReplied records an operator reply and delivers it to the end user.
// It fails with domain.ErrIllegalTransition while the AI owns the thread.
func (o *Orchestrator) HumanReplied(ctx context.Context, tenantID, endUserID, text string) (*domain.Conversation, error) {
	text = strings.TrimSpace(text)
	if tenantID == "" || endUserID == "" {
		return nil, domain.NewError(domain.KindInvalidInput, "human replied", errors.New("tenant_id and end_user_id are required"))
	}

	key := domain.ConversationKey{TenantID: tenantID, EndUserID: endUserID}
	unlock := o.locks.Lock(key)
	defer unlock()

	now := o.clock.Now()
	var msg *domain.Message
	if text != "" {
		msg = &domain.Message{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			EndUserID:  endUserID,
			SenderKind: domain.SenderHuman,
			Content:    text,
			CreatedAt:  now,
		}
	}

	conv, err := o.uc.Conversation.RecordHumanReply(ctx, key, msg, now)
	if err != nil {
		return conv, err
	}

	if msg != nil {
		if err := o.delivery.Deliver(ctx, tenantID, endUserID, text); err != nil {
			o.log.Error().Err(err).Str("key", key.String()).Msg("operator reply delivery failed")
		}
	}
	return conv, nil
}

// Release hands a thread back to the AI
func (o *Orchestrator) Release(ctx context.Context, tenantID, endUserID string) (*domain.Conversation, error) {
	return o.fire(ctx, tenantID, endUserID, domain.EventOperatorRelease)
}

// Takeover lets an operator claim a thread the AI is handling
func (o *Orchestrator) Takeover(ctx context.Context, tenantID, endUserID string) (*domain.Conversation, error) {
	return o.fire(ctx, tenantID, endUserID, domain.EventOperatorTakeover)
}

func (o *Orchestrator) fire(ctx context.Context, tenantID, endUserID string, ev domain.Event) (*domain.Conversation, error) {
	if tenantID == "" || endUserID == "" {
		return nil, domain.NewError(domain.KindInvalidInput, string(ev), errors.New("tenant_id and end_user_id are required"))
	}
	key := domain.ConversationKey{TenantID: tenantID, EndUserID: endUserID}
	unlock := o.locks.Lock(key)
	defer unlock()

	conv, err := o.uc.Conversation.Fire(ctx, key, ev, o.clock.Now())
	if err != nil {
		return conv, err
	}
	o.log.Info().Str("key", key.String()).Str("event", string(ev)).Str("state", string(conv.State)).Msg("operator event applied")
	return conv, nil
}

// ReclaimInactive returns idle human threads to the AI, returning how many were reclaimed
func (o *Orchestrator) ReclaimInactive(ctx context.Context) (int, error) {
	inactivity := func(tenantID string) time.Duration {
		return o.uc.BotConfig.Cached(tenantID).HumanInactivity()
	}

	due, err := o.uc.Conversation.InactiveHumanThreads(ctx, o.clock.Now(), inactivity)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return reclaimed, ctx.Err()
		}
		ok, err := o.reclaim(ctx, c.Key(), inactivity(c.TenantID))
		if err != nil {
			o.log.Warn().Err(err).Str("key", c.Key().String()).Msg("reclaim failed")
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// reclaim re-checks inactivity under the key lock, since an operator may have replied meanwhile
func (o *Orchestrator) reclaim(ctx context.Context, key domain.ConversationKey, inactivity time.Duration) (bool, error) {
	unlock := o.locks.Lock(key)
	defer unlock()

	now := o.clock.Now()
	conv, err := o.uc.Conversation.Get(ctx, key)
	if err != nil || conv == nil || !conv.InactiveSince(now, inactivity) {
		return false, err
	}

	if _, err := o.uc.Conversation.Fire(ctx, key, domain.EventHumanInactive, now); err != nil {
		return false, err
	}
	o.log.Info().Str("key", key.String()).Dur("inactivity", inactivity).Msg("human thread returned to AI")
	return true, nil
}

// Conversation returns a conversation and its last limit messages, nil if it does not exist
func (o *Orchestrator) Conversation(ctx context.Context, tenantID, endUserID string, limit int) (*ConversationView, error) {
	key := domain.ConversationKey{TenantID: tenantID, EndUserID: endUserID}
	conv, err := o.uc.Conversation.Get(ctx, key)
	if err != nil || conv == nil {
		return nil, err
	}
	msgs, err := o.uc.Conversation.History(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	return &ConversationView{Conversation: conv, Messages: msgs}, nil
}

// Usage returns a tenant's usage for days in [from, to]
func (o *Orchestrator) Usage(ctx context.Context, tenantID, from, to string) (*UsageReport, error) {
	if from == to {
		day, err := o.uc.Usage.Day(ctx, tenantID, from)
		if err != nil {
			return nil, err
		}
		report := &UsageReport{Days: []*domain.UsageCounter{}, Total: day}
		if day.MessagesProcessed > 0 {
			report.Days = append(report.Days, day)
		}
		return report, nil
	}
	days, total, err := o.uc.Usage.Range(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return &UsageReport{Days: days, Total: total}, nil
}

// AddKnowledge ingests a document into a tenant's knowledge base
func (o *Orchestrator) AddKnowledge(ctx context.Context, doc *domain.KnowledgeDocument) (int, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = o.clock.Now()
	}
	return o.uc.Knowledge.Ingest(ctx, doc)
}

// Stats returns buffer diagnostics
func (o *Orchestrator) Stats() domain.BufferStats {
	return o.buffer.Stats()
}

// Shutdown flushes every pending turn, waits for running flushes and stops the buffer
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.buffer.FlushAll(ctx)
	o.buffer.Close()
	if err != nil {
		return fmt.Errorf("flush pending turns: %w", err)
	}
	return nil
}

// BotConfig returns the tenant's configuration, defaults if none is stored
func (o *Orchestrator) BotConfig(ctx context.Context, tenantID string) (*domain.BotConfig, error) {
	return o.uc.BotConfig.Get(ctx, tenantID)
}

// SaveBotConfig validates and stores a tenant's configuration
func (o *Orchestrator) SaveBotConfig(ctx context.Context, cfg *domain.BotConfig) error {
	return o.uc.BotConfig.Save(ctx, cfg)
}
