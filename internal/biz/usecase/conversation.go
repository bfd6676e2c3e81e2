package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// ConversationUsecase drives the conversation state machine against the store.
// Callers serialize calls per conversation key.
type ConversationUsecase struct {
	convRepo repo.ConversationRepo
}

// NewConversationUsecase creates a new conversation usecase
func NewConversationUsecase(convRepo repo.ConversationRepo) *ConversationUsecase {
	return &ConversationUsecase{convRepo: convRepo}
}

// Load loads a conversation, creating it on first contact
func (uc *ConversationUsecase) Load(ctx context.Context, key domain.ConversationKey, now time.Time) (*domain.Conversation, error) {
	conv, err := uc.convRepo.GetOrCreate(ctx, key, now)
	if err != nil {
		return nil, domain.NewError(domain.KindPersistenceFailed, "load conversation", err)
	}
	return conv, nil
}

// Get gets a conversation without creating it
func (uc *ConversationUsecase) Get(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	conv, err := uc.convRepo.Get(ctx, key)
	if err != nil {
		return nil, domain.NewError(domain.KindPersistenceFailed, "get conversation", err)
	}
	return conv, nil
}

// existing gets a conversation the end user has already started
func (uc *ConversationUsecase) existing(ctx context.Context, op string, key domain.ConversationKey) (*domain.Conversation, error) {
	conv, err := uc.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.NewError(domain.KindNotFound, op, fmt.Errorf("no conversation for %s", key))
	}
	return conv, nil
}

// Fire applies an event to an existing conversation and persists the new state.
// An unknown key returns domain.ErrNotFound and an illegal event returns
// domain.ErrIllegalTransition; neither writes anything.
func (uc *ConversationUsecase) Fire(ctx context.Context, key domain.ConversationKey, ev domain.Event, now time.Time) (*domain.Conversation, error) {
	conv, err := uc.existing(ctx, "fire "+string(ev), key)
	if err != nil {
		return nil, err
	}

	if err := conv.Fire(ev, now); err != nil {
		return conv, err
	}

	if err := uc.convRepo.SaveState(ctx, conv); err != nil {
		return nil, domain.NewError(domain.KindPersistenceFailed, "save state", err)
	}
	return conv, nil
}

// RecordHumanReply fires human_replied and appends the operator's message, if any, in one write
func (uc *ConversationUsecase) RecordHumanReply(ctx context.Context, key domain.ConversationKey, msg *domain.Message, now time.Time) (*domain.Conversation, error) {
	conv, err := uc.existing(ctx, "record human reply", key)
	if err != nil {
		return nil, err
	}

	if err := conv.Fire(domain.EventHumanReplied, now); err != nil {
		return conv, err
	}

	rec := &repo.TurnRecord{Conversation: conv}
	if msg != nil {
		rec.Messages = append(rec.Messages, msg)
	}
	if err := uc.convRepo.SaveTurn(ctx, rec); err != nil {
		return nil, domain.NewError(domain.KindPersistenceFailed, "save human reply", err)
	}
	return conv, nil
}

// SaveTurn persists a processed turn
func (uc *ConversationUsecase) SaveTurn(ctx context.Context, rec *repo.TurnRecord) error {
	if err := uc.convRepo.SaveTurn(ctx, rec); err != nil {
		return domain.NewError(domain.KindPersistenceFailed, "save turn", err)
	}
	return nil
}

// History returns the last limit messages in chronological order
func (uc *ConversationUsecase) History(ctx context.Context, key domain.ConversationKey, limit int) ([]*domain.Message, error) {
	msgs, err := uc.convRepo.RecentMessages(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

// InactiveHumanThreads lists HUMAN_RESPONDED conversations whose operator has been silent too long
func (uc *ConversationUsecase) InactiveHumanThreads(ctx context.Context, now time.Time, inactivity func(tenantID string) time.Duration) ([]*domain.Conversation, error) {
	convs, err := uc.convRepo.ListByState(ctx, domain.StateHumanResponded)
	if err != nil {
		return nil, fmt.Errorf("list human threads: %w", err)
	}

	var due []*domain.Conversation
	for _, c := range convs {
		if c.InactiveSince(now, inactivity(c.TenantID)) {
			due = append(due, c)
		}
	}
	return due, nil
}

// RecordDropped stores a turn that could not be persisted
func (uc *ConversationUsecase) RecordDropped(ctx context.Context, turn *domain.DroppedTurn) error {
	return uc.convRepo.RecordDroppedTurn(ctx, turn)
}
