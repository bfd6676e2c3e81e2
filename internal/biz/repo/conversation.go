package repo

import (
	"context"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// TurnRecord is everything a processed turn writes to the conversation store
type TurnRecord struct {
	Conversation *domain.Conversation
	Messages     []*domain.Message
}

// ConversationRepo is the conversation store interface
// Responsible for conversation and message persistence (SQLite)
type ConversationRepo interface {
	// Get gets a conversation, nil if it does not exist
	Get(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error)

	// GetOrCreate loads a conversation, creating it in AI_ACTIVE on first contact
	GetOrCreate(ctx context.Context, key domain.ConversationKey, now time.Time) (*domain.Conversation, error)

	// SaveState persists state and timestamps of a conversation
	SaveState(ctx context.Context, conv *domain.Conversation) error

	// SaveTurn atomically persists conversation state and messages.
	// Messages already stored for the same (turn, sender) are skipped.
	SaveTurn(ctx context.Context, rec *TurnRecord) error

	// RecentMessages returns the last limit messages in chronological order
	RecentMessages(ctx context.Context, key domain.ConversationKey, limit int) ([]*domain.Message, error)

	// ListByState lists conversations in a state across tenants
	ListByState(ctx context.Context, state domain.ConversationState) ([]*domain.Conversation, error)

	// RecordDroppedTurn stores a turn that could not be persisted
	RecordDroppedTurn(ctx context.Context, turn *domain.DroppedTurn) error

	Close() error
}
