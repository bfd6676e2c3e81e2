package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// conversationRepo implements the conversation store
type conversationRepo struct {
	db *sql.DB
}

// NewConversationRepo creates a new conversation repository
func NewConversationRepo(db *sql.DB) (repo.ConversationRepo, error) {
	// Create conversations table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			tenant_id TEXT NOT NULL,
			end_user_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_message_at INTEGER NOT NULL,
			state_changed_at INTEGER NOT NULL,
			last_human_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, end_user_id)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_conversations_state ON conversations(state)`)

	// Create messages table, seq gives the append order
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			tenant_id TEXT NOT NULL,
			end_user_id TEXT NOT NULL,
			turn_id TEXT NOT NULL DEFAULT '',
			sender_kind TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL,
			fallback_triggered INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(tenant_id, end_user_id, seq)`)

	// One message per sender per turn: replays of a turn insert nothing
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_turn_sender
		ON messages(turn_id, sender_kind) WHERE turn_id <> ''
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn index: %w", err)
	}

	// Create dropped_turns table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS dropped_turns (
			turn_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			end_user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			reply TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			dropped_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped_turns table: %w", err)
	}

	return &conversationRepo{db: db}, nil
}

const conversationColumns = `tenant_id, end_user_id, state, created_at, last_message_at, state_changed_at, last_human_at`

// Get gets a conversation by key
func (r *conversationRepo) Get(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = ? AND end_user_id = ?
	`, key.TenantID, key.EndUserID)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return conv, nil
}

// GetOrCreate loads a conversation, inserting it on first contact
func (r *conversationRepo) GetOrCreate(ctx context.Context, key domain.ConversationKey, now time.Time) (*domain.Conversation, error) {
	fresh := domain.NewConversation(key.TenantID, key.EndUserID, now)
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`,
		fresh.TenantID,
		fresh.EndUserID,
		string(fresh.State),
		fresh.CreatedAt.UnixMilli(),
		fresh.LastMessageAt.UnixMilli(),
		fresh.StateChangedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	conv, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s vanished after insert", key)
	}
	return conv, nil
}

// SaveState persists state and timestamps
func (r *conversationRepo) SaveState(ctx context.Context, conv *domain.Conversation) error {
	if err := saveConversation(ctx, r.db, conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// SaveTurn persists conversation state and messages in one transaction
func (r *conversationRepo) SaveTurn(ctx context.Context, rec *repo.TurnRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveConversation(ctx, tx, rec.Conversation); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	for _, m := range rec.Messages {
		var confidence interface{}
		if m.Confidence != nil {
			confidence = *m.Confidence
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages (id, tenant_id, end_user_id, turn_id, sender_kind, content, confidence, fallback_triggered, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.ID,
			m.TenantID,
			m.EndUserID,
			m.TurnID,
			string(m.SenderKind),
			m.Content,
			confidence,
			boolToInt(m.FallbackTriggered),
			m.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages in chronological order
func (r *conversationRepo) RecentMessages(ctx context.Context, key domain.ConversationKey, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, end_user_id, turn_id, sender_kind, content, confidence, fallback_triggered, created_at
		FROM (
			SELECT * FROM messages
			WHERE tenant_id = ? AND end_user_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, key.TenantID, key.EndUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		var senderKind string
		var confidence sql.NullFloat64
		var fallback int
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.TenantID, &m.EndUserID, &m.TurnID, &senderKind, &m.Content, &confidence, &fallback, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.SenderKind = domain.SenderKind(senderKind)
		if confidence.Valid {
			v := confidence.Float64
			m.Confidence = &v
		}
		m.FallbackTriggered = fallback != 0
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// ListByState lists conversations in a state
func (r *conversationRepo) ListByState(ctx context.Context, state domain.ConversationState) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE state = ?
		ORDER BY state_changed_at ASC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// RecordDroppedTurn stores a turn that could not be persisted
func (r *conversationRepo) RecordDroppedTurn(ctx context.Context, t *domain.DroppedTurn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dropped_turns (turn_id, tenant_id, end_user_id, text, reply, reason, dropped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.TurnID, t.TenantID, t.EndUserID, t.Text, t.Reply, t.Reason, t.DroppedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record dropped turn: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *conversationRepo) Close() error {
	return r.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func saveConversation(ctx context.Context, db execer, conv *domain.Conversation) error {
	var lastHuman int64
	if !conv.LastHumanAt.IsZero() {
		lastHuman = conv.LastHumanAt.UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, end_user_id) DO UPDATE SET
			state = excluded.state,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			state_changed_at = excluded.state_changed_at,
			last_human_at = excluded.last_human_at
	`,
		conv.TenantID,
		conv.EndUserID,
		string(conv.State),
		conv.CreatedAt.UnixMilli(),
		conv.LastMessageAt.UnixMilli(),
		conv.StateChangedAt.UnixMilli(),
		lastHuman,
	)
	return err
}

func scanConversation(row scanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var state string
	var createdAt, lastMessageAt, stateChangedAt, lastHumanAt int64
	if err := row.Scan(&conv.TenantID, &conv.EndUserID, &state, &createdAt, &lastMessageAt, &stateChangedAt, &lastHumanAt); err != nil {
		return nil, err
	}
	conv.State = domain.ConversationState(state)
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.LastMessageAt = time.UnixMilli(lastMessageAt).UTC()
	conv.StateChangedAt = time.UnixMilli(stateChangedAt).UTC()
	if lastHumanAt > 0 {
		conv.LastHumanAt = time.UnixMilli(lastHumanAt).UTC()
	}
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
