package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// usageRepo implements the usage ledger
type usageRepo struct {
	db *sql.DB
}

// NewUsageRepo creates a new usage repository
func NewUsageRepo(db *sql.DB) (repo.UsageRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_counters (
			tenant_id TEXT NOT NULL,
			day TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost REAL NOT NULL DEFAULT 0,
			messages_processed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, day)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_counters table: %w", err)
	}

	// Applied turns, the idempotency ledger of usage_counters
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_events (
			turn_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			day TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_events table: %w", err)
	}

	return &usageRepo{db: db}, nil
}

// AddUsage applies a delta once per turn
func (r *usageRepo) AddUsage(ctx context.Context, d *domain.UsageDelta) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if d.TurnID != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO usage_events (turn_id, tenant_id, day, created_at)
			VALUES (?, ?, ?, ?)
		`, d.TurnID, d.TenantID, d.Day, time.Now().UnixMilli())
		if err != nil {
			return false, fmt.Errorf("failed to record usage event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant_id, day, prompt_tokens, completion_tokens, estimated_cost, messages_processed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, day) DO UPDATE SET
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			estimated_cost = estimated_cost + excluded.estimated_cost,
			messages_processed = messages_processed + excluded.messages_processed
	`,
		d.TenantID,
		d.Day,
		d.Tokens.PromptTokens,
		d.Tokens.CompletionTokens,
		d.EstimatedCost,
		d.MessagesProcessed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit usage: %w", err)
	}
	return true, nil
}

// GetUsage gets one day's counter
func (r *usageRepo) GetUsage(ctx context.Context, tenantID, day string) (*domain.UsageCounter, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, day, prompt_tokens, completion_tokens, estimated_cost, messages_processed
		FROM usage_counters
		WHERE tenant_id = ? AND day = ?
	`, tenantID, day)

	c, err := scanUsage(row)
	if err == sql.ErrNoRows {
		return &domain.UsageCounter{TenantID: tenantID, Day: day}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	return c, nil
}

// ListUsage lists counters for days in [from, to]
func (r *usageRepo) ListUsage(ctx context.Context, tenantID, from, to string) ([]*domain.UsageCounter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, day, prompt_tokens, completion_tokens, estimated_cost, messages_processed
		FROM usage_counters
		WHERE tenant_id = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var counters []*domain.UsageCounter
	for rows.Next() {
		c, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

func scanUsage(row scanner) (*domain.UsageCounter, error) {
	var c domain.UsageCounter
	if err := row.Scan(&c.TenantID, &c.Day, &c.PromptTokens, &c.CompletionTokens, &c.EstimatedCost, &c.MessagesProcessed); err != nil {
		return nil, err
	}
	return &c, nil
}
