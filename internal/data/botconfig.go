package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// botConfigRepo stores tenant configs as JSON documents
type botConfigRepo struct {
	db *sql.DB
}

// NewBotConfigRepo creates a new bot config repository
func NewBotConfigRepo(db *sql.DB) (repo.BotConfigRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bot_configs (
			tenant_id TEXT PRIMARY KEY,
			config TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot_configs table: %w", err)
	}
	return &botConfigRepo{db: db}, nil
}

// Get gets a tenant config
func (r *botConfigRepo) Get(ctx context.Context, tenantID string) (*domain.BotConfig, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT config FROM bot_configs WHERE tenant_id = ?`, tenantID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bot config: %w", err)
	}

	var cfg domain.BotConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode bot config: %w", err)
	}
	cfg.TenantID = tenantID
	return &cfg, nil
}

// Save creates or replaces a tenant config
func (r *botConfigRepo) Save(ctx context.Context, cfg *domain.BotConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode bot config: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bot_configs (tenant_id, config, updated_at)
		VALUES (?, ?, ?)
	`, cfg.TenantID, string(raw), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}
	return nil
}

// List lists all stored configs
func (r *botConfigRepo) List(ctx context.Context) ([]*domain.BotConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tenant_id, config FROM bot_configs ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot configs: %w", err)
	}
	defer rows.Close()

	var cfgs []*domain.BotConfig
	for rows.Next() {
		var tenantID, raw string
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan bot config: %w", err)
		}
		var cfg domain.BotConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode bot config %s: %w", tenantID, err)
		}
		cfg.TenantID = tenantID
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, rows.Err()
}
