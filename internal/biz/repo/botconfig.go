package repo

import (
	"context"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// BotConfigRepo is the tenant configuration store
type BotConfigRepo interface {
	// Get gets a tenant config, nil if none is stored
	Get(ctx context.Context, tenantID string) (*domain.BotConfig, error)

	// Save creates or replaces a tenant config
	Save(ctx context.Context, cfg *domain.BotConfig) error

	// List lists all stored configs
	List(ctx context.Context) ([]*domain.BotConfig, error)
}
