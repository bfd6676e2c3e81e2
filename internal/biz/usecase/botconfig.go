package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

type cachedConfig struct {
	cfg      *domain.BotConfig
	loadedAt time.Time
}

// BotConfigUsecase serves tenant configurations with a short-lived cache
type BotConfigUsecase struct {
	configRepo repo.BotConfigRepo
	ttl        time.Duration
	clock      Clock

	mu    sync.RWMutex
	cache map[string]cachedConfig
}

// NewBotConfigUsecase creates a new bot config usecase
func NewBotConfigUsecase(configRepo repo.BotConfigRepo, ttl time.Duration, clock Clock) *BotConfigUsecase {
	if clock == nil {
		clock = RealClock()
	}
	return &BotConfigUsecase{
		configRepo: configRepo,
		ttl:        ttl,
		clock:      clock,
		cache:      make(map[string]cachedConfig),
	}
}

// Get returns the tenant config, defaults if none is stored.
// When the store fails a stale cached copy is served; without one the error is returned.
func (uc *BotConfigUsecase) Get(ctx context.Context, tenantID string) (*domain.BotConfig, error) {
	now := uc.clock.Now()

	uc.mu.RLock()
	entry, ok := uc.cache[tenantID]
	uc.mu.RUnlock()
	if ok && now.Sub(entry.loadedAt) < uc.ttl {
		return entry.cfg, nil
	}

	cfg, err := uc.configRepo.Get(ctx, tenantID)
	if err != nil {
		if ok {
			return entry.cfg, nil
		}
		return nil, fmt.Errorf("get bot config %s: %w", tenantID, err)
	}
	if cfg == nil {
		cfg = domain.DefaultBotConfig(tenantID)
	}

	uc.mu.Lock()
	uc.cache[tenantID] = cachedConfig{cfg: cfg, loadedAt: now}
	uc.mu.Unlock()
	return cfg, nil
}

// Cached returns the cached config without touching the store, defaults if absent.
// Used on hot paths that must not block, like picking a debounce window.
func (uc *BotConfigUsecase) Cached(tenantID string) *domain.BotConfig {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if entry, ok := uc.cache[tenantID]; ok {
		return entry.cfg
	}
	return domain.DefaultBotConfig(tenantID)
}

// Save validates and stores a config, replacing the cached copy
func (uc *BotConfigUsecase) Save(ctx context.Context, cfg *domain.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return domain.NewError(domain.KindInvalidInput, "save bot config", err)
	}
	if err := uc.configRepo.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save bot config %s: %w", cfg.TenantID, err)
	}

	uc.mu.Lock()
	uc.cache[cfg.TenantID] = cachedConfig{cfg: cfg, loadedAt: uc.clock.Now()}
	uc.mu.Unlock()
	return nil
}

// Seed stores configs that are not in the store yet
func (uc *BotConfigUsecase) Seed(ctx context.Context, cfgs []*domain.BotConfig) (int, error) {
	seeded := 0
	for _, cfg := range cfgs {
		existing, err := uc.configRepo.Get(ctx, cfg.TenantID)
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", cfg.TenantID, err)
		}
		if existing != nil {
			continue
		}
		if err := uc.Save(ctx, cfg); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// Warm loads every stored config into the cache
func (uc *BotConfigUsecase) Warm(ctx context.Context) error {
	cfgs, err := uc.configRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("list bot configs: %w", err)
	}
	now := uc.clock.Now()

	uc.mu.Lock()
	defer uc.mu.Unlock()
	for _, cfg := range cfgs {
		uc.cache[cfg.TenantID] = cachedConfig{cfg: cfg, loadedAt: now}
	}
	return nil
}
