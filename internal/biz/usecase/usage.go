package usecase

import (
	"context"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// ModelPrice is the cost per thousand tokens of a model
type ModelPrice struct {
	PromptPer1K     float64 `koanf:"prompt_per_1k"`
	CompletionPer1K float64 `koanf:"completion_per_1k"`
}

// UsageUsecase records token usage and cost
type UsageUsecase struct {
	usageRepo repo.UsageRepo
	prices    map[string]ModelPrice
	fallback  ModelPrice
}

// NewUsageUsecase creates a new usage usecase.
// Models missing from prices are charged at fallback.
func NewUsageUsecase(usageRepo repo.UsageRepo, prices map[string]ModelPrice, fallback ModelPrice) *UsageUsecase {
	return &UsageUsecase{usageRepo: usageRepo, prices: prices, fallback: fallback}
}

// EstimateCost prices a token count
func (uc *UsageUsecase) EstimateCost(model string, usage domain.TokenUsage) float64 {
	price, ok := uc.prices[model]
	if !ok {
		price = uc.fallback
	}
	return float64(usage.PromptTokens)/1000*price.PromptPer1K +
		float64(usage.CompletionTokens)/1000*price.CompletionPer1K
}

// Record adds one processed turn to the tenant's daily counter. Replays of the same turn are ignored.
func (uc *UsageUsecase) Record(ctx context.Context, tenantID, turnID, model string, usage domain.TokenUsage, now time.Time) (bool, error) {
	applied, err := uc.usageRepo.AddUsage(ctx, &domain.UsageDelta{
		TenantID:          tenantID,
		TurnID:            turnID,
		Day:               domain.DayOf(now),
		Tokens:            usage,
		EstimatedCost:     uc.EstimateCost(model, usage),
		MessagesProcessed: 1,
	})
	if err != nil {
		return false, domain.NewError(domain.KindPersistenceFailed, "add usage", err)
	}
	return applied, nil
}

// Day returns a tenant's counter for one day
func (uc *UsageUsecase) Day(ctx context.Context, tenantID, day string) (*domain.UsageCounter, error) {
	return uc.usageRepo.GetUsage(ctx, tenantID, day)
}

// Range returns a tenant's counters for [from, to] plus their sum
func (uc *UsageUsecase) Range(ctx context.Context, tenantID, from, to string) ([]*domain.UsageCounter, *domain.UsageCounter, error) {
	days, err := uc.usageRepo.ListUsage(ctx, tenantID, from, to)
	if err != nil {
		return nil, nil, err
	}

	total := &domain.UsageCounter{TenantID: tenantID, Day: from + ".." + to}
	for _, d := range days {
		total.PromptTokens += d.PromptTokens
		total.CompletionTokens += d.CompletionTokens
		total.EstimatedCost += d.EstimatedCost
		total.MessagesProcessed += d.MessagesProcessed
	}
	return days, total, nil
}
