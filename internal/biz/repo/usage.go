package repo

import (
	"context"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// UsageRepo is the usage ledger interface
type UsageRepo interface {
	// AddUsage adds a delta to the (tenant, day) counter.
	// A delta whose TurnID was already applied is ignored; applied reports whether it counted.
	AddUsage(ctx context.Context, delta *domain.UsageDelta) (applied bool, err error)

	// GetUsage gets one day's counter, zero-valued if none
	GetUsage(ctx context.Context, tenantID, day string) (*domain.UsageCounter, error)

	// ListUsage lists counters for days in [from, to]
	ListUsage(ctx context.Context, tenantID, from, to string) ([]*domain.UsageCounter, error)
}
