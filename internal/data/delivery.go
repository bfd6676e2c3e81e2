package data

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// Sender is one channel adapter
type Sender interface {
	Send(ctx context.Context, tenantID, endUserID, text string) error
}

// ChannelResolver returns the channel a tenant talks on
type ChannelResolver func(ctx context.Context, tenantID string) domain.Channel

// DeliveryConfig paces outbound messages per tenant
type DeliveryConfig struct {
	RatePerSecond float64
	Burst         int
}

// DefaultDeliveryConfig returns the default pacing
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{RatePerSecond: 5, Burst: 10}
}

// deliveryRouter implements DeliveryRepo by routing to the tenant's channel
type deliveryRouter struct {
	senders  map[domain.Channel]Sender
	channel  ChannelResolver
	config   DeliveryConfig
	log      zerolog.Logger
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDeliveryRouter creates the outbound router
func NewDeliveryRouter(senders map[domain.Channel]Sender, channel ChannelResolver, config DeliveryConfig, log zerolog.Logger) repo.DeliveryRepo {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = DefaultDeliveryConfig().RatePerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultDeliveryConfig().Burst
	}
	return &deliveryRouter{
		senders:  senders,
		channel:  channel,
		config:   config,
		log:      log.With().Str("component", "delivery").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Deliver sends text to the end user, waiting for the tenant's rate budget
func (r *deliveryRouter) Deliver(ctx context.Context, tenantID, endUserID, text string) error {
	ch := domain.ChannelWhatsApp
	if r.channel != nil {
		if c := r.channel(ctx, tenantID); c != "" {
			ch = c
		}
	}

	sender, ok := r.senders[ch]
	if !ok || sender == nil {
		return domain.NewError(domain.KindDeliveryFailed, "deliver", fmt.Errorf("no sender for channel %q", ch))
	}

	if err := r.limiter(tenantID).Wait(ctx); err != nil {
		return domain.NewError(domain.KindDeliveryFailed, "deliver", fmt.Errorf("rate limit wait: %w", err))
	}

	if err := sender.Send(ctx, tenantID, endUserID, text); err != nil {
		return domain.NewError(domain.KindDeliveryFailed, "deliver", err)
	}

	r.log.Debug().
		Str("tenant_id", tenantID).
		Str("end_user_id", endUserID).
		Str("channel", string(ch)).
		Msg("reply delivered")
	return nil
}

func (r *deliveryRouter) limiter(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.config.RatePerSecond), r.config.Burst)
		r.limiters[tenantID] = l
	}
	return l
}
