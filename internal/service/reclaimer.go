package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reclaimer periodically returns idle HUMAN_RESPONDED threads to the AI
type Reclaimer struct {
	orch     *Orchestrator
	interval time.Duration
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReclaimer creates a new reclaimer
func NewReclaimer(orch *Orchestrator, interval time.Duration, log zerolog.Logger) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{
		orch:     orch,
		interval: interval,
		log:      log.With().Str("component", "reclaimer").Logger(),
	}
}

// Start starts the reclaim loop
func (r *Reclaimer) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop()

	r.log.Info().Dur("interval", r.interval).Msg("started")
}

// Stop stops the loop and waits for a running sweep
func (r *Reclaimer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info().Msg("stopped")
}

func (r *Reclaimer) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reclaimer) sweep() {
	n, err := r.orch.ReclaimInactive(r.ctx)
	if err != nil {
		if r.ctx.Err() == nil {
			r.log.Error().Err(err).Msg("sweep failed")
		}
		return
	}
	if n > 0 {
		r.log.Info().Int("reclaimed", n).Msg("sweep done")
	}
}
