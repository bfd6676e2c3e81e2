package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// ErrBufferClosed is returned by Enqueue after Close
var ErrBufferClosed = errors.New("message buffer closed")

// FlushFunc processes one debounced turn
type FlushFunc func(ctx context.Context, turn *domain.Turn) error

// BufferConfig contains buffer configuration
type BufferConfig struct {
	// Window resolves the quiet period of a tenant. Nil or non-positive results use DefaultWindow.
	Window        func(tenantID string) time.Duration
	DefaultWindow time.Duration
	FlushTimeout  time.Duration // Upper bound for one flush callback, 0 = none
}

// DefaultBufferConfig returns default buffer configuration
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		DefaultWindow: domain.DefaultDebounce,
		FlushTimeout:  2 * time.Minute,
	}
}

// keySlot holds the debounce state of one (tenant, end user).
// gen is bumped on every enqueue and every manual flush so that a timer
// armed for an older generation becomes a no-op when it fires late.
type keySlot struct {
	mu       sync.Mutex
	gen      uint64
	pending  *domain.Turn
	timer    Timer
	queue    []*domain.Turn // Flushed turns waiting for the drain loop
	draining bool
	dead     bool // Removed from the key map; enqueuers must look up again
}

// MessageBuffer debounces message bursts per conversation key.
// Flushes for one key run one at a time in arrival order; distinct keys never block each other.
type MessageBuffer struct {
	config  BufferConfig
	clock   Clock
	flush   FlushFunc
	onError func(turn *domain.Turn, err error)
	log     zerolog.Logger

	mu     sync.Mutex
	slots  map[domain.ConversationKey]*keySlot
	closed bool

	inflight int           // Running drain loops, guarded by mu
	idle     chan struct{} // Closed when inflight drops to zero

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMessageBuffer creates a new message buffer
func NewMessageBuffer(config BufferConfig, clock Clock, flush FlushFunc, log zerolog.Logger) *MessageBuffer {
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = domain.DefaultDebounce
	}
	if clock == nil {
		clock = RealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageBuffer{
		config: config,
		clock:  clock,
		flush:  flush,
		log:    log.With().Str("component", "buffer").Logger(),
		slots:  make(map[domain.ConversationKey]*keySlot),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnFlushError registers a handler for failed or panicking flushes
func (b *MessageBuffer) OnFlushError(handler func(turn *domain.Turn, err error)) {
	b.onError = handler
}

// Enqueue appends a fragment to the key's pending turn and re-arms its quiet-period timer.
// Fragments are never dropped; a fragment arriving while a flush is in flight starts a new turn.
func (b *MessageBuffer) Enqueue(tenantID, endUserID, fragment string, now time.Time) error {
	key := domain.ConversationKey{TenantID: tenantID, EndUserID: endUserID}
	window := b.window(tenantID)

	for {
		slot, err := b.lookup(key)
		if err != nil {
			return err
		}

		slot.mu.Lock()
		if slot.dead {
			slot.mu.Unlock()
			continue
		}

		if slot.pending == nil {
			slot.pending = &domain.Turn{
				ID:        uuid.NewString(),
				TenantID:  tenantID,
				EndUserID: endUserID,
				FirstAt:   now,
			}
		}
		slot.pending.Fragments = append(slot.pending.Fragments, fragment)
		slot.pending.LastAt = now

		slot.gen++
		gen := slot.gen
		if slot.timer != nil {
			slot.timer.Stop()
		}
		slot.timer = b.clock.AfterFunc(window, func() {
			b.expire(key, slot, gen)
		})
		count := len(slot.pending.Fragments)
		slot.mu.Unlock()

		b.log.Debug().
			Str("key", key.String()).
			Int("fragments", count).
			Dur("window", window).
			Msg("fragment buffered")
		return nil
	}
}

// FlushAll flushes every pending turn immediately and waits for all flushes to finish
func (b *MessageBuffer) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	slots := make(map[domain.ConversationKey]*keySlot, len(b.slots))
	for k, s := range b.slots {
		slots[k] = s
	}
	b.mu.Unlock()

	for key, slot := range slots {
		slot.mu.Lock()
		if slot.pending == nil {
			slot.mu.Unlock()
			continue
		}
		slot.gen++
		if slot.timer != nil {
			slot.timer.Stop()
			slot.timer = nil
		}
		b.enqueueFlushLocked(key, slot)
	}

	return b.wait(ctx)
}

// Close stops all timers and waits for in-flight flushes.
// Pending turns that were not flushed are discarded; call FlushAll first to keep them.
func (b *MessageBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	dropped := 0
	for _, slot := range b.slots {
		slot.mu.Lock()
		slot.gen++
		if slot.timer != nil {
			slot.timer.Stop()
			slot.timer = nil
		}
		if slot.pending != nil {
			dropped++
		}
		slot.mu.Unlock()
	}
	b.mu.Unlock()

	_ = b.wait(context.Background())
	b.cancel()

	if dropped > 0 {
		b.log.Warn().Int("turns", dropped).Msg("closed with unflushed turns")
	}
}

// Stats returns a snapshot of the buffer
func (b *MessageBuffer) Stats() domain.BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats domain.BufferStats
	for _, slot := range b.slots {
		slot.mu.Lock()
		if slot.pending != nil {
			stats.PendingKeys++
			stats.PendingFragments += len(slot.pending.Fragments)
		}
		if slot.draining {
			stats.InFlight++
		}
		slot.mu.Unlock()
	}
	return stats
}

func (b *MessageBuffer) window(tenantID string) time.Duration {
	if b.config.Window != nil {
		if d := b.config.Window(tenantID); d > 0 {
			return d
		}
	}
	return b.config.DefaultWindow
}

// lookup holds the map lock only long enough to find or create the slot
func (b *MessageBuffer) lookup(key domain.ConversationKey) (*keySlot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBufferClosed
	}
	slot, ok := b.slots[key]
	if !ok {
		slot = &keySlot{}
		b.slots[key] = slot
	}
	return slot, nil
}

// expire runs when a quiet-period timer fires
func (b *MessageBuffer) expire(key domain.ConversationKey, slot *keySlot, gen uint64) {
	slot.mu.Lock()
	if slot.gen != gen || slot.pending == nil {
		// Superseded by a later enqueue or flushed already
		slot.mu.Unlock()
		return
	}
	slot.timer = nil
	b.enqueueFlushLocked(key, slot)
}

// enqueueFlushLocked moves the pending turn to the drain queue and starts the drain loop if idle.
// Must be called with slot.mu held; it releases it.
func (b *MessageBuffer) enqueueFlushLocked(key domain.ConversationKey, slot *keySlot) {
	turn := slot.pending
	slot.pending = nil
	slot.queue = append(slot.queue, turn)

	if slot.draining {
		slot.mu.Unlock()
		return
	}
	slot.draining = true
	slot.mu.Unlock()

	if !b.track() {
		b.log.Error().
			Str("key", key.String()).
			Str("turn_id", turn.ID).
			Msg("buffer closed, turn not flushed")
		return
	}
	go b.drain(key, slot)
}

func (b *MessageBuffer) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if b.inflight == 0 {
		b.idle = make(chan struct{})
	}
	b.inflight++
	return true
}

func (b *MessageBuffer) untrack() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if b.inflight == 0 {
		close(b.idle)
	}
}

func (b *MessageBuffer) drain(key domain.ConversationKey, slot *keySlot) {
	defer b.untrack()

	for {
		slot.mu.Lock()
		if len(slot.queue) == 0 {
			slot.draining = false
			idle := slot.pending == nil
			slot.mu.Unlock()
			if idle {
				b.release(key, slot)
			}
			return
		}
		turn := slot.queue[0]
		slot.queue[0] = nil
		slot.queue = slot.queue[1:]
		slot.mu.Unlock()

		b.run(turn)
	}
}

// release drops an idle slot from the key map
func (b *MessageBuffer) release(key domain.ConversationKey, slot *keySlot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.pending != nil || slot.draining || len(slot.queue) > 0 {
		return
	}
	if b.slots[key] == slot {
		delete(b.slots, key)
	}
	slot.dead = true
}

func (b *MessageBuffer) run(turn *domain.Turn) {
	ctx := b.ctx
	if b.config.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.FlushTimeout)
		defer cancel()
	}

	start := time.Now()
	err := b.safeFlush(ctx, turn)
	if err == nil {
		b.log.Debug().
			Str("key", turn.Key().String()).
			Str("turn_id", turn.ID).
			Int("fragments", turn.FragmentCount()).
			Dur("took", time.Since(start)).
			Msg("turn flushed")
		return
	}

	b.log.Error().Err(err).
		Str("key", turn.Key().String()).
		Str("turn_id", turn.ID).
		Msg("flush failed")
	if b.onError != nil {
		b.onError(turn, err)
	}
}

func (b *MessageBuffer) safeFlush(ctx context.Context, turn *domain.Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flush panic: %v", r)
		}
	}()
	if b.flush == nil {
		return fmt.Errorf("no flush handler registered")
	}
	return b.flush(ctx, turn)
}

func (b *MessageBuffer) wait(ctx context.Context) error {
	b.mu.Lock()
	if b.inflight == 0 {
		b.mu.Unlock()
		return nil
	}
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for flushes: %w", ctx.Err())
	}
}
