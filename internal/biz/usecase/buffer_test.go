package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

var bufferEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type flushRecorder struct {
	mu    sync.Mutex
	turns []*domain.Turn
	ch    chan *domain.Turn
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ch: make(chan *domain.Turn, 32)}
}

func (r *flushRecorder) flush(ctx context.Context, turn *domain.Turn) error {
	r.mu.Lock()
	r.turns = append(r.turns, turn)
	r.mu.Unlock()
	r.ch <- turn
	return nil
}

func (r *flushRecorder) next(t *testing.T) *domain.Turn {
	t.Helper()
	select {
	case turn := <-r.ch:
		return turn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
		return nil
	}
}

func newTestBuffer(clock Clock, flush FlushFunc) *MessageBuffer {
	return NewMessageBuffer(DefaultBufferConfig(), clock, flush, zerolog.Nop())
}

func TestMessageBuffer_CoalescesBurstIntoOneTurn(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	rec := newFlushRecorder()
	buf := newTestBuffer(clock, rec.flush)
	defer buf.Close()

	require.NoError(t, buf.Enqueue("t1", "u1", "oi", clock.Now()))
	clock.Advance(2 * time.Second)
	require.NoError(t, buf.Enqueue("t1", "u1", "quanto custa", clock.Now()))
	clock.Advance(2 * time.Second)
	require.NoError(t, buf.Enqueue("t1", "u1", "o carro pequeno", clock.Now()))

	// 18s after the first fragment, 14s after the last: still quiet period
	clock.Advance(14 * time.Second)
	stats := buf.Stats()
	assert.Equal(t, 1, stats.PendingKeys)
	assert.Equal(t, 3, stats.PendingFragments)

	clock.Advance(1 * time.Second)
	turn := rec.next(t)

	assert.Equal(t, "oi quanto custa o carro pequeno", turn.Text())
	assert.Equal(t, 3, turn.FragmentCount())
	assert.Equal(t, bufferEpoch, turn.FirstAt)
	assert.Equal(t, bufferEpoch.Add(4*time.Second), turn.LastAt)
	assert.NotEmpty(t, turn.ID)

	require.Eventually(t, func() bool { return buf.Stats() == domain.BufferStats{} }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Len(t, rec.turns, 1)
	rec.mu.Unlock()
}

func TestMessageBuffer_SeparateTurnsAfterQuietPeriod(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	rec := newFlushRecorder()
	buf := newTestBuffer(clock, rec.flush)
	defer buf.Close()

	require.NoError(t, buf.Enqueue("t1", "u1", "first", clock.Now()))
	clock.Advance(15 * time.Second)
	first := rec.next(t)

	require.NoError(t, buf.Enqueue("t1", "u1", "second", clock.Now()))
	clock.Advance(15 * time.Second)
	second := rec.next(t)

	assert.Equal(t, "first", first.Text())
	assert.Equal(t, "second", second.Text())
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMessageBuffer_PerTenantWindow(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	rec := newFlushRecorder()
	cfg := DefaultBufferConfig()
	cfg.Window = func(tenantID string) time.Duration {
		if tenantID == "fast" {
			return 3 * time.Second
		}
		return 0
	}
	buf := NewMessageBuffer(cfg, clock, rec.flush, zerolog.Nop())
	defer buf.Close()

	require.NoError(t, buf.Enqueue("fast", "u1", "hello", clock.Now()))
	require.NoError(t, buf.Enqueue("slow", "u1", "hello", clock.Now()))

	clock.Advance(3 * time.Second)
	turn := rec.next(t)
	assert.Equal(t, "fast", turn.TenantID)
	assert.Equal(t, 1, buf.Stats().PendingKeys)

	clock.Advance(12 * time.Second)
	turn = rec.next(t)
	assert.Equal(t, "slow", turn.TenantID)
}

func TestMessageBuffer_LateTimerIsNoOp(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	clock.leakyStop = true
	rec := newFlushRecorder()
	buf := newTestBuffer(clock, rec.flush)
	defer buf.Close()

	require.NoError(t, buf.Enqueue("t1", "u1", "a", clock.Now()))
	clock.Advance(10 * time.Second)
	require.NoError(t, buf.Enqueue("t1", "u1", "b", clock.Now()))

	// The first timer still fires at 15s but belongs to an older generation
	clock.Advance(5 * time.Second)
	assert.Equal(t, 2, buf.Stats().PendingFragments)

	clock.Advance(10 * time.Second)
	turn := rec.next(t)
	assert.Equal(t, "a b", turn.Text())

	select {
	case extra := <-rec.ch:
		t.Fatalf("unexpected second flush %q", extra.Text())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageBuffer_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	release := make(chan struct{})
	flushed := make(chan string, 4)

	buf := newTestBuffer(clock, func(ctx context.Context, turn *domain.Turn) error {
		if turn.EndUserID == "slow" {
			<-release
		}
		flushed <- turn.EndUserID
		return nil
	})
	defer buf.Close()

	require.NoError(t, buf.Enqueue("t1", "slow", "x", clock.Now()))
	require.NoError(t, buf.Enqueue("t1", "fast", "y", clock.Now()))
	clock.Advance(15 * time.Second)

	select {
	case who := <-flushed:
		assert.Equal(t, "fast", who)
	case <-time.After(2 * time.Second):
		t.Fatal("flush of an unrelated key was blocked")
	}

	close(release)
	select {
	case who := <-flushed:
		assert.Equal(t, "slow", who)
	case <-time.After(2 * time.Second):
		t.Fatal("slow key never flushed")
	}
}

func TestMessageBuffer_FlushesOfOneKeyAreSerialized(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	var running, maxRunning int32
	release := make(chan struct{})
	started := make(chan string, 4)
	done := make(chan string, 4)

	buf := newTestBuffer(clock, func(ctx context.Context, turn *domain.Turn) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		started <- turn.Text()
		if turn.Text() == "one" {
			<-release
		}
		atomic.AddInt32(&running, -1)
		done <- turn.Text()
		return nil
	})
	defer buf.Close()

	require.NoError(t, buf.Enqueue("t1", "u1", "one", clock.Now()))
	clock.Advance(15 * time.Second)
	assert.Equal(t, "one", <-started)

	// Arrives during the in-flight flush: starts a fresh turn that waits its turn
	require.NoError(t, buf.Enqueue("t1", "u1", "two", clock.Now()))
	clock.Advance(15 * time.Second)

	select {
	case s := <-started:
		t.Fatalf("second flush %q started while the first was in flight", s)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "one", <-done)
	assert.Equal(t, "two", <-started)
	assert.Equal(t, "two", <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestMessageBuffer_FailedFlushDoesNotWedgeKey(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	var calls int32
	flushed := make(chan string, 4)
	failures := make(chan error, 4)

	buf := newTestBuffer(clock, func(ctx context.Context, turn *domain.Turn) error {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("store down")
		}
		flushed <- turn.Text()
		return nil
	})
	buf.OnFlushError(func(turn *domain.Turn, err error) {
		failures <- err
	})
	defer buf.Close()

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Enqueue("t1", "u1", text, clock.Now()))
		clock.Advance(15 * time.Second)
		if text != "c" {
			select {
			case err := <-failures:
				require.Error(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("error handler not called")
			}
		}
	}

	select {
	case text := <-flushed:
		assert.Equal(t, "c", text)
	case <-time.After(2 * time.Second):
		t.Fatal("key stuck after failures")
	}
}

func TestMessageBuffer_FlushAllDrainsPending(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	rec := newFlushRecorder()
	buf := newTestBuffer(clock, rec.flush)

	require.NoError(t, buf.Enqueue("t1", "u1", "a", clock.Now()))
	require.NoError(t, buf.Enqueue("t1", "u2", "b", clock.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, buf.FlushAll(ctx))

	rec.mu.Lock()
	assert.Len(t, rec.turns, 2)
	rec.mu.Unlock()

	// Timers armed before FlushAll must not flush again
	clock.Advance(time.Minute)
	buf.Close()
	assert.Len(t, rec.ch, 2)
}

func TestMessageBuffer_EnqueueAfterClose(t *testing.T) {
	buf := newTestBuffer(newFakeClock(bufferEpoch), newFlushRecorder().flush)
	buf.Close()

	err := buf.Enqueue("t1", "u1", "late", bufferEpoch)
	assert.ErrorIs(t, err, ErrBufferClosed)
}

func TestMessageBuffer_ConcurrentEnqueueNeverDrops(t *testing.T) {
	clock := newFakeClock(bufferEpoch)
	rec := newFlushRecorder()
	buf := newTestBuffer(clock, rec.flush)
	defer buf.Close()

	const users, perUser = 8, 25
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				_ = buf.Enqueue("t1", string(rune('a'+u)), "x", bufferEpoch)
			}
		}(u)
	}
	wg.Wait()

	clock.Advance(15 * time.Second)
	total := 0
	for u := 0; u < users; u++ {
		total += rec.next(t).FragmentCount()
	}
	assert.Equal(t, users*perUser, total)
}
