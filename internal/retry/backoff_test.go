package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, zerolog.Nop())

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.LastError)
	assert.Len(t, res.Reasons, 2)
}

func TestDo_GivesUp(t *testing.T) {
	boom := errors.New("disk I/O error")
	res := Do(context.Background(), fastConfig(), func(ctx context.Context) error { return boom }, zerolog.Nop())

	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Attempts)
	assert.ErrorIs(t, res.LastError, boom)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	boom := errors.New("constraint failed")
	calls := 0
	res := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		return Permanent(boom)
	}, zerolog.Nop())

	assert.Equal(t, 1, calls)
	assert.False(t, res.Success)
	assert.Equal(t, boom, res.LastError)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := Do(ctx, cfg, func(ctx context.Context) error { return errors.New("busy") }, zerolog.Nop())

	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.LastError, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, time.Second, calculateDelay(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		assert.InDelta(t, float64(200*time.Millisecond), float64(d), float64(20*time.Millisecond))
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("SQLITE_BUSY: database is locked")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsTransient(nil))
}
