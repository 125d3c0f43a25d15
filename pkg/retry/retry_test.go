package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)

	startup := StartupConfig()
	assert.Greater(t, startup.MaxRetries, cfg.MaxRetries)
	assert.Greater(t, startup.MaxDelay, cfg.MaxDelay)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return last
	})

	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := Do(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_NilConfigUsesDefaults(t *testing.T) {
	err := Do(context.Background(), nil, func() error { return nil })
	assert.NoError(t, err)
}

func TestWait_RespectsMaxDelay(t *testing.T) {
	cfg := &Config{InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, Multiplier: 10}

	next, err := wait(context.Background(), cfg, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, next)
}

func TestApplyJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, applyJitter(base, 0))
	for i := 0; i < 50; i++ {
		d := applyJitter(base, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func TestDoWithResult_KeepsLastResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		calls++
		return calls, errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, got)
}

func TestDoIfRetryable_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := DoIfRetryable(context.Background(), fastConfig(5), func() (string, error) {
		calls++
		return "", errors.New("password authentication failed for user \"ekaya\"")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoIfRetryable_RetriesTransientError(t *testing.T) {
	calls := 0
	got, err := DoIfRetryable(context.Background(), fastConfig(5), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("FATAL: the database system is starting up")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"net op error", fmt.Errorf("failed to connect: %w", &net.OpError{Op: "dial", Err: errors.New("boom")}), true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
		{"auth", errors.New("password authentication failed"), false},
		{"syntax", errors.New("syntax error at or near \"SELEC\""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
