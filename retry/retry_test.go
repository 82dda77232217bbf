package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/retry"
)

func TestDoRetriesOnlyRetryableErrors(t *testing.T) {
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Multiplier: 2}

	t.Run("non-retryable fails fast", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errs.New(errs.KindInvalidArgument, "bad")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retryable succeeds within attempts", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 2 {
				return errs.New(errs.KindNetwork, "blip")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausts attempts and returns last error", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errs.New(errs.KindServer, "down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		p2 := retry.Policy{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
		cancel()
		err := p2.Do(ctx, func(context.Context) error {
			calls++
			return errs.New(errs.KindTimeout, "slow")
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
