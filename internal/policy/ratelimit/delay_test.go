package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDelayManager_PauseStaysInRange(t *testing.T) {
	t.Parallel()

	m := NewDelayManager(2*time.Second, 5*time.Second, zap.NewNop())
	var slept []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Pause(context.Background()))
	}
	require.Len(t, slept, 50)
	for _, d := range slept {
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.Less(t, d, 5*time.Second)
	}
}

func TestDelayManager_PauseHonorsContext(t *testing.T) {
	t.Parallel()

	m := NewDelayManager(2*time.Second, 5*time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := m.Pause(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestDelayManager_Defaults(t *testing.T) {
	t.Parallel()

	m := NewDelayManager(0, 0, nil)
	require.Equal(t, 2*time.Second, m.min)
	require.Equal(t, 5*time.Second, m.max)
}

func TestProbeCap_Wait(t *testing.T) {
	t.Parallel()

	uncapped := NewProbeCap(0, 0) // disabled: must never block
	for i := 0; i < 100; i++ {
		require.NoError(t, uncapped.Wait(context.Background()))
	}

	limited := NewProbeCap(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, limited.Wait(ctx))
	cancel()
	require.Error(t, limited.Wait(ctx))
}
