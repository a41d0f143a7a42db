package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/metrics"
)

func init() {
	metrics.Init()
}

// fakeTimeline drives a Window with a controllable clock and captures every
// sleep instead of actually waiting.
type fakeTimeline struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeTimeline() *fakeTimeline {
	return &fakeTimeline{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTimeline) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeline) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeTimeline) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func (f *fakeTimeline) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

func newTestWindow(max int) (*Window, *fakeTimeline) {
	tl := newFakeTimeline()
	w := NewWindow(WindowConfig{MaxPerMinute: max, Window: time.Minute}, zap.NewNop())
	w.now = tl.Now
	w.sleep = tl.Sleep
	return w, tl
}

func TestWindow_Acquire_NoWaitBelowThreshold(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	// 23 requests stay under the 80% threshold of 24.
	for i := 0; i < 23; i++ {
		require.NoError(t, w.Acquire(ctx, "https://example.com/a/"))
		tl.Advance(10 * time.Millisecond)
	}
	require.Empty(t, tl.Sleeps())
}

func TestWindow_Acquire_SpreadsNearLimit(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	for i := 0; i < 24; i++ {
		w.Record("https://example.com/")
		tl.Advance(time.Millisecond)
	}
	require.NoError(t, w.Acquire(ctx, "https://example.com/b/"))

	sleeps := tl.Sleeps()
	require.Len(t, sleeps, 1)
	require.Equal(t, 2*time.Second, sleeps[0])
}

func TestWindow_Acquire_WaitsForOldestAtLimit(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		w.Record("https://example.com/")
		tl.Advance(time.Second)
	}
	// The oldest timestamp is now 30s old, so the wait is 60-30+0.1 = 30.1s.
	require.NoError(t, w.Acquire(ctx, "https://example.com/c/"))

	sleeps := tl.Sleeps()
	require.Len(t, sleeps, 1)
	require.Equal(t, 30*time.Second+100*time.Millisecond, sleeps[0])
}

func TestWindow_Acquire_WaitNeverExceedsWindow(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	// Fill the window with back-to-back requests so the oldest is brand new.
	for i := 0; i < 30; i++ {
		w.Record("https://example.com/")
	}
	require.NoError(t, w.Acquire(ctx, "https://example.com/d/"))

	sleeps := tl.Sleeps()
	require.Len(t, sleeps, 1)
	require.Positive(t, sleeps[0])
	require.LessOrEqual(t, sleeps[0], time.Minute+100*time.Millisecond)
}

func TestWindow_Acquire_ExpiredEntriesFreeTheWindow(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		w.Record("https://example.com/")
	}
	tl.Advance(61 * time.Second)

	require.NoError(t, w.Acquire(ctx, "https://example.com/e/"))
	require.Empty(t, tl.Sleeps(), "expired timestamps must not count against the budget")
}

func TestWindow_Acquire_DomainsAreIndependent(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		w.Record("https://busy.example.com/")
	}
	require.NoError(t, w.Acquire(ctx, "https://quiet.example.com/"))
	require.Empty(t, tl.Sleeps())
}

func TestWindow_Acquire_RespectsContext(t *testing.T) {
	t.Parallel()

	// Real sleeper here: the canceled context must short-circuit the wait.
	w := NewWindow(WindowConfig{MaxPerMinute: 30, Window: time.Minute}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 30; i++ {
		w.Record("https://example.com/")
	}
	cancel()

	start := time.Now()
	err := w.Acquire(ctx, "https://example.com/")
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "canceled acquire must not block")
}

func TestWindow_Record_CountsTowardBudget(t *testing.T) {
	t.Parallel()

	w, tl := newTestWindow(30)
	ctx := context.Background()

	// 12 acquires plus 12 records reaches the threshold of 24.
	for i := 0; i < 12; i++ {
		require.NoError(t, w.Acquire(ctx, "https://example.com/"))
		w.Record("https://example.com/")
	}
	require.NoError(t, w.Acquire(ctx, "https://example.com/"))

	sleeps := tl.Sleeps()
	require.Len(t, sleeps, 1)
	require.Equal(t, 2*time.Second, sleeps[0])
}
