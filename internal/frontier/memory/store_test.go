package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

func TestStore_EnqueueAndLease(t *testing.T) {
	t.Parallel()

	store := New(3)
	ctx := context.Background()

	added, err := store.Enqueue(ctx, "https://example.com/a/", "example.com", 0)
	require.NoError(t, err)
	require.True(t, added)

	added, err = store.Enqueue(ctx, "https://example.com/a/", "example.com", 0)
	require.NoError(t, err)
	require.False(t, added)

	record, err := store.LeaseNext(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusLeased, record.Status)
	require.Equal(t, 1, record.Attempts)

	_, err = store.LeaseNext(ctx, "example.com")
	require.ErrorIs(t, err, crawler.ErrFrontierEmpty)
}

func TestStore_ConcurrentLeaseSingleWinner(t *testing.T) {
	t.Parallel()

	store := New(3)
	ctx := context.Background()
	_, err := store.Enqueue(ctx, "https://example.com/one/", "example.com", 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wins := make(chan *crawler.URLRecord, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if record, leaseErr := store.LeaseNext(ctx, "example.com"); leaseErr == nil {
				wins <- record
			}
		}()
	}
	wg.Wait()
	close(wins)
	require.Len(t, wins, 1)
}

func TestStore_FailRetriesThenRetires(t *testing.T) {
	t.Parallel()

	store := New(2)
	ctx := context.Background()
	_, err := store.Enqueue(ctx, "https://example.com/flaky/", "example.com", 0)
	require.NoError(t, err)

	first, err := store.LeaseNext(ctx, "example.com")
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, first.ID))

	second, err := store.LeaseNext(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.Attempts)
	require.NoError(t, store.Fail(ctx, second.ID))

	_, err = store.LeaseNext(ctx, "example.com")
	require.ErrorIs(t, err, crawler.ErrFrontierEmpty)

	counts, err := store.CountByStatus(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, counts[crawler.StatusFailed])
}

func TestStore_ReleaseExpired(t *testing.T) {
	t.Parallel()

	store := New(3)
	ctx := context.Background()
	_, err := store.Enqueue(ctx, "https://example.com/orphan/", "example.com", 0)
	require.NoError(t, err)
	_, err = store.LeaseNext(ctx, "example.com")
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	released, err := store.ReleaseExpired(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	count, err := store.PendingCount(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
