package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagemapper/dircrawl/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1750000000, 0).UTC()
	store := NewWithPool(mock, 3)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestStore_Enqueue_InsertsOnce(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectExec("INSERT INTO urls").
		WithArgs("https://example.com/a/", "example.com", 2, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	added, err := store.Enqueue(context.Background(), "https://example.com/a/", "example.com", 2)
	require.NoError(t, err)
	require.True(t, added)

	mock.ExpectExec("INSERT INTO urls").
		WithArgs("https://example.com/a/", "example.com", 2, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err = store.Enqueue(context.Background(), "https://example.com/a/", "example.com", 2)
	require.NoError(t, err)
	require.False(t, added)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LeaseNext_ScansRecord(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "url", "domain", "status", "depth", "attempts", "leased_at", "created_at", "updated_at",
	}).AddRow(int64(7), "https://example.com/a/", "example.com", "leased", 1, 1, &now, now, now)

	mock.ExpectQuery("UPDATE urls").
		WithArgs("example.com", now).
		WillReturnRows(rows)

	record, err := store.LeaseNext(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(7), record.ID)
	require.Equal(t, crawler.StatusLeased, record.Status)
	require.Equal(t, 1, record.Attempts)
	require.NotNil(t, record.LeasedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LeaseNext_Empty(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectQuery("UPDATE urls").
		WithArgs("example.com", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.LeaseNext(context.Background(), "example.com")
	require.ErrorIs(t, err, crawler.ErrFrontierEmpty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Fail_PassesAttemptCap(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE urls").
		WithArgs(int64(4), 3, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Fail(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReleaseExpired_CountsRows(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE urls").
		WithArgs(now.Add(-2*time.Minute), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 5))

	released, err := store.ReleaseExpired(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 5, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS urls").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountByStatus(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	rows := pgxmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 4).
		AddRow("completed", 2)

	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("example.com").
		WillReturnRows(rows)

	counts, err := store.CountByStatus(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 4, counts[crawler.StatusPending])
	require.Equal(t, 2, counts[crawler.StatusCompleted])
	require.NoError(t, mock.ExpectationsWereMet())
}
