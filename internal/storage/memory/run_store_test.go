package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pagemapper/dircrawl/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	start := time.Unix(1750000000, 0).UTC()

	if err := rs.UpsertRunStart(ctx, runID, start); err != nil {
		t.Fatalf("UpsertRunStart() error = %v", err)
	}
	// A repeat start must not reset the original timestamp.
	if err := rs.UpsertRunStart(ctx, runID, start.Add(time.Hour)); err != nil {
		t.Fatalf("UpsertRunStart() repeat error = %v", err)
	}

	run, err := rs.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.RunRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}
	if !run.StartedAt.Equal(start) {
		t.Fatalf("started_at = %v, want %v", run.StartedAt, start)
	}

	msg := "one site failed"
	finish := start.Add(5 * time.Minute)
	if err := rs.CompleteRun(ctx, runID, finish, store.RunError, &msg); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	run, err = rs.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.RunError || run.FinishedAt == nil || !run.FinishedAt.Equal(finish) {
		t.Fatalf("unexpected completed run %+v", run)
	}
	if run.ErrorMessage == nil || *run.ErrorMessage != msg {
		t.Fatal("expected error message to persist")
	}
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	if _, err := rs.GetRun(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := rs.CompleteRun(context.Background(), uuid.New(), time.Now(), store.RunSuccess, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CompleteRun() error = %v, want ErrNotFound", err)
	}
}

func TestRunStoreSiteStatsAccumulate(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	at := time.Unix(1750000000, 0).UTC()

	deltas := []store.SiteDelta{
		{Pages: 1, BytesTotal: 2048, Found: 3},
		{Pages: 2, BytesTotal: 1024, Errors: 1},
	}
	for i, delta := range deltas {
		if err := rs.UpsertSiteStats(ctx, runID, "example.com", delta, at.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("UpsertSiteStats() error = %v", err)
		}
	}
	if err := rs.UpsertSiteStats(ctx, runID, "other.org", store.SiteDelta{Pages: 1}, at); err != nil {
		t.Fatalf("UpsertSiteStats() error = %v", err)
	}

	stats, err := rs.ListRunSites(ctx, runID, 10, 0)
	if err != nil {
		t.Fatalf("ListRunSites() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats[0].Site != "example.com" || stats[1].Site != "other.org" {
		t.Fatalf("expected site-sorted stats, got %q then %q", stats[0].Site, stats[1].Site)
	}
	agg := stats[0]
	if agg.Pages != 3 || agg.BytesTotal != 3072 || agg.Errors != 1 || agg.Found != 3 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	if !agg.LastUpdate.Equal(at.Add(time.Second)) {
		t.Fatalf("last_update = %v, want latest", agg.LastUpdate)
	}
}

func TestRunStoreListRunsFiltersAndPages(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	ctx := context.Background()
	base := time.Unix(1750000000, 0).UTC()

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		if err := rs.UpsertRunStart(ctx, ids[i], base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("UpsertRunStart() error = %v", err)
		}
	}
	if err := rs.CompleteRun(ctx, ids[0], base.Add(time.Hour), store.RunSuccess, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	all, err := rs.ListRuns(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len(all) = %d, want 4", len(all))
	}
	if all[0].ID != ids[3] {
		t.Fatal("expected newest run first")
	}

	running := store.RunRunning
	filtered, err := rs.ListRuns(ctx, &running, 2, 1)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("len(filtered) = %d, want 2", len(filtered))
	}
	if filtered[0].ID != ids[2] || filtered[1].ID != ids[1] {
		t.Fatal("expected offset to skip the newest running run")
	}

	empty, err := rs.ListRuns(ctx, nil, 10, 99)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("len(empty) = %d, want 0", len(empty))
	}
}
