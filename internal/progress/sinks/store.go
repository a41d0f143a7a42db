package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagemapper/dircrawl/internal/progress"
	"github.com/pagemapper/dircrawl/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It collapses
// per-site counters within each batch to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses site deltas and forwards them to the repository. It
// respects ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageDiscoveryFound, progress.StageScrapeDone, progress.StageScrapeError:
			recordSiteStats(stats, runID, evt)
		}
	}

	for key, stat := range stats {
		if stat.delta == (store.SiteDelta{}) {
			continue
		}
		if err := s.repo.UpsertSiteStats(ctx, key.runID, key.site, stat.delta, stat.at); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		status := store.RunSuccess
		var note *string
		if evt.Note != "" {
			status = store.RunError
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func recordSiteStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := statsKey{runID: runID, site: evt.Site}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	switch evt.Stage {
	case progress.StageScrapeDone:
		stat.delta.Pages++
		stat.delta.BytesTotal += evt.Bytes
	case progress.StageScrapeError:
		stat.delta.Errors++
	case progress.StageDiscoveryFound:
		stat.delta.Found += evt.Found
	}
	if evt.TS.After(stat.at) {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID uuid.UUID
	site  string
}

type statsDelta struct {
	delta store.SiteDelta
	at    time.Time
}
