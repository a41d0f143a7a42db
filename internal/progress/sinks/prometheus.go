package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagemapper/dircrawl/internal/progress"
)

// PrometheusSink exports run and site lifecycle metrics derived from the
// progress stream. Page and byte counters live in the metrics package; this
// sink owns the gauges and latency histograms that need event context.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	siteDuration   *prometheus.HistogramVec
	scrapeDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		siteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_site_duration_seconds",
			Help:    "Wall time per finished site crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_scrape_duration_seconds",
			Help:    "Scrape duration partitioned by site and result.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.siteDuration,
		s.scrapeDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone:
		s.handleRunEvent(evt)
	case progress.StageSiteDone:
		s.handleSiteEvent(evt)
	case progress.StageScrapeDone, progress.StageScrapeError:
		s.handleScrapeEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		result := resultLabel(evt.Note)
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) handleSiteEvent(evt progress.Event) {
	if evt.Dur > 0 {
		s.siteDuration.WithLabelValues(resultLabel(evt.Note)).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleScrapeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	result := "success"
	if evt.Stage == progress.StageScrapeError {
		result = "error"
	}
	if evt.Dur > 0 {
		s.scrapeDuration.WithLabelValues(site, result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// resultLabel treats an empty note as success; finished events carry error
// text in Note when something went wrong.
func resultLabel(note string) string {
	if note == "" {
		return "success"
	}
	return "error"
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
