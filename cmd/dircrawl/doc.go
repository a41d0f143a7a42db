// Package main hosts the directory crawler entrypoint.
//
// Architecture overview:
//   - Seeds & supervision: seed URLs come from a CSV column, and the pipeline
//     Supervisor crawls up to crawler.max_concurrent_sites of them in parallel,
//     each under its own site timeout. Every site gets a fresh Coordinator that
//     starts discovery, waits for the frontier warm-up gate, runs the worker
//     pool, and sweeps expired leases back to pending.
//   - Discovery: the discovery Engine walks the site breadth-first from the
//     seed, keeps only same-domain directory URLs in canonical form, and
//     enqueues each new directory the moment it is found so scraping overlaps
//     discovery. Probe fetches go through the Colly fetcher under a global
//     requests-per-second cap; pages that look client-rendered are promoted to
//     the shared Chromedp browser pool.
//   - Frontier: pending/leased/completed state lives in the frontier store
//     (SQLite, Postgres, or memory). Leases are atomic, so concurrent workers
//     never scrape the same directory twice, and expired leases are returned
//     to pending by the coordinator's sweep.
//   - Scraping & persistence: the dispatcher leases directories as slots free
//     up, honors the per-domain trailing-window rate limit plus a randomized
//     politeness delay, captures screenshot and HTML via the browser (or the
//     probe fetcher with -no-browser), writes artifacts to the blob store
//     (local/GCS/memory), and optionally publishes a page event to Pub/Sub.
//   - Observability & API: progress events flow through the buffering Hub into
//     the zap log sink, Prometheus collectors, and the run-history store.
//     When server.enabled is set, a chi API serves /healthz, /readyz,
//     /metrics, and read-only run history under /v1/runs for the duration of
//     the run.
//   - Configuration: Viper populates config from dircrawl.yaml and CRAWLER_*
//     env vars; flags override the common knobs (-csv, -output, -workers,
//     -sites, -no-browser, -frontier).
//
// Run locally: go run ./cmd/dircrawl -csv sites.csv -output output
// The process reacts to SIGINT/SIGTERM by canceling the run, flushing
// progress, and closing stores cleanly.
package main
