// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/{id}, and /v1/runs/{id}/sites for run history
//     via the RunRepository interface.
package api
