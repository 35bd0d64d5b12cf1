// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans and friends for scan job control.
//   - GET /v1/scans/{scan_id}/events for the live SSE event stream.
//   - POST /v1/analyze for synchronous rules-only scoring.
package api
