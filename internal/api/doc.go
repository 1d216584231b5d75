// Package api hosts the operations HTTP server, its middleware and REST
// handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/queue to seed listing root URLs, GET /v1/queue/stats.
//   - /v1/bloom/... to inspect and maintain bloom filters.
//   - GET /v1/listings/{listing_id}/changes for change history.
//   - POST /v1/blacklist to exclude a domain from dispatch.
package api
