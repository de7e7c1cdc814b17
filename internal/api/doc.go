// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/seeds to schedule seed URLs on the running crawl.
//   - GET /v1/crawls/{crawl_id} and /v1/crawls/{crawl_id}/media?page= for the
//     media capture index via the store.CaptureRepository interface.
package api
