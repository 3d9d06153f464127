// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches to queue NSNs; GET /v1/batches/{id} for batch status.
//   - GET /v1/nsn/{nsn} for the latest sourcing result of one item.
//   - GET /v1/runs and /v1/runs/{id}/sources for run history via the
//     RunRepository interface.
//   - GET /v1/dibbs/dates and /v1/dibbs/dates/{date} for DIBBS issue-date
//     discovery.
//   - POST /v1/assistant/classify, /reply and /quote for supplier correspondence.
package api
