// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sweeps to start a sweep out of schedule, GET /v1/sweeps/last for
//     its outcome.
//   - GET /v1/users/{external_id} and /v1/users/{external_id}/review.
//   - GET /v1/channels/{channel_id}/followed.
package api
