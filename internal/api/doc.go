// Package api hosts the HTTP server, middleware, and REST handlers for the
// scrape service. Notable routes:
//   - POST /v1/jobs and /v1/jobs/sync to submit runs.
//   - GET /v1/runs/{run_id}, /stream and /result for progress and output.
//   - GET /v1/results/{result_id} plus the ML prediction/training calls.
//   - GET /healthz, /v1/status and /metrics for operators.
package api
