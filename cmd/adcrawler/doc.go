// Package main hosts the adcrawler entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, status, metrics and job endpoints. Async jobs are
//     recorded in the run store and queued; sync jobs block until the run finishes or server.sync_timeout
//     passes, in which case the caller gets the run id to poll.
//   - Orchestrator: each run borrows a browsing session from the pool (chromedp or playwright), walks every
//     (term, region) unit with jittered pauses in between, and hands all candidates to the scoring engine.
//   - Dispatcher & queue: async runs flow through a bounded in-memory queue and a fixed worker pool sized by
//     orchestrator.workers. Runs still share the session pool, so pool_size caps real browser concurrency.
//   - Persistence & fanout: the in-memory run store answers progress reads and streams; finished result sets
//     are optionally archived to redis, postgres, mongo and a blob store (memory/local/GCS) and announced on
//     Pub/Sub.
//   - Plumbing: Viper config (ADCRAWLER_ env prefix), zap logging, Prometheus metrics, OpenTelemetry spans.
//
// Operational notes:
//   - The process reacts to SIGINT/SIGTERM by draining HTTP, failing queued runs and closing browsers.
//   - Run locally: go run ./cmd/adcrawler serve --config adcrawler.yaml
//   - One-off: go run ./cmd/adcrawler scrape --term "curso de ingles" --region BR --limit 10
package main
