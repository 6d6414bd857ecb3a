// Package api hosts the HTTP server that exposes a harvester's runs.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a full run, GET /v1/runs/{run_id} for its state.
//   - GET /v1/runs/{run_id}/artifacts/{name} for the persisted stage files
//     (stage, final, unprocessed) and the normalized table.
package api
