// Package api hosts the HTTP ingest server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/replay to replay an NDJSON signal trace through a fresh
//     page-load pipeline into the configured sinks.
package api
