// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /v1/jobs to submit an archive job.
//   - GET /v1/jobs/{job_id}, /artifact and /download to follow it.
//   - GET /healthz and /readyz for probes, /metrics for Prometheus scraping.
package api
