// Package main hosts the catalog ingestion service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, a job trigger
//     endpoint per source, and job status readback. Triggering is rejected with
//     409 while a job for the source is still pending or running.
//   - Scheduler: internal/scheduler polls the job store for pending jobs of
//     enabled sources on a fixed interval (immediate first tick) and runs them
//     sequentially through the ingest service.
//   - Job runner: internal/ingest claims a pending job with a compare-and-swap
//     status update, drains the source connector's record stream through the
//     pipeline, and maintains the job's event timeline (started, progress,
//     heartbeat, terminal). Record-level failures are counted, never fatal;
//     connector failures mark the job failed.
//   - Connectors: internal/connector holds one implementation per external
//     catalog (Gutenberg, Standard Ebooks, Open Library, epub.gratis,
//     epublibre, epubbooks). All fetches go through a shared Colly-backed
//     client with per-request timeouts, polite throttling, and retry with
//     capped exponential backoff (429 and network errors only).
//   - Pipeline: internal/pipeline normalizes each record, resolves it against
//     canonical authors/works via internal/dedup (exact, alias, then fuzzy
//     title match), upserts the edition, and pushes the denormalized work
//     document to Meilisearch best-effort.
//   - Persistence: internal/storage/postgres implements the catalog and job
//     stores on pgx. internal/search wraps the Meilisearch client.
//   - Configuration & plumbing: Viper populates config from env/files
//     (CATALOGD_ prefix); zap provides structured logging; Prometheus metrics
//     are exported via /metrics.
//
// Run locally: go run ./cmd/catalogd -config config.yaml (or rely solely on
// env overrides). The process reacts to SIGTERM for graceful drain; in-flight
// records are bounded by the per-record pipeline timeout.
package main
