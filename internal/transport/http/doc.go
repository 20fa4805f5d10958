// Package http implements the REST and streaming surface of the service.
// Handlers stay thin: they decode and validate requests, call a service, and
// render the result. Every failure goes through errors.ErrorHandler so clients
// always receive RFC 7807 problem documents.
//
// # Routes
//
//	GET    /api/health, /api/health/ready, /api/health/live, /api/version
//	POST   /api/calc, /api/calc/simple      GET /api/calc/defaults
//	POST   /api/uploads                     GET /api/uploads
//	POST   /api/ingest/stream               (NDJSON response, one event per line)
//	POST   /api/ingest/jobs                 GET /api/ingest/jobs
//	GET    /api/ingest/jobs/{id}            DELETE /api/ingest/jobs/{id}
//	GET    /api/ingest/jobs/{id}/snapshot   GET /api/ingest/jobs/{id}/export
//	GET    /api/rollups                     POST /api/rollups
//	GET    /api/rollups/{id}
//	POST   /api/mapping/suggest, /api/mapping/apply
//	GET    /api/presets                     GET|PUT|DELETE /api/presets/{name}
//	GET    /api/metrics                     (JSON summary)
//	GET    /metrics                         (Prometheus)
//	GET    /ws                              (WebSocket ingestion session)
//
// The stream and WebSocket routes run without the request timeout; a client
// disconnect cancels the underlying ingestion run instead.
package http
