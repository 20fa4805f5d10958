// Package operations runs file ingestion as background jobs.
//
// A JobManager owns a fixed pool of workers fed by a bounded queue. Each job
// opens its source through an ingest.Opener (the upload store on the server),
// drives a fresh ingest.Controller, and moves through
//
//	pending -> running -> completed | cancelled | failed
//
// Every ingestion event is forwarded to the configured Broadcaster tagged
// with the job id, so WebSocket clients can follow jobs they did not start.
// When a job ends its Snapshot (rows up to a cap, preview, sample, warnings
// and column rollups) is kept in the JobStore for export and mapping.
package operations
