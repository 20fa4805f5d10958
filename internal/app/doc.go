// Package app wires configuration, logging, telemetry, storage, the ingest
// job manager, the WebSocket hub, services and the HTTP router into one
// Application and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration (.env, YAML file, EGC_* environment)
//	2. Initialize logging and OpenTelemetry
//	3. Open the preset and report store (memory or SQLite)
//	4. Create the upload store, WebSocket hub and job manager
//	5. Build services, handlers and the router
//	6. Configure the HTTP server
//
// # Usage
//
//	a, err := app.NewApplication()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := a.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// Run blocks until SIGINT or SIGTERM, then drains in order: in-flight
// requests, ingest jobs, WebSocket clients, the store and telemetry
// exporters.
package app
