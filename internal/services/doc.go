// Package services holds the application logic behind the HTTP handlers.
//
// Services take their collaborators through constructors, log through an
// injected *slog.Logger tagged with the service name, and return errors from
// egc/internal/errors (AppError or APIError) so the transport layer can map
// them onto status codes without knowing where they came from:
//
//   - IngestService: uploads, inline NDJSON parses, background jobs, exports
//   - CalcService: the fee and profit engine
//   - ReportService: validated rollup reports in a ReportStore
//   - MappingService: header mapping suggestions, order mapping, presets
//   - HealthService: liveness and readiness checks
package services
