package config

// Application constants
const (
	AppName = "EGC Seller Analytics"

	// API paths
	APIBasePath       = "/api"
	HealthEndpoint    = "/api/health"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"

	// Log settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)
