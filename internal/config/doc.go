// Package config provides centralized configuration management.
//
// # Configuration Sources
//
// Configuration is assembled in this order, later sources winning:
//
//	1. A .env file in the working directory, if present
//	2. Default values (Default)
//	3. A YAML file named by EGC_CONFIG, or config.yaml / configs/config.yaml
//	4. Environment variables prefixed with EGC_
//
// # Environment Variables
//
// Nested fields join with underscores:
//
//	EGC_SERVER_PORT=8080
//	EGC_LOGGING_LEVEL=debug
//	EGC_INGEST_CHUNK_BYTES=131072
//	EGC_STORAGE_DRIVER=memory
//
// # Path Management
//
// Paths resolves every directory against the executable location:
//
//	paths, err := cfg.ResolvePaths()
//	upload := paths.UploadPath(id + ".csv")
package config
