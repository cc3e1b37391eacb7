// Package app provides application initialization and lifecycle
// management: configuration loading, logger and OpenTelemetry setup,
// service wiring, router construction and graceful shutdown.
//
// The initialization sequence:
//
//	1. Load configuration from environment and files
//	2. Initialize logging and observability
//	3. Create the operation store, registry and hub
//	4. Initialize services with their dependencies
//	5. Set up HTTP handlers and middleware
//	6. Configure and start the HTTP server
//	7. Set up graceful shutdown handlers
//
// All initialization errors are returned to the caller; the package
// never calls os.Exit directly.
package app
