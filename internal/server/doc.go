// Package server manages the HTTP server lifecycle: non-blocking
// startup, asynchronous error propagation, graceful shutdown, and
// SIGINT/SIGTERM handling via WaitForShutdown.
package server
