// Command agentrun runs the generation-run server: the run orchestrator,
// the approval gate and link store, and the HTTP/metrics listeners.
//
// Subcommands: serve, version, health.
package main
