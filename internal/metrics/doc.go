// Package metrics provides Prometheus instrumentation for the HTTP surface,
// run orchestration, and the approval path. Internal to agentrun.
package metrics
