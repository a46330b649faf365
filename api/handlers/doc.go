// Package handlers implements the HTTP handlers: run lifecycle
// (start, SSE event feed, cancel), the approval surface
// (pending-approval, tool-confirmation), and health/version endpoints.
package handlers
