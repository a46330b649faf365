// Package api defines the request and response types of the HTTP API:
// run lifecycle (start, events, cancel) and the approval surface
// (pending-approval, tool-confirmation).
package api
