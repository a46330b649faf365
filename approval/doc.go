// Package approval implements human sign-off for destructive tool calls.
//
// A destructive tool registers a pending approval with the Gate before
// executing, then suspends until a decision arrives or the deadline passes.
// Decisions reach the Gate through two channels: inline submissions referencing
// the live run, and out-of-band resolutions of a durable, token-addressable
// ApprovalLink (for example delivered by email). Both funnel into Gate.Submit.
package approval
