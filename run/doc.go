// Package run drives one generation attempt end to end.
//
// The Orchestrator waits briefly for a subscriber, invokes the generation
// client, persists the user and response messages at most once, and emits the
// terminal event. If the job was replaced mid-flight the terminal emission is
// suppressed while resource release still happens. The
// model-calling engine itself sits behind the GenerationClient interface.
package run
