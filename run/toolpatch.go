package run

import "github.com/agentrun/agentrun/types"

// CompletionMarker replaces a missing tool output so a persisted message never
// shows a call as perpetually in progress.
const CompletionMarker = "Completed."

// PatchToolCalls normalizes in-flight tool calls before persistence: a call
// with non-empty arguments and neither output nor progress gets the completion
// marker; anything else is left untouched. Returns the number of patched calls.
func PatchToolCalls(calls []types.ToolCall) int {
	patched := 0
	for i := range calls {
		c := &calls[i]
		if len(c.Arguments) > 0 && c.Output == "" && c.Progress == "" {
			c.Output = CompletionMarker
			patched++
		}
	}
	return patched
}
