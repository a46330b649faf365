package run

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/agentrun/agentrun/types"
)

func TestPatchToolCalls(t *testing.T) {
	calls := []types.ToolCall{
		{ID: "a", Name: "search", Arguments: json.RawMessage(`{"q":"x"}`)},
		{ID: "b", Name: "search", Arguments: json.RawMessage(`{"q":"y"}`), Output: "3 results"},
		{ID: "c", Name: "deploy", Arguments: json.RawMessage(`{}`), Progress: "uploading"},
		{ID: "d", Name: "noop"},
	}

	n := PatchToolCalls(calls)
	assert.Equal(t, 1, n)

	// Only the in-flight call with arguments was patched.
	assert.Equal(t, CompletionMarker, calls[0].Output)
	assert.Equal(t, "3 results", calls[1].Output)
	assert.Equal(t, "", calls[2].Output)
	assert.Equal(t, "uploading", calls[2].Progress)
	assert.Equal(t, "", calls[3].Output)
}

func TestPatchToolCallsEmpty(t *testing.T) {
	assert.Zero(t, PatchToolCalls(nil))
	assert.Zero(t, PatchToolCalls([]types.ToolCall{}))
}

func TestPatchToolCallsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		calls := make([]types.ToolCall, n)
		for i := range calls {
			if rapid.Bool().Draw(t, "hasArgs") {
				calls[i].Arguments = json.RawMessage(`{"k":1}`)
			}
			calls[i].Output = rapid.SampledFrom([]string{"", "result"}).Draw(t, "output")
			calls[i].Progress = rapid.SampledFrom([]string{"", "working"}).Draw(t, "progress")
		}
		before := make([]types.ToolCall, n)
		copy(before, calls)

		PatchToolCalls(calls)

		for i := range calls {
			inFlight := len(before[i].Arguments) > 0 && before[i].Output == "" && before[i].Progress == ""
			if inFlight {
				// Every in-flight call ends up with the marker.
				if calls[i].Output != CompletionMarker {
					t.Fatalf("call %d not patched", i)
				}
			} else if calls[i].Output != before[i].Output || calls[i].Progress != before[i].Progress {
				// Everything else is untouched.
				t.Fatalf("call %d modified", i)
			}
		}

		// Patching is idempotent: nothing is left in flight.
		if PatchToolCalls(calls) != 0 {
			t.Fatal("second patch pass changed calls")
		}
	})
}
