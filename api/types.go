package api

import "github.com/agentrun/agentrun/types"

// StartRunRequest asks the orchestrator to begin a generation attempt.
type StartRunRequest struct {
	// Conversation to append to; empty starts a new conversation.
	ConversationID string `json:"conversation_id,omitempty"`
	// Stream id clients use to (re)attach to the event feed; empty lets
	// the server assign one.
	StreamID string `json:"stream_id,omitempty"`
	Prompt   string `json:"prompt"`
	// Client-supplied attachment references, reconciled into the user
	// message's file list.
	Files []types.FileRef `json:"files,omitempty"`
	Model string          `json:"model,omitempty"`
	// Headless callers get a shorter subscriber grace and skip
	// UI-oriented side effects such as title generation.
	Headless bool `json:"headless,omitempty"`
}

// StartRunResponse reports the identifiers assigned to a started run.
type StartRunResponse struct {
	StreamID       string `json:"stream_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      int64  `json:"created_at"`
}

// CancelRunRequest aborts a single in-flight run.
type CancelRunRequest struct {
	StreamID string `json:"stream_id"`
}

// CancelRunResponse reports whether an abort signal was delivered.
type CancelRunResponse struct {
	Aborted bool `json:"aborted"`
}

// CancelAllResponse lists the stream ids whose runs were signalled.
type CancelAllResponse struct {
	Aborted []string `json:"aborted"`
}

// ActiveRunsResponse lists the caller's in-flight stream ids.
type ActiveRunsResponse struct {
	StreamIDs []string `json:"stream_ids"`
}

// PendingApprovalResponse is the public view of an approval link. It
// exposes only what the approval page needs to render a decision prompt.
type PendingApprovalResponse struct {
	ToolName       string `json:"toolName"`
	ArgsSummary    string `json:"argsSummary"`
	ConversationID string `json:"conversationId"`
}

// ToolConfirmationRequest resolves a pending approval, either by link
// token (ID set) or inline by the approval triple.
type ToolConfirmationRequest struct {
	// ID is the approval link token. When set the token flow is used and
	// the triple fields are ignored.
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	// MessageID is the run (response message) id the tool call belongs to.
	MessageID  string `json:"messageId,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Approved   *bool  `json:"approved"`
}

// ToolConfirmationResponse reports whether the decision reached a
// waiting tool call.
type ToolConfirmationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
