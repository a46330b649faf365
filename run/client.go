package run

import (
	"context"

	"github.com/agentrun/agentrun/types"
)

// GenerateOptions carries the resolved inputs of one generation attempt.
type GenerateOptions struct {
	ConversationID string
	StreamID       string
	UserID         string
	Prompt         string
	Files          []types.FileRef
	Model          string
}

// StartInfo is delivered through the start callback once the generation engine
// has finalized the user message and allocated the response message id.
type StartInfo struct {
	UserMessage       *types.Message
	ResponseMessageID string
}

// StartFunc fires exactly once, before any content is produced.
type StartFunc func(info StartInfo)

// Result is the outcome of a completed generation call.
type Result struct {
	// Response is the outgoing assistant message.
	Response *types.Message

	// UserMessage is the finalized user message, same object the start
	// callback announced.
	UserMessage *types.Message

	// Snapshot is the engine's side channel producing the persisted
	// conversation snapshot. May be nil, in which case the orchestrator reads
	// the snapshot from the store.
	Snapshot <-chan *types.ConversationSnapshot

	// Title is an engine-provided conversation title, if any.
	Title string

	// UserMessageSaved and ResponseSaved indicate the engine already persisted
	// the respective message, so the orchestrator must not save it again.
	UserMessageSaved bool
	ResponseSaved    bool
}

// GenerationClient is the model-calling engine boundary. One client is
// exclusively owned by one orchestrator invocation and must be closed on every
// exit path.
type GenerationClient interface {
	Generate(ctx context.Context, opts GenerateOptions, onStart StartFunc) (*Result, error)
	Close() error
}

// ClientFactory constructs a generation client for one attempt.
type ClientFactory func(ctx context.Context, opts GenerateOptions) (GenerationClient, error)
