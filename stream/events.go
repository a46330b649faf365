package stream

import (
	"time"

	"github.com/agentrun/agentrun/types"
)

// EventType discriminates the generation event union.
type EventType string

const (
	EventCreated EventType = "created"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is a single frame pushed to a stream subscriber.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// CreatedEvent announces that the user message has been finalized and assigned
// ids. It must precede any ChunkEvent for the same run.
type CreatedEvent struct {
	StreamID       string         `json:"stream_id"`
	ConversationID string         `json:"conversation_id"`
	UserMessage    *types.Message `json:"user_message"`
	At             time.Time      `json:"at"`
}

func (e *CreatedEvent) Type() EventType      { return EventCreated }
func (e *CreatedEvent) Timestamp() time.Time { return e.At }

// ChunkEvent carries an incremental content delta.
type ChunkEvent struct {
	StreamID string          `json:"stream_id"`
	Delta    string          `json:"delta,omitempty"`
	ToolCall *types.ToolCall `json:"tool_call,omitempty"`
	At       time.Time       `json:"at"`
}

func (e *ChunkEvent) Type() EventType      { return EventChunk }
func (e *ChunkEvent) Timestamp() time.Time { return e.At }

// DoneEvent is the terminal frame. Final carries the terminal flag; at most one
// DoneEvent per stream id ever reaches the transport, even when two generation
// attempts race for the same id.
type DoneEvent struct {
	StreamID     string                      `json:"stream_id"`
	Final        bool                        `json:"final"`
	Conversation *types.ConversationSnapshot `json:"conversation,omitempty"`
	Title        string                      `json:"title,omitempty"`
	Request      *types.Message              `json:"request,omitempty"`
	Response     *types.Message              `json:"response,omitempty"`
	At           time.Time                   `json:"at"`
}

func (e *DoneEvent) Type() EventType      { return EventDone }
func (e *DoneEvent) Timestamp() time.Time { return e.At }

// ErrorEvent reports a generation failure to the subscriber. It is terminal.
type ErrorEvent struct {
	StreamID string    `json:"stream_id"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

func (e *ErrorEvent) Type() EventType      { return EventError }
func (e *ErrorEvent) Timestamp() time.Time { return e.At }
