package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation embedded in an assistant message.
// Output holds the terminal tool result; Progress holds an intermediate status
// line while the tool is still running. A call with non-empty Arguments and
// neither Output nor Progress is considered in flight.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
	Progress  string          `json:"progress,omitempty"`
}

// FileRef correlates an uploaded attachment with a message.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	ID             string     `json:"id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	ParentID       string     `json:"parent_id,omitempty"`
	Role           Role       `json:"role"`
	Content        string     `json:"content,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
	Files          []FileRef  `json:"files,omitempty"`
	Unfinished     bool       `json:"unfinished,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

// NewMessage creates a message with a fresh ID in the given conversation.
func NewMessage(conversationID string, role Role, content string) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(conversationID, content string) *Message {
	return NewMessage(conversationID, RoleUser, content)
}

// NewAssistantMessage creates a new assistant message replying to parentID.
func NewAssistantMessage(conversationID, parentID, content string) *Message {
	m := NewMessage(conversationID, RoleAssistant, content)
	m.ParentID = parentID
	return m
}

// WithToolCalls adds tool calls to the message.
func (m *Message) WithToolCalls(calls []ToolCall) *Message {
	m.ToolCalls = calls
	return m
}

// WithFiles adds file references to the message.
func (m *Message) WithFiles(files []FileRef) *Message {
	m.Files = files
	return m
}

// ConversationSnapshot is the persisted state of a conversation as seen at the
// end of a generation attempt. Subscribers rehydrate from this snapshot rather
// than replaying event history.
type ConversationSnapshot struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title,omitempty"`
	RootMessageID string     `json:"root_message_id,omitempty"`
	Messages      []*Message `json:"messages,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at,omitempty"`
}

// IsNew reports whether the conversation has no persisted assistant turn yet.
func (c *ConversationSnapshot) IsNew() bool {
	for _, m := range c.Messages {
		if m.Role == RoleAssistant {
			return false
		}
	}
	return true
}
