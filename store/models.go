package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrun/agentrun/types"
)

// ConversationRecord is the persisted form of a conversation.
type ConversationRecord struct {
	ID            string    `gorm:"primaryKey;size:64"`
	UserID        string    `gorm:"index;size:64;not null"`
	Title         string    `gorm:"size:512"`
	RootMessageID string    `gorm:"size:64"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

// TableName overrides the default pluralization.
func (ConversationRecord) TableName() string { return "conversations" }

// MessageRecord is the persisted form of a message. ToolCalls and Files are
// stored as JSON text so the schema stays portable across drivers.
type MessageRecord struct {
	ID             string    `gorm:"primaryKey;size:64"`
	ConversationID string    `gorm:"index;size:64;not null"`
	ParentID       string    `gorm:"size:64"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:text"`
	ToolCalls      string    `gorm:"type:text"`
	ToolCallID     string    `gorm:"size:64"`
	Files          string    `gorm:"type:text"`
	Unfinished     bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"index"`
}

// TableName overrides the default pluralization.
func (MessageRecord) TableName() string { return "messages" }

func toRecord(msg *types.Message) (*MessageRecord, error) {
	rec := &MessageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		ParentID:       msg.ParentID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		ToolCallID:     msg.ToolCallID,
		Unfinished:     msg.Unfinished,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		rec.ToolCalls = string(data)
	}
	if len(msg.Files) > 0 {
		data, err := json.Marshal(msg.Files)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal files: %w", err)
		}
		rec.Files = string(data)
	}
	return rec, nil
}

func toMessage(rec *MessageRecord) (*types.Message, error) {
	msg := &types.Message{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		ParentID:       rec.ParentID,
		Role:           types.Role(rec.Role),
		Content:        rec.Content,
		ToolCallID:     rec.ToolCallID,
		Unfinished:     rec.Unfinished,
		CreatedAt:      rec.CreatedAt,
	}
	if rec.ToolCalls != "" {
		if err := json.Unmarshal([]byte(rec.ToolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("corrupt tool calls on message %s: %w", rec.ID, err)
		}
	}
	if rec.Files != "" {
		if err := json.Unmarshal([]byte(rec.Files), &msg.Files); err != nil {
			return nil, fmt.Errorf("corrupt files on message %s: %w", rec.ID, err)
		}
	}
	return msg, nil
}
