package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agentrun/agentrun/types"
)

// ConversationStore is the persistence surface the orchestrator and handlers
// depend on.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, conversationID, userID string) (*ConversationRecord, error)
	GetConversation(ctx context.Context, conversationID string) (*types.ConversationSnapshot, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*ConversationRecord, error)
	SaveMessage(ctx context.Context, msg *types.Message) error
	UpdateTitle(ctx context.Context, conversationID, title string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects the database backend.
type Config struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
}

// Store is the GORM-backed implementation of ConversationStore.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&ConversationRecord{}, &MessageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// DB exposes the underlying gorm handle for pool management.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// EnsureConversation returns the conversation, creating it if absent. An
// existing conversation owned by a different user is a conflict.
func (s *Store) EnsureConversation(ctx context.Context, conversationID, userID string) (*ConversationRecord, error) {
	var rec ConversationRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", conversationID).Error
	if err == nil {
		if rec.UserID != userID {
			return nil, types.NewError(types.ErrUnauthorized, "Unauthorized")
		}
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	rec = ConversationRecord{
		ID:        conversationID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.Debug("conversation created",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID))
	return &rec, nil
}

// GetConversation loads a conversation with all messages in creation order.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*types.ConversationSnapshot, error) {
	var rec ConversationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFoundOrExpired, "conversation not found")
		}
		return nil, err
	}

	var records []MessageRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	snap := &types.ConversationSnapshot{
		ID:            rec.ID,
		UserID:        rec.UserID,
		Title:         rec.Title,
		RootMessageID: rec.RootMessageID,
		Messages:      make([]*types.Message, 0, len(records)),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	for i := range records {
		msg, err := toMessage(&records[i])
		if err != nil {
			return nil, err
		}
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, nil
}

// ListConversations returns a user's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]*ConversationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*ConversationRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveMessage upserts a message by ID and bumps the conversation's UpdatedAt.
// Re-saving the same message ID overwrites the previous row, which makes
// terminal persistence retries safe.
func (s *Store) SaveMessage(ctx context.Context, msg *types.Message) error {
	if msg == nil || msg.ID == "" {
		return types.NewError(types.ErrValidation, "message id is required")
	}
	rec, err := toRecord(msg)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		updates := map[string]interface{}{"updated_at": time.Now()}
		if msg.ParentID == "" && msg.Role == types.RoleUser {
			updates["root_message_id"] = msg.ID
		}
		return tx.Model(&ConversationRecord{}).
			Where("id = ?", msg.ConversationID).
			Updates(updates).Error
	})
}

// UpdateTitle sets the conversation title. Blank titles are ignored so a
// failed title generation never erases an existing one.
func (s *Store) UpdateTitle(ctx context.Context, conversationID, title string) error {
	if title == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&ConversationRecord{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()}).Error
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationRecord{}, "id = ?", conversationID).Error
	})
}

var _ ConversationStore = (*Store)(nil)
