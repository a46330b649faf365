package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentrun/agentrun/types"
)

// DefaultLinkTTL is how long an approval link stays resolvable.
const DefaultLinkTTL = time.Hour

// expiredGrace keeps a link readable in Redis slightly past its logical
// expiry so a late fetch reports "expired" instead of "not found".
const expiredGrace = 5 * time.Minute

// LinkStatus is the lifecycle state of an approval link.
type LinkStatus string

const (
	LinkStatusPending  LinkStatus = "pending"
	LinkStatusApproved LinkStatus = "approved"
	LinkStatusDenied   LinkStatus = "denied"
)

// Link is a durable, token-addressable record of an approval request. It
// outlives the in-memory gate entry so an email click after a restart still
// yields a meaningful response.
type Link struct {
	Token          string     `json:"token"`
	ConversationID string     `json:"conversationId"`
	RunID          string     `json:"runId"`
	ToolCallID     string     `json:"toolCallId"`
	UserID         string     `json:"userId"`
	ToolName       string     `json:"toolName"`
	ArgsSummary    string     `json:"argsSummary"`
	Status         LinkStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	ClickedAt      *time.Time `json:"clickedAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// lockStripes bounds the number of per-token mutexes. Mutation of a link is
// single-writer per token; tokens hash onto a stripe.
const lockStripes = 64

// LinkStore persists approval links in Redis with a TTL.
type LinkStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	locks     [lockStripes]sync.Mutex
	logger    *zap.Logger
}

// NewLinkStore creates a link store on an existing Redis client. A
// non-positive ttl falls back to DefaultLinkTTL.
func NewLinkStore(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *LinkStore {
	if keyPrefix == "" {
		keyPrefix = "agentrun:"
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkStore{
		client:    client,
		keyPrefix: keyPrefix + "approval_link:",
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "approval_links")),
	}
}

// Ping checks if the store is healthy.
func (s *LinkStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *LinkStore) linkKey(token string) string {
	return s.keyPrefix + token
}

func (s *LinkStore) lockFor(token string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(token))
	return &s.locks[h.Sum32()%lockStripes]
}

// newToken returns a 256-bit random token, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create persists a new pending link for the request and returns it.
func (s *LinkStore) Create(ctx context.Context, req Request) (*Link, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	link := &Link{
		Token:          token,
		ConversationID: req.ConversationID,
		RunID:          req.RunID,
		ToolCallID:     req.ToolCallID,
		UserID:         req.UserID,
		ToolName:       req.ToolName,
		ArgsSummary:    req.ArgsSummary,
		Status:         LinkStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.write(ctx, link, s.ttl+expiredGrace); err != nil {
		return nil, err
	}
	s.logger.Debug("approval link created",
		zap.String("run_id", req.RunID),
		zap.String("tool_call_id", req.ToolCallID))
	return link, nil
}

func (s *LinkStore) write(ctx context.Context, link *Link, expiration time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}
	return s.client.Set(ctx, s.linkKey(link.Token), data, expiration).Err()
}

func (s *LinkStore) get(ctx context.Context, token string) (*Link, error) {
	data, err := s.client.Get(ctx, s.linkKey(token)).Bytes()
	if err == redis.Nil {
		return nil, types.NewError(types.ErrNotFoundOrExpired, "expired")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "approval link lookup failed").WithCause(err)
	}
	var link Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, types.NewError(types.ErrInternalError, "corrupt approval link").WithCause(err)
	}
	return &link, nil
}

// Fetch loads a pending link for display. The first fetch by the owner stamps
// ClickedAt; later fetches leave it untouched. Expiry is re-checked against
// ExpiresAt even while the Redis key still exists, and a requester other than
// the owner is rejected without leaking link contents.
func (s *LinkStore) Fetch(ctx context.Context, token, requesterID string) (*Link, error) {
	mu := s.lockFor(token)
	mu.Lock()
	defer mu.Unlock()

	link, err := s.get(ctx, token)
	if err != nil {
		return nil, err
	}
	if time.Now().After(link.ExpiresAt) {
		return nil, types.NewError(types.ErrNotFoundOrExpired, "expired")
	}
	if link.UserID != requesterID {
		return nil, types.NewError(types.ErrUnauthorized, "Unauthorized")
	}
	if link.ClickedAt == nil {
		now := time.Now()
		link.ClickedAt = &now
		if err := s.write(ctx, link, redis.KeepTTL); err != nil {
			return nil, err
		}
	}
	return link, nil
}

// Resolve transitions a pending link to approved or denied. The transition
// happens at most once: a second resolution reports a conflict.
func (s *LinkStore) Resolve(ctx context.Context, token, requesterID string, approved bool) (*Link, error) {
	mu := s.lockFor(token)
	mu.Lock()
	defer mu.Unlock()

	link, err := s.get(ctx, token)
	if err != nil {
		return nil, err
	}
	if time.Now().After(link.ExpiresAt) {
		return nil, types.NewError(types.ErrNotFoundOrExpired, "expired")
	}
	if link.UserID != requesterID {
		return nil, types.NewError(types.ErrUnauthorized, "Unauthorized")
	}
	if link.Status != LinkStatusPending {
		return nil, types.NewError(types.ErrConflict, "already processed")
	}
	now := time.Now()
	link.ResolvedAt = &now
	if link.ClickedAt == nil {
		link.ClickedAt = &now
	}
	if approved {
		link.Status = LinkStatusApproved
	} else {
		link.Status = LinkStatusDenied
	}
	if err := s.write(ctx, link, redis.KeepTTL); err != nil {
		return nil, err
	}
	s.logger.Info("approval link resolved",
		zap.String("run_id", link.RunID),
		zap.String("tool_call_id", link.ToolCallID),
		zap.Bool("approved", approved))
	return link, nil
}

// Delete removes a link, regardless of state.
func (s *LinkStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.linkKey(token)).Err()
}
