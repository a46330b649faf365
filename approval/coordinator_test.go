package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentrun/agentrun/types"
)

func setupCoordinator(t *testing.T) *Coordinator {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gate := NewGate(time.Minute, zap.NewNop())
	links := NewLinkStore(client, "test:", time.Hour, zap.NewNop())
	return NewCoordinator(gate, links, zap.NewNop())
}

func TestCoordinator_TokenResolutionReachesWaiter(t *testing.T) {
	c := setupCoordinator(t)
	ctx := context.Background()

	type outcome struct {
		d    Decision
		link *Link
	}
	done := make(chan outcome, 1)
	go func() {
		d, link := c.RequestApproval(ctx, testRequest())
		done <- outcome{d, link}
	}()

	require.Eventually(t, func() bool {
		return c.Gate().PendingCount() == 1
	}, time.Second, time.Millisecond)

	// Find the minted token via the owner's view of the link. The waiter got
	// the same link back, but we cannot read it until Wait returns.
	var token string
	require.Eventually(t, func() bool {
		keys := clientKeys(t, c)
		if len(keys) != 1 {
			return false
		}
		token = keys[0]
		return true
	}, time.Second, time.Millisecond)

	res, link, err := c.ResolveToken(ctx, token, "user-1", true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, LinkStatusApproved, link.Status)

	got := <-done
	assert.True(t, got.d.Approved)
	require.NotNil(t, got.link)
	assert.Equal(t, token, got.link.Token)
}

func TestCoordinator_ResolveAfterRunFinished(t *testing.T) {
	c := setupCoordinator(t)
	ctx := context.Background()

	// Mint a link with no waiting gate entry, as after a process restart.
	link, err := c.Links().Create(ctx, testRequest())
	require.NoError(t, err)

	res, resolved, err := c.ResolveToken(ctx, link.Token, "user-1", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "expired", res.Error)
	// The link itself still reached its terminal state.
	assert.Equal(t, LinkStatusDenied, resolved.Status)
}

func TestCoordinator_ResolveUnknownToken(t *testing.T) {
	c := setupCoordinator(t)

	_, _, err := c.ResolveToken(context.Background(), "deadbeef", "user-1", true)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFoundOrExpired, types.GetErrorCode(err))
}

func TestCoordinator_InlineOnlyWithoutLinkStore(t *testing.T) {
	gate := NewGate(time.Minute, zap.NewNop())
	c := NewCoordinator(gate, nil, zap.NewNop())

	done := make(chan Decision, 1)
	go func() {
		d, link := c.RequestApproval(context.Background(), testRequest())
		assert.Nil(t, link)
		done <- d
	}()

	require.Eventually(t, func() bool {
		return gate.PendingCount() == 1
	}, time.Second, time.Millisecond)

	res := gate.Submit(SubmitRequest{ConversationID: "conv-1", RunID: "run-1", ToolCallID: "call-1", Approved: true})
	require.True(t, res.Success)
	assert.True(t, (<-done).Approved)

	_, _, err := c.ResolveToken(context.Background(), "anything", "user-1", true)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFoundOrExpired, types.GetErrorCode(err))
}

func clientKeys(t *testing.T, c *Coordinator) []string {
	t.Helper()
	keys, err := c.Links().client.Keys(context.Background(), c.Links().keyPrefix+"*").Result()
	require.NoError(t, err)
	for i, k := range keys {
		keys[i] = k[len(c.Links().keyPrefix):]
	}
	return keys
}
