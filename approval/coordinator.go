package approval

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentrun/agentrun/types"
)

// Coordinator ties the in-memory gate to the durable link store: it registers
// the pending approval, mints the out-of-band link, and forwards token
// resolutions back into the gate.
type Coordinator struct {
	gate   *Gate
	links  *LinkStore
	logger *zap.Logger
}

// NewCoordinator creates a coordinator. links may be nil, in which case only
// inline approval is available.
func NewCoordinator(gate *Gate, links *LinkStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		gate:   gate,
		links:  links,
		logger: logger.With(zap.String("component", "approval")),
	}
}

// Gate exposes the underlying gate for inline submissions.
func (c *Coordinator) Gate() *Gate { return c.gate }

// Links exposes the underlying link store, or nil when not configured.
func (c *Coordinator) Links() *LinkStore { return c.links }

// RequestApproval suspends the caller until the request is approved, denied,
// times out, or ctx is canceled. The gate entry is registered before the link
// is minted so a decision arriving through either path always finds a target.
// Link creation failure degrades to inline-only approval rather than failing
// the tool call.
func (c *Coordinator) RequestApproval(ctx context.Context, req Request) (Decision, *Link) {
	pending := c.gate.Register(req)
	var link *Link
	if c.links != nil {
		var err error
		link, err = c.links.Create(ctx, req)
		if err != nil {
			c.logger.Warn("approval link creation failed, inline approval only",
				zap.String("run_id", req.RunID),
				zap.String("tool_call_id", req.ToolCallID),
				zap.Error(err))
		}
	}
	return pending.Wait(ctx), link
}

// ResolveToken resolves an approval link and delivers the decision to the
// gate. The link transition is terminal even when the gate entry is already
// gone; the returned SubmitResult reports whether a waiting tool call was
// reached.
func (c *Coordinator) ResolveToken(ctx context.Context, token, requesterID string, approved bool) (SubmitResult, *Link, error) {
	if c.links == nil {
		return SubmitResult{}, nil, types.NewError(types.ErrNotFoundOrExpired, "expired")
	}
	link, err := c.links.Resolve(ctx, token, requesterID, approved)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	res := c.gate.Submit(SubmitRequest{
		ConversationID: link.ConversationID,
		RunID:          link.RunID,
		ToolCallID:     link.ToolCallID,
		Approved:       approved,
	})
	return res, link, nil
}
