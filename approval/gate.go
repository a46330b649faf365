package approval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDeadline bounds how long a tool call stays suspended waiting for a
// human decision before the gate synthesizes a denial.
const DefaultDeadline = 5 * time.Minute

// Decision is the outcome delivered to a suspended tool call.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Request identifies a pending approval and carries the context shown to the
// approver.
type Request struct {
	ConversationID string `json:"conversationId"`
	RunID          string `json:"runId"`
	ToolCallID     string `json:"toolCallId"`
	UserID         string `json:"userId"`
	ToolName       string `json:"toolName"`
	ArgsSummary    string `json:"argsSummary"`
}

// SubmitRequest resolves a pending approval.
type SubmitRequest struct {
	ConversationID string `json:"conversationId"`
	RunID          string `json:"runId"`
	ToolCallID     string `json:"toolCallId"`
	Approved       bool   `json:"approved"`
}

// SubmitResult reports whether a submission reached a waiting tool call.
type SubmitResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type pendingKey struct {
	conversationID string
	runID          string
	toolCallID     string
}

// Pending is a registered approval awaiting a decision. Wait blocks until a
// decision is submitted, the deadline passes, or ctx is canceled; the latter
// two synthesize a denial.
type Pending struct {
	gate     *Gate
	key      pendingKey
	req      Request
	deadline time.Time
	ch       chan Decision
}

// Gate holds in-flight approval requests in memory. Each pending entry is
// resolved at most once: the first Submit wins, later submissions for the same
// key report "expired".
type Gate struct {
	mu       sync.Mutex
	pending  map[pendingKey]*Pending
	deadline time.Duration
	logger   *zap.Logger
}

// NewGate creates a gate with the given decision deadline. A non-positive
// deadline falls back to DefaultDeadline.
func NewGate(deadline time.Duration, logger *zap.Logger) *Gate {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		pending:  make(map[pendingKey]*Pending),
		deadline: deadline,
		logger:   logger.With(zap.String("component", "approval_gate")),
	}
}

// Register records a pending approval and returns a handle to wait on.
// Registration happens before the tool executes so a decision arriving
// immediately after still finds its target.
func (g *Gate) Register(req Request) *Pending {
	key := pendingKey{req.ConversationID, req.RunID, req.ToolCallID}
	p := &Pending{
		gate:     g,
		key:      key,
		req:      req,
		deadline: time.Now().Add(g.deadline),
		ch:       make(chan Decision, 1),
	}
	g.mu.Lock()
	g.pending[key] = p
	g.mu.Unlock()
	g.logger.Debug("approval registered",
		zap.String("run_id", req.RunID),
		zap.String("tool_call_id", req.ToolCallID),
		zap.String("tool", req.ToolName))
	return p
}

// Lookup returns the request for a pending approval, for display to the
// approver.
func (g *Gate) Lookup(conversationID, runID, toolCallID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[pendingKey{conversationID, runID, toolCallID}]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

// Submit delivers a decision to the waiting tool call. The pending entry is
// removed under the lock before delivery, so exactly one submission succeeds.
func (g *Gate) Submit(req SubmitRequest) SubmitResult {
	key := pendingKey{req.ConversationID, req.RunID, req.ToolCallID}
	g.mu.Lock()
	p, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
	}
	g.mu.Unlock()
	if !ok {
		return SubmitResult{Success: false, Error: "expired"}
	}
	reason := "approved"
	if !req.Approved {
		reason = "denied"
	}
	p.ch <- Decision{Approved: req.Approved, Reason: reason}
	g.logger.Info("approval resolved",
		zap.String("run_id", req.RunID),
		zap.String("tool_call_id", req.ToolCallID),
		zap.Bool("approved", req.Approved))
	return SubmitResult{Success: true}
}

// Await registers the request and blocks for the decision in one step.
func (g *Gate) Await(ctx context.Context, req Request) Decision {
	return g.Register(req).Wait(ctx)
}

// PendingCount reports the number of unresolved approvals.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Wait blocks until the approval is resolved. Deadline expiry or context
// cancellation removes the entry and synthesizes a denial; a Submit that loses
// that race reports "expired" to its caller.
func (p *Pending) Wait(ctx context.Context) Decision {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()
	select {
	case d := <-p.ch:
		return d
	case <-timer.C:
		return p.abandon("timeout")
	case <-ctx.Done():
		return p.abandon("canceled")
	}
}

func (p *Pending) abandon(reason string) Decision {
	p.gate.mu.Lock()
	_, ok := p.gate.pending[p.key]
	if ok {
		delete(p.gate.pending, p.key)
	}
	p.gate.mu.Unlock()
	if !ok {
		// Submit removed the entry and a decision is already buffered.
		return <-p.ch
	}
	p.gate.logger.Info("approval abandoned",
		zap.String("run_id", p.req.RunID),
		zap.String("tool_call_id", p.req.ToolCallID),
		zap.String("reason", reason))
	return Decision{Approved: false, Reason: reason}
}
