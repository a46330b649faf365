package run

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agentrun/agentrun/jobs"
	"github.com/agentrun/agentrun/store"
	"github.com/agentrun/agentrun/stream"
	"github.com/agentrun/agentrun/types"
)

const (
	defaultSubscriberGrace = 3 * time.Second
	defaultHeadlessGrace   = 300 * time.Millisecond
	defaultTitleTimeout    = 15 * time.Second

	persistTimeout  = 10 * time.Second
	snapshotTimeout = 5 * time.Second
)

// Config tunes orchestration timing.
type Config struct {
	// SubscriberGrace is how long an interactive run waits for a subscriber to
	// attach before generation starts. Headless callers use HeadlessGrace.
	SubscriberGrace time.Duration
	HeadlessGrace   time.Duration
	// TitleTimeout bounds fire-and-forget title generation.
	TitleTimeout time.Duration
}

// Options describes one requested generation attempt.
type Options struct {
	ConversationID string
	StreamID       string
	Prompt         string
	Files          []types.FileRef
	Model          string
	// Headless marks non-interactive invokers: shorter subscriber grace, no
	// per-user pending accounting, no title generation.
	Headless bool
}

// TitleGenerator produces a conversation title from its first exchange.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, snapshot *types.ConversationSnapshot) (string, error)
}

// Metrics receives run lifecycle observations.
type Metrics interface {
	RunStarted(headless bool)
	RunCompleted(outcome string, duration time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) RunStarted(bool)                    {}
func (NopMetrics) RunCompleted(string, time.Duration) {}

// Orchestrator coordinates generation attempts across the registry, broker,
// store, and the generation engine.
type Orchestrator struct {
	registry *jobs.Registry
	broker   *stream.Broker
	store    store.ConversationStore
	limiter  *jobs.UserLimiter
	factory  ClientFactory
	titles   TitleGenerator
	metrics  Metrics
	cfg      Config
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. titles may be nil to disable title
// generation; metrics may be nil.
func NewOrchestrator(
	registry *jobs.Registry,
	broker *stream.Broker,
	st store.ConversationStore,
	limiter *jobs.UserLimiter,
	factory ClientFactory,
	titles TitleGenerator,
	metrics Metrics,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.SubscriberGrace <= 0 {
		cfg.SubscriberGrace = defaultSubscriberGrace
	}
	if cfg.HeadlessGrace <= 0 {
		cfg.HeadlessGrace = defaultHeadlessGrace
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = defaultTitleTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		broker:   broker,
		store:    st,
		limiter:  limiter,
		factory:  factory,
		titles:   titles,
		metrics:  metrics,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/agentrun/agentrun/run"),
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Start validates the request, registers the job, and launches the generation
// attempt in the background. Errors surfacing from the attempt itself are
// converted to error events on the stream, not returned here.
func (o *Orchestrator) Start(ctx context.Context, userID string, opts Options) (*jobs.Job, error) {
	if userID == "" {
		return nil, types.NewError(types.ErrValidation, "user id is required")
	}
	if opts.Prompt == "" {
		return nil, types.NewError(types.ErrValidation, "prompt is required")
	}
	if opts.ConversationID == "" {
		opts.ConversationID = uuid.New().String()
	}
	if opts.StreamID == "" {
		opts.StreamID = uuid.New().String()
	}

	if _, err := o.store.EnsureConversation(ctx, opts.ConversationID, userID); err != nil {
		return nil, err
	}

	if !opts.Headless {
		if err := o.limiter.Acquire(userID); err != nil {
			return nil, err
		}
	}

	job := o.registry.CreateJob(opts.StreamID, userID)

	client, err := o.factory(ctx, o.generateOptions(job, opts))
	if err != nil {
		if !opts.Headless {
			o.limiter.Release(userID)
		}
		o.registry.CompleteJob(job.StreamID, job.CreatedAt, "client init failed")
		return nil, types.NewError(types.ErrUpstreamError, "failed to construct generation client").WithCause(err)
	}

	o.metrics.RunStarted(opts.Headless)
	go o.launch(job, client, opts)
	return job, nil
}

func (o *Orchestrator) generateOptions(job *jobs.Job, opts Options) GenerateOptions {
	return GenerateOptions{
		ConversationID: opts.ConversationID,
		StreamID:       job.StreamID,
		UserID:         job.UserID,
		Prompt:         opts.Prompt,
		Files:          opts.Files,
		Model:          opts.Model,
	}
}

func (o *Orchestrator) launch(job *jobs.Job, client GenerationClient, opts Options) {
	if err := o.Execute(job, client, opts); err != nil {
		o.logger.Error("generation failed",
			zap.String("stream_id", job.StreamID),
			zap.Error(err))
		cur := o.registry.GetJob(job.StreamID)
		if cur == nil || !cur.CreatedAt.Equal(job.CreatedAt) {
			// Superseded; the error event would tear down the replacement's
			// subscription.
			o.metrics.RunCompleted("suppressed", 0)
			return
		}
		o.registry.EmitError(job.StreamID, &stream.ErrorEvent{
			StreamID: job.StreamID,
			Code:     string(types.GetErrorCode(err)),
			Message:  err.Error(),
			At:       time.Now(),
		})
		o.registry.CompleteJob(job.StreamID, job.CreatedAt, "error")
		o.metrics.RunCompleted("error", 0)
	}
}

// Execute drives one generation attempt to completion. Errors from the
// generation call itself are returned untouched for the caller to convert into
// an error event; everything else degrades to a logged, non-fatal failure. The
// client is closed and per-user accounting released on every exit path.
func (o *Orchestrator) Execute(job *jobs.Job, client GenerationClient, opts Options) error {
	started := time.Now()
	ctx, span := o.tracer.Start(job.Context(), "run.execute",
		trace.WithAttributes(
			attribute.String("stream_id", job.StreamID),
			attribute.String("conversation_id", opts.ConversationID),
			attribute.Bool("headless", opts.Headless),
		))
	defer span.End()

	defer func() {
		if err := client.Close(); err != nil {
			o.logger.Warn("generation client close failed",
				zap.String("stream_id", job.StreamID),
				zap.Error(err))
		}
		if !opts.Headless {
			o.limiter.Release(job.UserID)
		}
	}()

	// Step 1: bounded, best-effort wait for a subscriber.
	o.waitForSubscriber(ctx, job.StreamID, opts.Headless)

	// Step 2: start callback publishes the finalized user message.
	onStart := func(info StartInfo) {
		rid := info.ResponseMessageID
		o.registry.UpdateMetadata(job.StreamID, jobs.MetadataPatch{
			ResponseMessageID: &rid,
			UserMessage:       info.UserMessage,
		})
		o.registry.EmitCreated(job.StreamID, &stream.CreatedEvent{
			StreamID:       job.StreamID,
			ConversationID: opts.ConversationID,
			UserMessage:    info.UserMessage,
			At:             time.Now(),
		})
	}

	// Stream correlation id for the client's own logging and tracing.
	genCtx := types.WithStreamID(ctx, job.StreamID)

	result, err := client.Generate(genCtx, o.generateOptions(job, opts), onStart)
	if err != nil {
		return err
	}

	// Step 3: drain the result and reconcile attachments.
	response := result.Response
	userMsg := result.UserMessage
	snapshot := o.awaitSnapshot(result)
	if userMsg != nil && len(opts.Files) > 0 {
		userMsg = userMsg.WithFiles(reconcileFiles(userMsg.Files, opts.Files))
	}

	aborted := job.Aborted()
	if response != nil && aborted {
		response.Unfinished = true
	}

	// Step 4: persist at most once. The engine flags what it already saved.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if userMsg != nil && !result.UserMessageSaved {
		if err := o.store.SaveMessage(persistCtx, userMsg); err != nil {
			o.logger.Error("failed to persist user message",
				zap.String("stream_id", job.StreamID),
				zap.Error(err))
		}
	}
	if response != nil && !result.ResponseSaved {
		if n := PatchToolCalls(response.ToolCalls); n > 0 {
			o.logger.Debug("patched in-flight tool calls",
				zap.String("stream_id", job.StreamID),
				zap.Int("count", n))
		}
		if err := o.store.SaveMessage(persistCtx, response); err != nil {
			o.logger.Error("failed to persist response message",
				zap.String("stream_id", job.StreamID),
				zap.Error(err))
		}
	}
	if snapshot == nil {
		snap, err := o.store.GetConversation(persistCtx, opts.ConversationID)
		if err != nil {
			o.logger.Warn("failed to load conversation snapshot",
				zap.String("conversation_id", opts.ConversationID),
				zap.Error(err))
		} else {
			snapshot = snap
		}
	}

	// Step 5: re-check for replacement immediately before terminal emission.
	cur := o.registry.GetJob(job.StreamID)
	if cur == nil || !cur.CreatedAt.Equal(job.CreatedAt) {
		o.logger.Info("job replaced mid-flight, suppressing terminal emission",
			zap.String("stream_id", job.StreamID),
			zap.Time("created_at", job.CreatedAt))
		span.SetAttributes(attribute.Bool("suppressed", true))
		o.metrics.RunCompleted("suppressed", time.Since(started))
		return nil
	}

	// Step 6: terminal emission.
	title := result.Title
	if title == "" && snapshot != nil {
		title = snapshot.Title
	}
	o.registry.EmitDone(job.StreamID, &stream.DoneEvent{
		StreamID:     job.StreamID,
		Final:        true,
		Conversation: snapshot,
		Title:        title,
		Request:      userMsg,
		Response:     response,
		At:           time.Now(),
	})

	// Step 7: finalize and, for interactive first exchanges, kick off
	// best-effort title generation.
	outcome := "done"
	if aborted {
		outcome = "aborted"
	}
	o.registry.CompleteJob(job.StreamID, job.CreatedAt, outcome)
	o.metrics.RunCompleted(outcome, time.Since(started))

	if o.shouldGenerateTitle(opts, aborted, userMsg, snapshot) {
		go o.generateTitle(job.StreamID, snapshot)
	}
	return nil
}

func (o *Orchestrator) waitForSubscriber(ctx context.Context, streamID string, headless bool) {
	grace := o.cfg.SubscriberGrace
	if headless {
		grace = o.cfg.HeadlessGrace
	}
	if o.broker.HasSubscriber(streamID) {
		return
	}
	attached, cancel := o.broker.SubscriberAttached(streamID)
	defer cancel()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-attached:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// awaitSnapshot drains the engine's snapshot side channel, if one was offered.
func (o *Orchestrator) awaitSnapshot(result *Result) *types.ConversationSnapshot {
	if result.Snapshot == nil {
		return nil
	}
	timer := time.NewTimer(snapshotTimeout)
	defer timer.Stop()
	select {
	case snap := <-result.Snapshot:
		return snap
	case <-timer.C:
		o.logger.Warn("conversation snapshot side channel timed out")
		return nil
	}
}

// shouldGenerateTitle: interactive callers only, never after an abort, only
// for the root of the message tree, and only while the conversation is still
// untitled.
func (o *Orchestrator) shouldGenerateTitle(opts Options, aborted bool, userMsg *types.Message, snapshot *types.ConversationSnapshot) bool {
	if o.titles == nil || opts.Headless || aborted {
		return false
	}
	if userMsg == nil || userMsg.ParentID != "" {
		return false
	}
	return snapshot != nil && snapshot.Title == ""
}

func (o *Orchestrator) generateTitle(streamID string, snapshot *types.ConversationSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TitleTimeout)
	defer cancel()

	title, err := o.titles.GenerateTitle(ctx, snapshot)
	if err != nil {
		o.logger.Warn("title generation failed",
			zap.String("conversation_id", snapshot.ID),
			zap.Error(err))
		return
	}
	if err := o.store.UpdateTitle(ctx, snapshot.ID, title); err != nil {
		o.logger.Warn("failed to store generated title",
			zap.String("conversation_id", snapshot.ID),
			zap.Error(err))
		return
	}
	o.logger.Debug("conversation titled",
		zap.String("conversation_id", snapshot.ID),
		zap.String("stream_id", streamID))
}

// reconcileFiles merges client-supplied attachment references into the user
// message's file list without duplicating ids.
func reconcileFiles(existing, supplied []types.FileRef) []types.FileRef {
	seen := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		seen[f.ID] = struct{}{}
	}
	out := existing
	for _, f := range supplied {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}
