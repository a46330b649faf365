package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentrun/agentrun/stream"
	"github.com/agentrun/agentrun/types"
)

// Metadata carries the correlation fields a reconnecting subscriber needs to
// rehydrate state without replaying event history.
type Metadata struct {
	ResponseMessageID string
	UserMessage       *types.Message
}

// MetadataPatch merges non-nil fields into a Job's metadata.
type MetadataPatch struct {
	ResponseMessageID *string
	UserMessage       *types.Message
}

// Job is the in-memory record of one in-flight generation attempt. It is
// exclusively owned by the Registry and mutated only through it.
type Job struct {
	StreamID  string
	UserID    string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	meta Metadata
}

// Context returns the job's cancellation context. The generation task must
// check it at tool-call and emission granularity.
func (j *Job) Context() context.Context { return j.ctx }

// Aborted reports whether the cancellation signal was ever set.
func (j *Job) Aborted() bool { return j.ctx.Err() != nil }

// Metadata returns a copy of the job's metadata.
func (j *Job) Metadata() Metadata {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.meta
}

func (j *Job) applyPatch(p MetadataPatch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.ResponseMessageID != nil {
		j.meta.ResponseMessageID = *p.ResponseMessageID
	}
	if p.UserMessage != nil {
		j.meta.UserMessage = p.UserMessage
	}
}

// Registry is the process-wide map from stream id to Job. Construct one per
// process with NewRegistry and pass it by reference; there is no package-level
// instance.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	byUser map[string]map[string]struct{}

	broker *stream.Broker
	logger *zap.Logger
}

// NewRegistry creates a job registry that forwards events to broker.
func NewRegistry(broker *stream.Broker, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		byUser: make(map[string]map[string]struct{}),
		broker: broker,
		logger: logger.With(zap.String("component", "job_registry")),
	}
}

// CreateJob inserts a new Job for the stream id. An existing Job for the same
// id is superseded for registry lookups but its task is left running; it will
// notice the replacement through the CreatedAt mismatch.
func (r *Registry) CreateJob(streamID, userID string) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		StreamID:  streamID,
		UserID:    userID,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	r.mu.Lock()
	if prev, ok := r.jobs[streamID]; ok {
		r.logger.Info("job superseded",
			zap.String("stream_id", streamID),
			zap.Time("prev_created_at", prev.CreatedAt),
		)
		r.removeUserIndexLocked(prev.UserID, streamID)
	}
	r.jobs[streamID] = job
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][streamID] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("job created",
		zap.String("stream_id", streamID),
		zap.String("user_id", userID),
	)
	return job
}

// GetJob returns the current Job for the stream id, or nil.
func (r *Registry) GetJob(streamID string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[streamID]
}

// UpdateMetadata merges the patch into the current Job's metadata. Returns
// false when no Job exists for the stream id.
func (r *Registry) UpdateMetadata(streamID string, patch MetadataPatch) bool {
	job := r.GetJob(streamID)
	if job == nil {
		return false
	}
	job.applyPatch(patch)
	return true
}

// EmitCreated forwards the created event to an attached subscriber. The event
// is dropped when nobody is attached.
func (r *Registry) EmitCreated(streamID string, ev *stream.CreatedEvent) bool {
	return r.broker.Emit(streamID, ev, false)
}

// EmitChunk forwards a content delta to an attached subscriber, if any.
func (r *Registry) EmitChunk(streamID string, ev *stream.ChunkEvent) bool {
	return r.broker.Emit(streamID, ev, false)
}

// EmitDone forwards the terminal event and closes the subscription.
func (r *Registry) EmitDone(streamID string, ev *stream.DoneEvent) bool {
	return r.broker.Emit(streamID, ev, true)
}

// EmitError forwards a terminal error event and closes the subscription.
func (r *Registry) EmitError(streamID string, ev *stream.ErrorEvent) bool {
	return r.broker.Emit(streamID, ev, true)
}

// CompleteJob marks the stream's Job terminal and removes it. Removal is
// conditional on createdAt matching the registered Job, so a superseded
// attempt finalizing late cannot delete its replacement. Idempotent:
// completing an absent or already-replaced stream id is a no-op.
func (r *Registry) CompleteJob(streamID string, createdAt time.Time, reason string) {
	r.mu.Lock()
	job, ok := r.jobs[streamID]
	if ok && !job.CreatedAt.Equal(createdAt) {
		ok = false
	}
	if ok {
		delete(r.jobs, streamID)
		r.removeUserIndexLocked(job.UserID, streamID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	job.cancel()
	// Completion paths that never emitted a terminal event would otherwise
	// leave an attached subscriber waiting on an open channel.
	r.broker.CloseStream(streamID)
	r.logger.Debug("job completed",
		zap.String("stream_id", streamID),
		zap.String("reason", reason),
	)
}

// AbortJob sets the cancellation signal on the stream's Job. Cooperative only:
// the generation task keeps running until it observes the context. Returns
// false when no Job exists.
func (r *Registry) AbortJob(streamID string) bool {
	job := r.GetJob(streamID)
	if job == nil {
		return false
	}
	job.cancel()
	r.logger.Info("job abort requested", zap.String("stream_id", streamID))
	return true
}

// ActiveStreamIDsForUser enumerates the user's in-flight stream ids.
func (r *Registry) ActiveStreamIDsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

// AbortAllForUser sets the cancellation signal on every Job the user owns and
// returns the affected stream ids.
func (r *Registry) AbortAllForUser(userID string) []string {
	ids := r.ActiveStreamIDsForUser(userID)
	for _, id := range ids {
		r.AbortJob(id)
	}
	return ids
}

// Close cancels every remaining Job. For test teardown and process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		job.cancel()
		delete(r.jobs, id)
	}
	r.byUser = make(map[string]map[string]struct{})
}

func (r *Registry) removeUserIndexLocked(userID, streamID string) {
	if set, ok := r.byUser[userID]; ok {
		delete(set, streamID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}
