package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentrun/agentrun/api"
	"github.com/agentrun/agentrun/jobs"
	"github.com/agentrun/agentrun/run"
	"github.com/agentrun/agentrun/stream"
	"github.com/agentrun/agentrun/types"
	"go.uber.org/zap"
)

// RunHandler serves the run lifecycle endpoints: start, event stream,
// cancel, cancel-all, and active-run enumeration.
type RunHandler struct {
	orchestrator *run.Orchestrator
	registry     *jobs.Registry
	broker       *stream.Broker
	logger       *zap.Logger
}

// NewRunHandler creates the run endpoints handler.
func NewRunHandler(orchestrator *run.Orchestrator, registry *jobs.Registry, broker *stream.Broker, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		orchestrator: orchestrator,
		registry:     registry,
		broker:       broker,
		logger:       logger.With(zap.String("component", "run_handler")),
	}
}

// HandleStart serves POST /api/v1/runs.
func (h *RunHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "authentication required", h.logger)
		return
	}

	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Prompt == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "prompt is required", h.logger)
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	job, err := h.orchestrator.Start(r.Context(), userID, run.Options{
		ConversationID: conversationID,
		StreamID:       req.StreamID,
		Prompt:         req.Prompt,
		Files:          req.Files,
		Model:          req.Model,
		Headless:       req.Headless,
	})
	if err != nil {
		var apiErr *types.Error
		if errors.As(err, &apiErr) {
			WriteError(w, apiErr, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, "failed to start run").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, api.StartRunResponse{
		StreamID:       job.StreamID,
		ConversationID: conversationID,
		CreatedAt:      job.CreatedAt.UnixMilli(),
	})
}

// HandleEvents serves GET /api/v1/runs/events?stream_id=<id> as an SSE
// feed. Attaching replaces any previous subscriber for the stream; the
// feed ends after the terminal event or when the client disconnects.
func (h *RunHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("stream_id")
	if streamID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "stream_id is required", h.logger)
		return
	}

	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "authentication required", h.logger)
		return
	}
	if job := h.registry.GetJob(streamID); job != nil && job.UserID != userID {
		WriteErrorMessage(w, http.StatusForbidden, types.ErrUnauthorized, "stream belongs to another user", h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, detach := h.broker.Attach(streamID)
	defer detach()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug("subscriber write failed",
					zap.String("stream_id", streamID), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev stream.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(ev.Type()) + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

// HandleCancel serves POST /api/v1/runs/cancel. Abort is cooperative:
// the generation task observes the signal at tool-call and emission
// granularity, and partial state is persisted as unfinished.
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "authentication required", h.logger)
		return
	}

	var req api.CancelRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.StreamID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "stream_id is required", h.logger)
		return
	}

	job := h.registry.GetJob(req.StreamID)
	if job == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrRunNotFound, "no active run for stream", h.logger)
		return
	}
	if job.UserID != userID {
		WriteErrorMessage(w, http.StatusForbidden, types.ErrUnauthorized, "stream belongs to another user", h.logger)
		return
	}

	aborted := h.registry.AbortJob(req.StreamID)
	WriteSuccess(w, api.CancelRunResponse{Aborted: aborted})
}

// HandleCancelAll serves POST /api/v1/runs/cancel-all for the caller.
func (h *RunHandler) HandleCancelAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "authentication required", h.logger)
		return
	}

	aborted := h.registry.AbortAllForUser(userID)
	if aborted == nil {
		aborted = []string{}
	}
	WriteSuccess(w, api.CancelAllResponse{Aborted: aborted})
}

// HandleActive serves GET /api/v1/runs/active for the caller.
func (h *RunHandler) HandleActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "authentication required", h.logger)
		return
	}

	ids := h.registry.ActiveStreamIDsForUser(userID)
	if ids == nil {
		ids = []string{}
	}
	WriteSuccess(w, api.ActiveRunsResponse{StreamIDs: ids})
}
