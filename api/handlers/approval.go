package handlers

import (
	"net/http"

	"github.com/agentrun/agentrun/api"
	"github.com/agentrun/agentrun/approval"
	"github.com/agentrun/agentrun/types"
	"go.uber.org/zap"
)

// ApprovalMetrics receives approval surface observations.
type ApprovalMetrics interface {
	RecordApprovalDecision(outcome string)
	RecordLinkResolution(outcome string)
	SetApprovalsPending(n int)
}

// ApprovalHandler serves the approval page endpoints. Its error bodies
// use the bare `{"error": ...}` shape the page renders directly; the
// not-found and expired cases are deliberately indistinguishable so a
// caller cannot probe for links it does not own.
type ApprovalHandler struct {
	coordinator *approval.Coordinator
	metrics     ApprovalMetrics
	logger      *zap.Logger
}

// NewApprovalHandler creates the approval endpoints handler. metrics may
// be nil.
func NewApprovalHandler(coordinator *approval.Coordinator, metrics ApprovalMetrics, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger.With(zap.String("component", "approval_handler")),
	}
}

// HandleGetPendingApproval serves GET /api/v1/pending-approval?id=<token>.
func (h *ApprovalHandler) HandleGetPendingApproval(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("id")
	if token == "" {
		WritePlainError(w, http.StatusBadRequest, "missing id")
		return
	}

	requesterID, ok := types.UserID(r.Context())
	if !ok {
		WritePlainError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	links := h.coordinator.Links()
	if links == nil {
		WritePlainError(w, http.StatusNotFound, "expired")
		return
	}

	link, err := links.Fetch(r.Context(), token, requesterID)
	if err != nil {
		h.writeLinkError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, api.PendingApprovalResponse{
		ToolName:       link.ToolName,
		ArgsSummary:    link.ArgsSummary,
		ConversationID: link.ConversationID,
	})
}

// HandleToolConfirmation serves POST /api/v1/tool-confirmation. The body
// carries either a link token (`id`) or the inline approval triple; both
// funnel into the same gate submission.
func (h *ApprovalHandler) HandleToolConfirmation(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := types.UserID(r.Context())
	if !ok {
		WritePlainError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	var req api.ToolConfirmationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Approved == nil {
		WritePlainError(w, http.StatusBadRequest, "missing approved")
		return
	}

	if req.ID != "" {
		h.resolveToken(w, r, req.ID, requesterID, *req.Approved)
		return
	}

	if req.ConversationID == "" || req.MessageID == "" || req.ToolCallID == "" {
		WritePlainError(w, http.StatusBadRequest, "missing fields")
		return
	}

	res := h.coordinator.Gate().Submit(approval.SubmitRequest{
		ConversationID: req.ConversationID,
		RunID:          req.MessageID,
		ToolCallID:     req.ToolCallID,
		Approved:       *req.Approved,
	})
	h.recordDecision(res, *req.Approved)
	WriteJSON(w, http.StatusOK, api.ToolConfirmationResponse{
		Success: res.Success,
		Error:   res.Error,
	})
}

func (h *ApprovalHandler) resolveToken(w http.ResponseWriter, r *http.Request, token, requesterID string, approved bool) {
	res, link, err := h.coordinator.ResolveToken(r.Context(), token, requesterID, approved)
	if err != nil {
		h.writeLinkError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordLinkResolution(string(link.Status))
	}
	h.recordDecision(res, approved)
	WriteJSON(w, http.StatusOK, api.ToolConfirmationResponse{
		Success: res.Success,
		Error:   res.Error,
	})
}

func (h *ApprovalHandler) recordDecision(res approval.SubmitResult, approved bool) {
	if h.metrics == nil {
		return
	}
	switch {
	case !res.Success:
		h.metrics.RecordApprovalDecision("expired")
	case approved:
		h.metrics.RecordApprovalDecision("approved")
	default:
		h.metrics.RecordApprovalDecision("denied")
	}
	h.metrics.SetApprovalsPending(h.coordinator.Gate().PendingCount())
}

func (h *ApprovalHandler) writeLinkError(w http.ResponseWriter, err error) {
	switch types.GetErrorCode(err) {
	case types.ErrNotFoundOrExpired:
		WritePlainError(w, http.StatusNotFound, "expired")
	case types.ErrUnauthorized:
		WritePlainError(w, http.StatusForbidden, "Unauthorized")
	case types.ErrConflict:
		WritePlainError(w, http.StatusConflict, "already processed")
	default:
		h.logger.Error("approval link operation failed", zap.Error(err))
		WritePlainError(w, http.StatusInternalServerError, "internal error")
	}
}
