package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/repassist-platform/internal/workflow"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// RunEngine is the subset of the workflow engine the handler needs.
type RunEngine interface {
	StartRun(ctx context.Context, req workflow.RunRequest) (workflow.RunReceipt, error)
	Cancel(conversationID string) bool
}

// AssistStore covers the conversation/run/resolution reads and writes behind
// the HTTP surface.
type AssistStore interface {
	CreateConversation(ctx context.Context, conv *workflow.Conversation) error
	AppendMessage(ctx context.Context, conversationID string, msg workflow.Message) error
	LoadConversation(ctx context.Context, id string) (*workflow.Conversation, []workflow.Message, error)
	GetRun(ctx context.Context, runID string) (*workflow.WorkflowRun, error)
	GetResolution(ctx context.Context, resolutionID string) (*workflow.Resolution, error)
	SaveApproval(ctx context.Context, approval *workflow.ApprovalRecord) error
}

// AssistHandler exposes the rep-facing API: conversation intake, run
// triggering, cancellation, run status, and resolution review.
type AssistHandler struct {
	engine RunEngine
	store  AssistStore
	logger *logging.Logger
}

func NewAssistHandler(engine RunEngine, store AssistStore, logger *logging.Logger) *AssistHandler {
	if engine == nil {
		panic("handlers: engine cannot be nil")
	}
	if store == nil {
		panic("handlers: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AssistHandler{engine: engine, store: store, logger: logger}
}

type createConversationRequest struct {
	ConversationID   string `json:"conversation_id"`
	RepresentativeID string `json:"representative_id"`
	CustomerID       string `json:"customer_id"`
	Channel          string `json:"channel"`
}

// CreateConversation registers a conversation so messages and runs can attach
// to it.
func (h *AssistHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.RepresentativeID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "representative_id is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	channel := req.Channel
	switch channel {
	case "":
		channel = "chat"
	case "voice", "chat", "email":
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "channel must be voice, chat, or email")
		return
	}

	conv := &workflow.Conversation{
		ID:               req.ConversationID,
		RepresentativeID: req.RepresentativeID,
		CustomerID:       req.CustomerID,
		Channel:          channel,
		Status:           workflow.ConversationActive,
	}
	if err := h.store.CreateConversation(r.Context(), conv); err != nil {
		h.logger.Error("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_error", "could not create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Seq     int    `json:"seq"`
}

// AppendMessage appends one transcript turn.
func (h *AssistHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	switch req.Role {
	case workflow.RoleCustomer, workflow.RoleRepresentative, workflow.RoleSystem:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be customer, representative, or system")
		return
	}
	if strings.TrimSpace(req.Content) == "" || req.Seq <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "content and a positive seq are required")
		return
	}

	if err := h.store.AppendMessage(r.Context(), conversationID, workflow.Message{
		Role:    req.Role,
		Content: req.Content,
		Seq:     req.Seq,
	}); err != nil {
		h.logger.Error("failed to append message", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_error", "could not append message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetConversation returns the conversation with its transcript.
func (h *AssistHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, messages, err := h.store.LoadConversation(r.Context(), conversationID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}

type triggerRequest struct {
	RepresentativeID string `json:"representative_id"`
	Force            bool   `json:"force"`
}

// TriggerRun starts the assist workflow for a conversation.
func (h *AssistHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	receipt, err := h.engine.StartRun(r.Context(), workflow.RunRequest{
		ConversationID:   conversationID,
		RepresentativeID: req.RepresentativeID,
		Force:            req.Force,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// CancelRun cancels a conversation's in-flight run.
func (h *AssistHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if !h.engine.Cancel(conversationID) {
		writeError(w, http.StatusNotFound, "no_run_in_flight", "no in-flight run for conversation")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetRun returns a run record.
func (h *AssistHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type approvalRequest struct {
	Action           string `json:"action"`
	EditedText       string `json:"edited_text"`
	Feedback         string `json:"feedback"`
	RepresentativeID string `json:"representative_id"`
}

// ReviewResolution records the representative's approve/reject/edit action.
// The action is terminal; a second review is rejected.
func (h *AssistHandler) ReviewResolution(w http.ResponseWriter, r *http.Request) {
	resolutionID := chi.URLParam(r, "resolutionID")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	switch req.Action {
	case workflow.ApprovalApprove, workflow.ApprovalReject:
	case workflow.ApprovalEdit:
		if strings.TrimSpace(req.EditedText) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "edited_text is required for edit")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "action must be approve, reject, or edit")
		return
	}

	if _, err := h.store.GetResolution(r.Context(), resolutionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "resolution_not_found", "no such resolution")
			return
		}
		h.logger.Error("failed to load resolution", "resolution_id", resolutionID, "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_error", "could not load resolution")
		return
	}

	approval := &workflow.ApprovalRecord{
		ResolutionID:     resolutionID,
		Action:           req.Action,
		EditedText:       req.EditedText,
		Feedback:         req.Feedback,
		RepresentativeID: req.RepresentativeID,
	}
	if err := h.store.SaveApproval(r.Context(), approval); err != nil {
		if strings.Contains(err.Error(), "already reviewed") {
			writeError(w, http.StatusConflict, "already_reviewed", "resolution already reviewed")
			return
		}
		h.logger.Error("failed to save approval", "resolution_id", resolutionID, "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_error", "could not save approval")
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

// writeWorkflowError maps workflow error kinds onto HTTP statuses.
func writeWorkflowError(w http.ResponseWriter, err error) {
	kind := workflow.KindOf(err)
	switch kind {
	case workflow.KindConversationNotFound:
		writeError(w, http.StatusNotFound, kind, "conversation not found")
	case workflow.KindRunInProgress:
		writeError(w, http.StatusConflict, kind, "a run is already in flight for this conversation")
	case workflow.KindInvalidState:
		writeError(w, http.StatusConflict, kind, "conversation is not active")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
