package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/repassist-platform/internal/workflow"
)

type fakeEngine struct {
	receipt   workflow.RunReceipt
	err       error
	lastReq   workflow.RunRequest
	cancelled []string
	canCancel bool
}

func (f *fakeEngine) StartRun(_ context.Context, req workflow.RunRequest) (workflow.RunReceipt, error) {
	f.lastReq = req
	if f.err != nil {
		return workflow.RunReceipt{}, f.err
	}
	return f.receipt, nil
}

func (f *fakeEngine) Cancel(conversationID string) bool {
	f.cancelled = append(f.cancelled, conversationID)
	return f.canCancel
}

type fakeStore struct {
	conversations map[string]*workflow.Conversation
	messages      map[string][]workflow.Message
	runs          map[string]*workflow.WorkflowRun
	resolutions   map[string]*workflow.Resolution
	approvals     []*workflow.ApprovalRecord
	approvalErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*workflow.Conversation),
		messages:      make(map[string][]workflow.Message),
		runs:          make(map[string]*workflow.WorkflowRun),
		resolutions:   make(map[string]*workflow.Resolution),
	}
}

func (s *fakeStore) CreateConversation(_ context.Context, conv *workflow.Conversation) error {
	s.conversations[conv.ID] = conv
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, conversationID string, msg workflow.Message) error {
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

func (s *fakeStore) LoadConversation(_ context.Context, id string) (*workflow.Conversation, []workflow.Message, error) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil, workflow.NewError(workflow.KindConversationNotFound, nil)
	}
	return conv, s.messages[id], nil
}

func (s *fakeStore) GetRun(_ context.Context, runID string) (*workflow.WorkflowRun, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, workflow.NewError(workflow.KindConversationNotFound, nil)
	}
	return run, nil
}

func (s *fakeStore) GetResolution(_ context.Context, resolutionID string) (*workflow.Resolution, error) {
	res, ok := s.resolutions[resolutionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return res, nil
}

func (s *fakeStore) SaveApproval(_ context.Context, approval *workflow.ApprovalRecord) error {
	if s.approvalErr != nil {
		return s.approvalErr
	}
	s.approvals = append(s.approvals, approval)
	return nil
}

func newTestRouter(engine *fakeEngine, store *fakeStore) http.Handler {
	h := NewAssistHandler(engine, store, nil)
	r := chi.NewRouter()
	r.Post("/conversations", h.CreateConversation)
	r.Get("/conversations/{conversationID}", h.GetConversation)
	r.Post("/conversations/{conversationID}/messages", h.AppendMessage)
	r.Post("/conversations/{conversationID}/assist", h.TriggerRun)
	r.Delete("/conversations/{conversationID}/assist", h.CancelRun)
	r.Get("/runs/{runID}", h.GetRun)
	r.Post("/resolutions/{resolutionID}/review", h.ReviewResolution)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateConversation(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(&fakeEngine{}, store)

	rec := doJSON(t, router, http.MethodPost, "/conversations", map[string]string{
		"representative_id": "rep-1",
		"channel":           "chat",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv workflow.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, workflow.ConversationActive, conv.Status)
	assert.Contains(t, store.conversations, conv.ID)
}

func TestCreateConversationValidatesChannel(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/conversations", map[string]string{
		"representative_id": "rep-1",
		"channel":           "fax",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendMessageValidatesRole(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/conversations/conv-1/messages", map[string]any{
		"role": "narrator", "content": "hi", "seq": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRunStarted(t *testing.T) {
	engine := &fakeEngine{receipt: workflow.RunReceipt{RunID: "run-1", Status: workflow.StatusStarted}}
	router := newTestRouter(engine, newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/conversations/conv-1/assist", map[string]any{
		"representative_id": "rep-1", "force": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var receipt workflow.RunReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "run-1", receipt.RunID)
	assert.Equal(t, workflow.StatusStarted, receipt.Status)

	assert.Equal(t, "conv-1", engine.lastReq.ConversationID)
	assert.True(t, engine.lastReq.Force)
}

func TestTriggerRunErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		kind       string
		wantStatus int
	}{
		{"run in progress", workflow.KindRunInProgress, http.StatusConflict},
		{"not found", workflow.KindConversationNotFound, http.StatusNotFound},
		{"invalid state", workflow.KindInvalidState, http.StatusConflict},
		{"persistence", workflow.KindPersistenceError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{err: workflow.NewError(tt.kind, nil)}
			router := newTestRouter(engine, newFakeStore())

			rec := doJSON(t, router, http.MethodPost, "/conversations/conv-1/assist", map[string]any{})
			assert.Equal(t, tt.wantStatus, rec.Code)

			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			if tt.kind != workflow.KindPersistenceError {
				assert.Equal(t, tt.kind, payload["error"])
			}
		})
	}
}

func TestCancelRun(t *testing.T) {
	engine := &fakeEngine{canCancel: true}
	router := newTestRouter(engine, newFakeStore())

	rec := doJSON(t, router, http.MethodDelete, "/conversations/conv-1/assist", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"conv-1"}, engine.cancelled)

	engine.canCancel = false
	rec = doJSON(t, router, http.MethodDelete, "/conversations/conv-1/assist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewResolution(t *testing.T) {
	store := newFakeStore()
	store.resolutions["res-1"] = &workflow.Resolution{ID: "res-1", Status: workflow.ResolutionPendingReview}
	router := newTestRouter(&fakeEngine{}, store)

	rec := doJSON(t, router, http.MethodPost, "/resolutions/res-1/review", map[string]string{
		"action": "approve", "representative_id": "rep-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.approvals, 1)
	assert.Equal(t, workflow.ApprovalApprove, store.approvals[0].Action)
}

func TestReviewResolutionEditRequiresText(t *testing.T) {
	store := newFakeStore()
	store.resolutions["res-1"] = &workflow.Resolution{ID: "res-1"}
	router := newTestRouter(&fakeEngine{}, store)

	rec := doJSON(t, router, http.MethodPost, "/resolutions/res-1/review", map[string]string{
		"action": "edit",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewResolutionNotFound(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, newFakeStore())

	rec := doJSON(t, router, http.MethodPost, "/resolutions/missing/review", map[string]string{
		"action": "approve",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &workflow.WorkflowRun{ID: "run-1", State: workflow.StateSucceeded}
	router := newTestRouter(&fakeEngine{}, store)

	rec := doJSON(t, router, http.MethodGet, "/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var run workflow.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, workflow.StateSucceeded, run.State)
}
