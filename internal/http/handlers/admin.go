package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/repassist-platform/internal/source"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// KnowledgeIngester feeds the semantic index adapter.
type KnowledgeIngester interface {
	Ingest(ctx context.Context, docs []source.Document) error
}

// RunArchiver exports a terminal run to the archive bucket.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, runID string) (string, error)
}

// AdminHandler exposes supervisor endpoints: knowledge ingestion for the
// semantic index and run archival. Both sit behind the admin JWT middleware.
type AdminHandler struct {
	ingester KnowledgeIngester
	archiver RunArchiver
	logger   *logging.Logger
}

func NewAdminHandler(ingester KnowledgeIngester, archiver RunArchiver, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{ingester: ingester, archiver: archiver, logger: logger}
}

type ingestRequest struct {
	Documents []source.Document `json:"documents"`
}

// IngestKnowledge embeds and stores documents for the semantic adapter.
func (h *AdminHandler) IngestKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "index_disabled", "semantic index is not configured")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "documents are required")
		return
	}
	for _, d := range req.Documents {
		if d.URL == "" || d.Content == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "every document needs a url and content")
			return
		}
	}

	if err := h.ingester.Ingest(r.Context(), req.Documents); err != nil {
		h.logger.Error("knowledge ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "could not ingest documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ingested": len(req.Documents)})
}

// ArchiveRun exports a terminal run to S3.
func (h *AdminHandler) ArchiveRun(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archive_disabled", "run archive is not configured")
		return
	}

	runID := chi.URLParam(r, "runID")
	key, err := h.archiver.ArchiveRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("run archive failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "archive_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}
