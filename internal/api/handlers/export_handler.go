package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ToolSuite/internal/models"
	"github.com/markdave123-py/ToolSuite/internal/services"
)

type ExportHandler struct {
	exports *services.ExportService
}

func NewExportHandler(exports *services.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

type exportRequest struct {
	Destination models.ExportDestination `json:"destination"`
}

// Export renders every export candidate. Destination comes from the body or
// the "destination" query parameter and defaults to csv. A csv export with
// includeLineItems=0 is answered with the documents file as an attachment.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := exportRequest{Destination: models.ExportDestination(q.Get("destination"))}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Destination == "" {
		req.Destination = models.DestinationCSV
	}

	res, err := h.exports.Export(r.Context(), userID, req.Destination)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if q.Get("includeLineItems") == "0" && res.Documents != nil {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+res.Documents.FileName+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(res.Documents.Content))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ExportHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	batches, err := h.exports.ListBatches(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *ExportHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	batch, err := h.exports.GetBatch(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// Reopen undoes an export so its documents show up as export candidates again.
func (h *ExportHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	res, err := h.exports.ReopenBatch(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ExportHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.exports.UnarchiveBatch(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unarchived_count": n})
}
