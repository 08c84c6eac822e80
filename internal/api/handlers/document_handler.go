package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/lifecycle"
	"github.com/markdave123-py/ToolSuite/internal/models"
	"github.com/markdave123-py/ToolSuite/internal/services"
)

// multipart overhead allowed on top of the file itself
const formSlack = 1 << 20

type DocumentHandler struct {
	docs     *services.DocumentService
	maxBytes int64
}

func NewDocumentHandler(docs *services.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxBytes: maxUploadBytes}
}

type documentResponse struct {
	*models.Document
	FileURL string `json:"file_url"`
}

func (h *DocumentHandler) respond(w http.ResponseWriter, status int, doc *models.Document) {
	writeJSON(w, status, documentResponse{Document: doc, FileURL: h.docs.PublicURL(doc)})
}

// Upload stores a multipart "file" part as a pending document.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formSlack)
	if err := r.ParseMultipartForm(formSlack); err != nil {
		writeError(w, r, core.InvalidState("file exceeds the upload limit or the form is malformed"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, core.InvalidState("missing file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, core.InvalidState("unreadable file"))
		return
	}

	doc, err := h.docs.Upload(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, doc)
}

// List returns the documents of one view: to_export, archived, trash or all.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := lifecycle.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := h.docs.List(r.Context(), userID, view)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i := range docs {
		out[i] = documentResponse{Document: &docs[i], FileURL: h.docs.PublicURL(&docs[i])}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Get)
}

func (h *DocumentHandler) Extract(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Extract)
}

func (h *DocumentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Retry)
}

func (h *DocumentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Archive)
}

func (h *DocumentHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Unarchive)
}

func (h *DocumentHandler) Trash(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Trash)
}

func (h *DocumentHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.docs.Restore)
}

type documentOp func(ctx context.Context, userID, id string) (*models.Document, error)

func (h *DocumentHandler) single(w http.ResponseWriter, r *http.Request, op documentOp) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	doc, err := op(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, doc)
}

// UpdateFields applies a manual correction to a completed document.
func (h *DocumentHandler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var patch services.FieldPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := h.docs.UpdateFields(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, doc)
}

// Delete permanently removes a trashed document.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.docs.HardDelete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.docs.EmptyTrash(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted_count": n})
}
