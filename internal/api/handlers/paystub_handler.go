package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
	"github.com/markdave123-py/ToolSuite/internal/services"
)

type PayStubHandler struct {
	stubs *services.PayStubService
}

func NewPayStubHandler(stubs *services.PayStubService) *PayStubHandler {
	return &PayStubHandler{stubs: stubs}
}

type createPayStubResponse struct {
	PayStub *models.PayStub  `json:"pay_stub"`
	Access  *services.Access `json:"access"`
}

type accessDenied struct {
	Error  string           `json:"error"`
	Access *services.Access `json:"access"`
}

// Create answers 403 with the entitlement when the free tier is used up.
func (h *PayStubHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in services.PayStubInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	stub, access, err := h.stubs.Create(r.Context(), userID, in)
	if err != nil {
		if access != nil && !access.Allowed {
			writeJSON(w, http.StatusForbidden, accessDenied{Error: access.Reason, Access: access})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createPayStubResponse{PayStub: stub, Access: access})
}

func (h *PayStubHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in services.PayStubInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	stub, err := h.stubs.Update(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stub)
}

func (h *PayStubHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	year, err := yearParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stubs, err := h.stubs.List(r.Context(), userID, r.URL.Query().Get("employee"), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pay_stubs": stubs})
}

type ytdResponse struct {
	EmployeeName  string          `json:"employee_name"`
	Year          int             `json:"year"`
	YTDGross      decimal.Decimal `json:"ytd_gross"`
	YTDDeductions decimal.Decimal `json:"ytd_deductions"`
	YTDNet        decimal.Decimal `json:"ytd_net"`
}

// YTD reports finalized totals for ?employee= in ?year=.
func (h *PayStubHandler) YTD(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	employee := r.URL.Query().Get("employee")
	year, err := yearParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if employee == "" || year == 0 {
		writeError(w, r, core.InvalidState("employee and year are required"))
		return
	}
	t, err := h.stubs.YTD(r.Context(), userID, employee, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ytdResponse{
		EmployeeName:  employee,
		Year:          year,
		YTDGross:      t.Gross,
		YTDDeductions: t.Deductions,
		YTDNet:        t.Net,
	})
}

func (h *PayStubHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	stub, err := h.stubs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stub)
}

func (h *PayStubHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.stubs.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GeneratePDF renders and finalizes the stub.
func (h *PayStubHandler) GeneratePDF(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	stub, err := h.stubs.GeneratePDF(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := h.stubs.PDFURL(r.Context(), userID, stub.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pay_stub": stub, "pdf_url": url})
}

func (h *PayStubHandler) PDFURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	url, err := h.stubs.PDFURL(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pdf_url": url})
}

func yearParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return 0, nil
	}
	year, err := strconv.Atoi(v)
	if err != nil || year < 1 {
		return 0, core.InvalidState("year must be a number")
	}
	return year, nil
}
