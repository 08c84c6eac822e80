package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/services"
)

// Stripe payloads are small; anything bigger is not an event.
const maxWebhookBytes = 1 << 16

type BillingHandler struct {
	billing *services.BillingService
}

func NewBillingHandler(billing *services.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, err := h.billing.Subscription(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *BillingHandler) Access(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	tool := chi.URLParam(r, "tool")
	if tool != services.ToolReceipts && tool != services.ToolPayStubs {
		writeError(w, r, core.NotFound("tool"))
		return
	}
	access, err := h.billing.CanAccessTool(r.Context(), userID, tool)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

type checkoutRequest struct {
	PriceID string `json:"price_id"`
}

func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	url, err := h.billing.Checkout(r.Context(), userID, req.PriceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook needs the raw body for signature verification.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, r, core.InvalidState("unreadable body"))
		return
	}
	if err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
