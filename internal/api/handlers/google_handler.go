package handlers

import (
	"net/http"

	"github.com/markdave123-py/ToolSuite/internal/services"
)

const (
	oauthNonceCookie = "google_oauth_nonce"
	oauthCookiePath  = "/api/google"
)

type GoogleHandler struct {
	google *services.GoogleService
	appURL string
}

func NewGoogleHandler(google *services.GoogleService, appURL string) *GoogleHandler {
	return &GoogleHandler{google: google, appURL: appURL}
}

// Start returns the consent URL and sets the nonce cookie the callback checks.
func (h *GoogleHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	url, nonce, err := h.google.Start(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookie,
		Value:    nonce,
		Path:     oauthCookiePath,
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Callback is hit by the browser after consent and always redirects back to
// the settings page.
func (h *GoogleHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var nonce string
	if c, err := r.Cookie(oauthNonceCookie); err == nil {
		nonce = c.Value
	}
	http.SetCookie(w, &http.Cookie{Name: oauthNonceCookie, Path: oauthCookiePath, MaxAge: -1})

	result := "connected"
	if q.Get("error") != "" {
		result = "denied"
	} else if _, err := h.google.Callback(r.Context(), q.Get("state"), nonce, q.Get("code")); err != nil {
		logFailure(r, err)
		result = "error"
	}
	http.Redirect(w, r, h.appURL+"/settings?google="+result, http.StatusFound)
}

func (h *GoogleHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	st, err := h.google.Status(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
