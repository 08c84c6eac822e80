package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/testutil"
)

func newGoogleHarness(t *testing.T) (*GoogleService, *testutil.MemoryDB, *string) {
	t.Helper()
	var gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotCode = r.PostForm.Get("code")
		if gotCode == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"spreadsheets"}`))
	}))
	t.Cleanup(srv.Close)

	conf := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "shh",
		RedirectURL:  "https://api.test/google/callback",
		Scopes:       []string{"spreadsheets"},
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.test/auth", TokenURL: srv.URL + "/token"},
	}
	mem := testutil.NewMemoryDB()
	return NewGoogleService(conf, mem, "state-secret", zap.NewNop()), mem, &gotCode
}

func TestGoogleConnectFlow(t *testing.T) {
	ctx := context.Background()
	svc, mem, gotCode := newGoogleHarness(t)

	st, err := svc.Status(ctx, "u1")
	if err != nil || st.Connected {
		t.Fatalf("status before connect = %+v, %v", st, err)
	}

	authURL, nonce, err := svc.Start("u1")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Fatalf("auth url = %s", authURL)
	}

	userID, err := svc.Callback(ctx, q.Get("state"), nonce, "code-1")
	if err != nil {
		t.Fatal(err)
	}
	if userID != "u1" || *gotCode != "code-1" {
		t.Fatalf("user = %s, code = %s", userID, *gotCode)
	}
	c := mem.Connections["u1"]
	if c == nil || c.AccessToken != "at-1" || c.RefreshToken == nil || *c.RefreshToken != "rt-1" {
		t.Fatalf("connection = %+v", c)
	}

	st, err = svc.Status(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Connected || st.Scope != "spreadsheets" || st.ExpiresAt == nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestGoogleCallbackRejects(t *testing.T) {
	svc, mem, _ := newGoogleHarness(t)
	authURL, nonce, err := svc.Start("u1")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	forged, _, _ := NewGoogleService(svc.oauth, mem, "other-secret", zap.NewNop()).Start("u1")
	fu, _ := url.Parse(forged)

	tests := []struct {
		name, state, nonce, code string
		want                     error
	}{
		{"nonce mismatch", state, "other", "code-1", core.ErrInvalidState},
		{"missing nonce", state, "", "code-1", core.ErrInvalidState},
		{"garbage state", "not-a-token", nonce, "code-1", core.ErrInvalidState},
		{"foreign signature", fu.Query().Get("state"), nonce, "code-1", core.ErrInvalidState},
		{"missing code", state, nonce, "", core.ErrInvalidState},
		{"exchange fails", state, nonce, "bad", core.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Callback(context.Background(), tt.state, tt.nonce, tt.code)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(mem.Connections) != 0 {
		t.Fatalf("connections stored: %v", mem.Connections)
	}
}

func TestGoogleStartUnconfigured(t *testing.T) {
	svc := NewGoogleService(&oauth2.Config{}, testutil.NewMemoryDB(), "s", zap.NewNop())
	if _, _, err := svc.Start("u1"); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
}
