package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTMiddleware(t *testing.T) {
	var seen string
	h := JWTMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := CurrentUserID(r.Context())
		if err != nil {
			t.Errorf("CurrentUserID: %v", err)
		}
		seen = id
	}))
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + sign(t, "secret", jwt.MapClaims{"user_id": "u1", "exp": exp}), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + sign(t, "other", jwt.MapClaims{"user_id": "u1", "exp": exp}), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, "secret", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no user claim", "Bearer " + sign(t, "secret", jwt.MapClaims{"exp": exp}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && seen != "u1" {
				t.Fatalf("user = %q", seen)
			}
		})
	}
}

func TestCurrentUserIDMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := CurrentUserID(req.Context()); err == nil {
		t.Fatal("expected error without middleware")
	}
}
