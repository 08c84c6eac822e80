package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

func TestClientCreateAndWrite(t *testing.T) {
	var (
		created map[string]any
		written map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v4/spreadsheets":
			_ = json.NewDecoder(r.Body).Decode(&created)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"spreadsheetId":"sheet-1","spreadsheetUrl":"https://docs.example/sheet-1"}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1/values:batchUpdate"):
			_ = json.NewDecoder(r.Body).Decode(&written)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := NewClient(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	sheet, err := c.CreateSpreadsheet(ctx, "Export", []string{"Documents", "Line Items"})
	if err != nil {
		t.Fatal(err)
	}
	if sheet.ID != "sheet-1" || sheet.URL != "https://docs.example/sheet-1" {
		t.Fatalf("sheet = %+v", sheet)
	}
	if sheets, _ := created["sheets"].([]any); len(sheets) != 2 {
		t.Fatalf("created body = %v", created)
	}

	err = c.BatchWriteValues(ctx, "sheet-1", []core.ValueRange{
		{Range: "Documents!A1", Rows: [][]string{{"document_id"}, {"d1"}}},
		{Range: "Line Items!A1", Rows: [][]string{{"document_id", "line_index"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if written["valueInputOption"] != "RAW" {
		t.Fatalf("valueInputOption = %v", written["valueInputOption"])
	}
	if data, _ := written["data"].([]any); len(data) != 2 {
		t.Fatalf("written data = %v", written["data"])
	}
}

type memStore struct {
	conns map[string]*models.GoogleConnection
	saved int
}

func (m *memStore) GetGoogleConnection(_ context.Context, userID string) (*models.GoogleConnection, error) {
	c, ok := m.conns[userID]
	if !ok {
		return nil, core.NotFound("google connection")
	}
	return c, nil
}

func (m *memStore) UpsertGoogleConnection(_ context.Context, c *models.GoogleConnection) error {
	m.saved++
	m.conns[c.UserID] = c
	return nil
}

func TestProviderRequiresConnection(t *testing.T) {
	p := NewProvider(OAuthConfig("id", "secret", "http://localhost/cb"), &memStore{conns: map[string]*models.GoogleConnection{}}, zap.NewNop())
	_, err := p.ForUser(context.Background(), "u1")
	if !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
}

type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingSourceSavesRefreshedToken(t *testing.T) {
	store := &memStore{conns: map[string]*models.GoogleConnection{}}
	fresh := &oauth2.Token{AccessToken: "new", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	ps := &persistingSource{base: staticSource{fresh}, store: store, userID: "u1", logger: zap.NewNop(), last: "old"}

	for i := 0; i < 3; i++ {
		if _, err := ps.Token(); err != nil {
			t.Fatal(err)
		}
	}
	if store.saved != 1 {
		t.Fatalf("saved %d times, want 1", store.saved)
	}
	if got := store.conns["u1"]; got.AccessToken != "new" || got.RefreshToken == nil || *got.RefreshToken != "r" {
		t.Fatalf("stored = %+v", got)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := (&oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: exp}).
		WithExtra(map[string]any{"scope": "openid email"})

	c := ConnectionOf("u1", tok)
	if c.Scope == nil || *c.Scope != "openid email" {
		t.Fatalf("scope = %v", c.Scope)
	}
	back := TokenOf(c)
	if back.AccessToken != "a" || back.RefreshToken != "r" || !back.Expiry.Equal(exp) {
		t.Fatalf("token = %+v", back)
	}
}
