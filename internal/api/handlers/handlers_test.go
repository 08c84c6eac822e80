package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	middleware "github.com/markdave123-py/ToolSuite/internal/api/middlewares"
	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/logger"
	"github.com/markdave123-py/ToolSuite/internal/models"
	"github.com/markdave123-py/ToolSuite/internal/services"
	"github.com/markdave123-py/ToolSuite/internal/testutil"
)

const testUserHeader = "X-Test-User"

type testServer struct {
	mem    *testutil.MemoryDB
	store  *testutil.ObjectStore
	router http.Handler
}

// fakeAuth stands in for the JWT middleware.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(testUserHeader); id != "" {
			r = r.WithContext(middleware.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestServer() *testServer {
	ts := &testServer{mem: testutil.NewMemoryDB(), store: testutil.NewObjectStore()}
	log := zap.NewNop()
	vision := &testutil.Vision{Data: &models.ExtractedData{
		Vendor:   "Acme",
		Date:     "2024-01-01",
		Subtotal: models.NumberOf(10),
		Tax:      models.NumberOf(1),
		Total:    models.NumberOf(11),
	}}

	docs := services.NewDocumentService(ts.mem, ts.store, vision, &testutil.Converter{}, "bucket", 1<<20, log)
	exports := services.NewExportService(ts.mem, nil, log)
	billing := services.NewBillingService(ts.mem, nil, "whsec_test", "price_bundle", "https://app.test", log)
	stubs := services.NewPayStubService(ts.mem, ts.store, billing, services.GoFPDFRenderer{}, "bucket", log)

	dh := NewDocumentHandler(docs, 1<<20)
	eh := NewExportHandler(exports)
	ph := NewPayStubHandler(stubs)
	bh := NewBillingHandler(billing)
	ah := NewAuthHandler(services.NewUserService(ts.mem, "secret"))

	r := chi.NewRouter()
	r.Post("/signup", ah.Signup)
	r.Post("/login", ah.Login)
	r.Post("/billing/webhook", bh.Webhook)
	r.Group(func(p chi.Router) {
		p.Use(fakeAuth)
		p.Post("/documents", dh.Upload)
		p.Get("/documents", dh.List)
		p.Get("/documents/{id}", dh.Get)
		p.Post("/documents/{id}/extract", dh.Extract)
		p.Post("/documents/{id}/trash", dh.Trash)
		p.Delete("/documents/{id}", dh.Delete)
		p.Post("/exports", eh.Export)
		p.Post("/paystubs", ph.Create)
		p.Get("/paystubs/ytd", ph.YTD)
		p.Get("/billing/access/{tool}", bh.Access)
	})
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, user, name, mime string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", mime)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("image-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(testUserHeader, user)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrUnauthorized, http.StatusUnauthorized},
		{core.NotFound("document"), http.StatusNotFound},
		{core.InvalidState("nope"), http.StatusBadRequest},
		{core.Upstream("vision", errors.New("boom")), http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret dsn"))
	if strings.Contains(rec.Body.String(), "dsn") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestWriteErrorLogsRequestID(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	defer logger.Replace(zap.New(obs))()

	h := chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.New("db down"))
	}))
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-42" || fields["status"] != int64(http.StatusInternalServerError) {
		t.Fatalf("fields = %v", fields)
	}
}

func TestAuthHandlers(t *testing.T) {
	ts := newTestServer()
	creds := map[string]string{"first_name": "Ada", "email": "ada@example.com", "password": "password123"}

	rec := ts.do(t, http.MethodPost, "/signup", "", creds)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[authResponse](t, rec); got.Token == "" || got.User.Email != "ada@example.com" {
		t.Fatalf("signup response = %+v", got)
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Fatal("password hash serialized")
	}

	if rec := ts.do(t, http.MethodPost, "/signup", "", creds); rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate signup status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/login", "", creds); rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	creds["password"] = "wrong-password"
	if rec := ts.do(t, http.MethodPost, "/login", "", creds); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/login", "", []byte("{")); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestDocumentFlow(t *testing.T) {
	ts := newTestServer()

	if rec := ts.do(t, http.MethodGet, "/documents", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d", rec.Code)
	}
	if rec := ts.upload(t, "u1", "notes.txt", "text/plain"); rec.Code != http.StatusBadRequest {
		t.Fatalf("text upload status = %d", rec.Code)
	}

	rec := ts.upload(t, "u1", "receipt.png", "image/png")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	doc := decode[documentResponse](t, rec)
	if doc.Status != models.StatusPending || !strings.HasPrefix(doc.FileURL, "https://") {
		t.Fatalf("uploaded = %+v", doc)
	}

	rec = ts.do(t, http.MethodPost, "/documents/"+doc.ID+"/extract", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("extract status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[documentResponse](t, rec); got.Status != models.StatusCompleted {
		t.Fatalf("extracted status = %s", got.Status)
	}

	if rec := ts.do(t, http.MethodGet, "/documents/"+doc.ID, "u2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/documents?view=bogus", "u1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad view status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/documents?view=to_export", "u1", nil)
	list := decode[struct {
		Documents []documentResponse `json:"documents"`
	}](t, rec)
	if len(list.Documents) != 1 {
		t.Fatalf("to_export = %d docs", len(list.Documents))
	}

	// hard delete is only for trashed documents
	if rec := ts.do(t, http.MethodDelete, "/documents/"+doc.ID, "u1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete active status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/documents/"+doc.ID+"/trash", "u1", nil); rec.Code != http.StatusOK {
		t.Fatalf("trash status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/documents/"+doc.ID, "u1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.mem.Documents) != 0 {
		t.Fatal("document row survived delete")
	}
}

func TestExportCSV(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/exports", "u1", map[string]string{"destination": "csv"})
	if rec.Code != http.StatusOK {
		t.Fatalf("empty export status = %d", rec.Code)
	}
	if got := decode[services.ExportResult](t, rec); got.BatchID != "" || got.ExportedCount != 0 {
		t.Fatalf("empty export = %+v", got)
	}

	for i := 0; i < 2; i++ {
		doc := decode[documentResponse](t, ts.upload(t, "u1", "r.png", "image/png"))
		ts.do(t, http.MethodPost, "/documents/"+doc.ID+"/extract", "u1", nil)
	}

	rec = ts.do(t, http.MethodPost, "/exports?destination=csv&includeLineItems=0", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="documents-`) {
		t.Fatalf("content disposition = %s", cd)
	}
	if lines := strings.Count(strings.TrimSpace(rec.Body.String()), "\n"); lines != 2 {
		t.Fatalf("csv has %d data rows:\n%s", lines, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/exports", "u1", map[string]string{"destination": "sheets"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfigured sheets status = %d", rec.Code)
	}
}

func TestPayStubHandlers(t *testing.T) {
	ts := newTestServer()
	in := map[string]any{
		"company_name":     "Acme",
		"employee_name":    "Jane Roe",
		"pay_period_start": "2024-01-01",
		"pay_period_end":   "2024-01-15",
		"pay_date":         "2024-01-16",
		"pay_frequency":    "biweekly",
		"status":           "final",
		"earnings":         []map[string]any{{"description": "Salary", "type": "regular", "amount": 1000}},
		"deductions":       []map[string]any{{"description": "Tax", "type": "federal", "amount": 150}},
	}

	rec := ts.do(t, http.MethodPost, "/paystubs", "u1", in)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/paystubs/ytd?employee=Jane+Roe&year=2024", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ytd status = %d", rec.Code)
	}
	ytd := decode[map[string]any](t, rec)
	if ytd["ytd_net"] != float64(850) {
		t.Fatalf("ytd = %v", ytd)
	}
	if rec := ts.do(t, http.MethodGet, "/paystubs/ytd?year=abc&employee=x", "u1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad year status = %d", rec.Code)
	}

	// the free tier allows one stub
	rec = ts.do(t, http.MethodPost, "/paystubs", "u1", in)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("second create status = %d", rec.Code)
	}
	if denied := decode[accessDenied](t, rec); denied.Access == nil || denied.Access.Allowed {
		t.Fatalf("denied = %+v", denied)
	}

	if rec := ts.do(t, http.MethodGet, "/billing/access/nope", "u1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tool status = %d", rec.Code)
	}
}

func TestWebhookRejectsUnsigned(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(t, http.MethodPost, "/billing/webhook", "", []byte(`{"type":"checkout.session.completed"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
