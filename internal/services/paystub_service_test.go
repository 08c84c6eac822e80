package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
	"github.com/markdave123-py/ToolSuite/internal/testutil"
)

type fakeRenderer struct {
	RenderFunc  func(p *models.PayStub, watermark bool) ([]byte, error)
	watermarked []bool
}

func (f *fakeRenderer) Render(p *models.PayStub, watermark bool) ([]byte, error) {
	f.watermarked = append(f.watermarked, watermark)
	if f.RenderFunc != nil {
		return f.RenderFunc(p, watermark)
	}
	return []byte("%PDF-fake"), nil
}

type stubHarness struct {
	svc      *PayStubService
	mem      *testutil.MemoryDB
	store    *testutil.ObjectStore
	renderer *fakeRenderer
	clock    time.Time
}

func newStubHarness(subscribed bool) *stubHarness {
	h := &stubHarness{
		mem:      testutil.NewMemoryDB(),
		store:    testutil.NewObjectStore(),
		renderer: &fakeRenderer{},
		clock:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if subscribed {
		h.mem.Profiles["u1"] = &models.Profile{ID: "u1", SubscriptionStatus: SubscriptionActive, PriceID: strp("price_bundle")}
	}
	billing := newBilling(h.mem, nil)
	h.svc = NewPayStubService(h.mem, h.store, billing, h.renderer, "bucket", zap.NewNop())
	h.svc.now = func() time.Time {
		h.clock = h.clock.Add(time.Second)
		return h.clock
	}
	return h
}

func amounts(vals ...float64) []models.Earning {
	out := make([]models.Earning, len(vals))
	for i, v := range vals {
		out[i] = models.Earning{Description: "Regular", Type: "regular", Amount: models.NumberOf(v)}
	}
	return out
}

func input(employee, payDate string, earnings []models.Earning, deductions ...float64) PayStubInput {
	in := PayStubInput{
		CompanyName:    "Acme",
		EmployeeName:   employee,
		PayPeriodStart: payDate,
		PayPeriodEnd:   payDate,
		PayDate:        payDate,
		PayFrequency:   "biweekly",
		Earnings:       earnings,
	}
	for _, d := range deductions {
		in.Deductions = append(in.Deductions, models.Deduction{Description: "Tax", Type: "federal", Amount: models.NumberOf(d)})
	}
	return in
}

func mustDecimal(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestCreateComputesTotals(t *testing.T) {
	h := newStubHarness(true)
	p, _, err := h.svc.Create(context.Background(), "u1", input("Jane Doe", "2024-01-15", amounts(100, 50), 20))
	if err != nil {
		t.Fatal(err)
	}
	mustDecimal(t, p.GrossPay, "150")
	mustDecimal(t, p.TotalDeductions, "20")
	mustDecimal(t, p.NetPay, "130")
	mustDecimal(t, p.YTDNet, "130")
	if p.Status != models.PayStubDraft {
		t.Fatalf("status = %s", p.Status)
	}
}

func TestCreateAccumulatesYTDFromFinalPeers(t *testing.T) {
	h := newStubHarness(true)
	ctx := context.Background()

	first := input("Jane Doe", "2024-01-15", amounts(150), 20)
	first.Status = models.PayStubFinal
	second := input("Jane Doe", "2024-02-15", amounts(160), 20)
	second.Status = models.PayStubFinal
	for _, in := range []PayStubInput{first, second} {
		if _, _, err := h.svc.Create(ctx, "u1", in); err != nil {
			t.Fatal(err)
		}
	}
	// none of these count toward Jane's 2024 totals
	noise := []PayStubInput{
		input("Jane Doe", "2024-03-01", amounts(999)),   // draft
		input("jane doe", "2024-03-01", amounts(999)),   // different name
		input("Jane Doe", "2023-12-31", amounts(999)),   // previous year
		input("John Smith", "2024-03-01", amounts(999)), // different employee
	}
	for i := range noise {
		if i > 0 {
			noise[i].Status = models.PayStubFinal
		}
		if _, _, err := h.svc.Create(ctx, "u1", noise[i]); err != nil {
			t.Fatal(err)
		}
	}

	p, _, err := h.svc.Create(ctx, "u1", input("Jane Doe", "2024-04-15", amounts(120), 20))
	if err != nil {
		t.Fatal(err)
	}
	mustDecimal(t, p.YTDNet, "370")
	mustDecimal(t, p.YTDGross, "430")
	mustDecimal(t, p.YTDDeductions, "60")

	ytd, err := h.svc.YTD(ctx, "u1", "Jane Doe", 2024)
	if err != nil {
		t.Fatal(err)
	}
	mustDecimal(t, ytd.Net, "270")

	if len(h.mem.Contacts) != 3 {
		t.Fatalf("contacts = %d, want one per distinct name", len(h.mem.Contacts))
	}
}

func TestCreateRequiresFields(t *testing.T) {
	h := newStubHarness(true)
	in := input("", "2024-01-15", nil)

	_, _, err := h.svc.Create(context.Background(), "u1", in)
	if !errors.Is(err, core.ErrInvalidState) || !strings.Contains(err.Error(), "employee_name") {
		t.Fatalf("err = %v", err)
	}
	in.EmployeeName = "Jane"
	if _, _, err := h.svc.Create(context.Background(), "u1", in); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("no earnings err = %v", err)
	}
	if len(h.mem.PayStubs) != 0 {
		t.Fatal("invalid input was stored")
	}
}

func TestCreateFreeTier(t *testing.T) {
	h := newStubHarness(false)
	ctx := context.Background()

	_, access, err := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100)))
	if err != nil {
		t.Fatal(err)
	}
	if !access.Free || access.RemainingFree != 1 {
		t.Fatalf("access = %+v", access)
	}
	_, access, err = h.svc.Create(ctx, "u1", input("Jane", "2024-02-15", amounts(100)))
	if !errors.Is(err, core.ErrInvalidState) || access == nil || access.Allowed {
		t.Fatalf("second free stub: access=%+v err=%v", access, err)
	}
}

func TestUpdateDraftRecomputes(t *testing.T) {
	h := newStubHarness(true)
	ctx := context.Background()
	p, _, _ := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100), 10))

	got, err := h.svc.Update(ctx, "u1", p.ID, input("Jane", "2024-01-15", amounts(200), 10))
	if err != nil {
		t.Fatal(err)
	}
	mustDecimal(t, got.NetPay, "190")
	mustDecimal(t, got.YTDNet, "190")
}

func TestUpdateFinalIsRejected(t *testing.T) {
	h := newStubHarness(true)
	ctx := context.Background()
	p, _, _ := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100)))
	p, err := h.svc.GeneratePDF(ctx, "u1", p.ID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.svc.Update(ctx, "u1", p.ID, input("Jane", "2024-01-15", amounts(500)))
	if !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
	after, _ := h.svc.Get(ctx, "u1", p.ID)
	if !after.UpdatedAt.Equal(p.UpdatedAt) || !after.GrossPay.Equal(p.GrossPay) {
		t.Fatal("final stub was mutated")
	}
}

func TestGeneratePDF(t *testing.T) {
	ctx := context.Background()

	t.Run("watermark without subscription", func(t *testing.T) {
		h := newStubHarness(false)
		p, _, _ := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100)))
		if _, err := h.svc.GeneratePDF(ctx, "u1", p.ID); err != nil {
			t.Fatal(err)
		}
		if len(h.renderer.watermarked) != 1 || !h.renderer.watermarked[0] {
			t.Fatalf("watermarked = %v", h.renderer.watermarked)
		}
	})

	t.Run("finalize and replace", func(t *testing.T) {
		h := newStubHarness(true)
		p, _, _ := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100)))

		first, err := h.svc.GeneratePDF(ctx, "u1", p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if first.Status != models.PayStubFinal || first.PDFStoragePath == nil || first.PDFGeneratedAt == nil {
			t.Fatalf("first = %+v", first)
		}
		if h.renderer.watermarked[0] {
			t.Fatal("subscriber got a watermark")
		}

		second, err := h.svc.GeneratePDF(ctx, "u1", p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if *second.PDFStoragePath == *first.PDFStoragePath {
			t.Fatal("pdf key reused")
		}
		if h.store.Has(*first.PDFStoragePath) || !h.store.Has(*second.PDFStoragePath) {
			t.Fatal("old pdf not replaced")
		}

		url, err := h.svc.PDFURL(ctx, "u1", p.ID)
		if err != nil || !strings.HasSuffix(url, *second.PDFStoragePath) {
			t.Fatalf("url = %s, %v", url, err)
		}
	})

	t.Run("upload failure leaves draft", func(t *testing.T) {
		h := newStubHarness(true)
		p, _, _ := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100)))
		h.store.UploadFunc = func(string) error { return errors.New("s3 down") }

		if _, err := h.svc.GeneratePDF(ctx, "u1", p.ID); !errors.Is(err, core.ErrUpstream) {
			t.Fatalf("err = %v", err)
		}
		if got, _ := h.svc.Get(ctx, "u1", p.ID); got.Status != models.PayStubDraft {
			t.Fatal("stub finalized without a pdf")
		}
	})
}

func TestPDFURLBeforeGenerate(t *testing.T) {
	h := newStubHarness(true)
	p, _, _ := h.svc.Create(context.Background(), "u1", input("Jane", "2024-01-15", amounts(100)))
	if _, err := h.svc.PDFURL(context.Background(), "u1", p.ID); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteRemovesPDF(t *testing.T) {
	h := newStubHarness(true)
	ctx := context.Background()
	p, _, _ := h.svc.Create(ctx, "u1", input("Jane", "2024-01-15", amounts(100)))
	p, _ = h.svc.GeneratePDF(ctx, "u1", p.ID)

	if err := h.svc.Delete(ctx, "u1", p.ID); err != nil {
		t.Fatal(err)
	}
	if h.store.Has(*p.PDFStoragePath) {
		t.Fatal("pdf left behind")
	}
	if _, err := h.svc.Get(ctx, "u1", p.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListFilters(t *testing.T) {
	h := newStubHarness(true)
	ctx := context.Background()
	for _, in := range []PayStubInput{
		input("Jane Doe", "2024-01-15", amounts(1)),
		input("Jane Doe", "2023-01-15", amounts(1)),
		input("John Smith", "2024-01-15", amounts(1)),
	} {
		if _, _, err := h.svc.Create(ctx, "u1", in); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := h.svc.List(ctx, "u1", "jane", 0)
	if len(got) != 2 || got[0].PayDate != "2024-01-15" {
		t.Fatalf("by employee = %+v", got)
	}
	got, _ = h.svc.List(ctx, "u1", "", 2024)
	if len(got) != 2 {
		t.Fatalf("by year = %d", len(got))
	}
}

func TestGoFPDFRenderer(t *testing.T) {
	p := &models.PayStub{
		CompanyName:  "Acme",
		EmployeeName: "Jane Doe",
		PayDate:      "2024-01-15",
		Earnings:     amounts(100, 50),
		Deductions:   []models.Deduction{{Description: "Tax", Amount: models.NumberOf(20)}},
		GrossPay:     decimal.NewFromInt(150),
		NetPay:       decimal.NewFromInt(130),
	}
	for _, watermark := range []bool{false, true} {
		out, err := GoFPDFRenderer{}.Render(p, watermark)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(out, []byte("%PDF-")) {
			t.Fatalf("not a pdf: %q", out[:min(len(out), 16)])
		}
	}
}
