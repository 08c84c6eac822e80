package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/ledger"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

const employeeContact = "employee"

// PayStubInput is the editable part of a pay stub.
type PayStubInput struct {
	CompanyName    string `json:"company_name"`
	CompanyAddress string `json:"company_address"`
	CompanyPhone   string `json:"company_phone"`
	CompanyEIN     string `json:"company_ein"`
	CompanyLogoURL string `json:"company_logo_url"`

	EmployeeName     string `json:"employee_name"`
	EmployeeAddress  string `json:"employee_address"`
	EmployeeIDNumber string `json:"employee_id_number"`
	SSNLastFour      string `json:"ssn_last_four"`

	PayMethod      string `json:"pay_method"`
	PayPeriodStart string `json:"pay_period_start"`
	PayPeriodEnd   string `json:"pay_period_end"`
	PayDate        string `json:"pay_date"`
	PayFrequency   string `json:"pay_frequency"`

	Earnings   []models.Earning   `json:"earnings"`
	Deductions []models.Deduction `json:"deductions"`

	// Status may only ask for final on create; anything else means draft.
	Status models.PayStubStatus `json:"status"`
}

func (in *PayStubInput) validate() error {
	required := []struct{ name, value string }{
		{"company_name", in.CompanyName},
		{"employee_name", in.EmployeeName},
		{"pay_period_start", in.PayPeriodStart},
		{"pay_period_end", in.PayPeriodEnd},
		{"pay_date", in.PayDate},
		{"pay_frequency", in.PayFrequency},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return core.InvalidState("missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(in.Earnings) == 0 {
		return core.InvalidState("at least one earning is required")
	}
	for _, d := range []struct{ name, value string }{
		{"pay_period_start", in.PayPeriodStart},
		{"pay_period_end", in.PayPeriodEnd},
		{"pay_date", in.PayDate},
	} {
		if _, err := time.Parse(time.DateOnly, d.value); err != nil {
			return core.InvalidState("%s must be YYYY-MM-DD", d.name)
		}
	}
	if in.PayPeriodEnd < in.PayPeriodStart {
		return core.InvalidState("pay_period_end is before pay_period_start")
	}
	if n := len(in.SSNLastFour); n != 0 && n != 4 {
		return core.InvalidState("ssn_last_four must have 4 digits")
	}
	return nil
}

type PayStubService struct {
	db       db.DbClient
	storage  core.ObjectClient
	billing  *BillingService
	renderer PayStubRenderer
	bucket   string
	logger   *zap.Logger
	now      func() time.Time
}

func NewPayStubService(dbc db.DbClient, storage core.ObjectClient, billing *BillingService, renderer PayStubRenderer, bucket string, logger *zap.Logger) *PayStubService {
	return &PayStubService{
		db:       dbc,
		storage:  storage,
		billing:  billing,
		renderer: renderer,
		bucket:   bucket,
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a new pay stub with its totals and year-to-date figures
// computed from the employee's finalized stubs of the same year.
func (s *PayStubService) Create(ctx context.Context, userID string, in PayStubInput) (*models.PayStub, *Access, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	access, err := s.billing.CanAccessTool(ctx, userID, ToolPayStubs)
	if err != nil {
		return nil, nil, err
	}
	if !access.Allowed {
		return nil, access, core.InvalidState("%s", access.Reason)
	}

	now := s.now()
	p := &models.PayStub{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.PayStubDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Status == models.PayStubFinal {
		p.Status = models.PayStubFinal
	}
	in.applyTo(p)

	if p.ContactID, err = s.resolveContact(ctx, userID, p.EmployeeName); err != nil {
		return nil, nil, err
	}
	if err := s.computeLedger(ctx, p); err != nil {
		return nil, nil, err
	}
	if err := s.db.CreatePayStub(ctx, p); err != nil {
		return nil, nil, err
	}
	s.logger.Info("pay stub created",
		zap.String("pay_stub_id", p.ID),
		zap.String("user_id", userID),
		zap.String("status", string(p.Status)))
	return p, access, nil
}

// Update overwrites a draft and recomputes its figures. Final stubs are
// immutable.
func (s *PayStubService) Update(ctx context.Context, userID, id string, in PayStubInput) (*models.PayStub, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !p.CanEdit() {
		return nil, core.InvalidState("pay stub is final and can no longer be edited")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	in.applyTo(p)
	p.UpdatedAt = s.now()
	if p.ContactID, err = s.resolveContact(ctx, userID, p.EmployeeName); err != nil {
		return nil, err
	}
	if err := s.computeLedger(ctx, p); err != nil {
		return nil, err
	}

	ok, err := s.db.UpdateDraftPayStub(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.InvalidState("pay stub is final and can no longer be edited")
	}
	return s.db.GetPayStub(ctx, userID, id)
}

// computeLedger sets own totals and YTD = finalized peers + own.
func (s *PayStubService) computeLedger(ctx context.Context, p *models.PayStub) error {
	year, err := ledger.YearOf(p.PayDate)
	if err != nil {
		return core.InvalidState("%v", err)
	}
	peers, err := s.db.ListPayStubs(ctx, p.UserID, db.PayStubFilter{
		EmployeeExact: p.EmployeeName,
		Year:          year,
		Status:        models.PayStubFinal,
		ExcludeID:     p.ID,
	})
	if err != nil {
		return err
	}
	ledger.Apply(p, ledger.ComputeTotals(p.Earnings, p.Deductions), ledger.SumFinal(peers))
	return nil
}

// YTD returns the finalized totals of one employee for a calendar year.
func (s *PayStubService) YTD(ctx context.Context, userID, employee string, year int) (ledger.Totals, error) {
	peers, err := s.db.ListPayStubs(ctx, userID, db.PayStubFilter{
		EmployeeExact: employee,
		Year:          year,
		Status:        models.PayStubFinal,
	})
	if err != nil {
		return ledger.Totals{}, err
	}
	return ledger.SumFinal(peers), nil
}

func (s *PayStubService) resolveContact(ctx context.Context, userID, name string) (*string, error) {
	c, err := s.db.FindContact(ctx, userID, name, employeeContact)
	if err == nil {
		return &c.ID, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	c = &models.Contact{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Type:      employeeContact,
		CreatedAt: s.now(),
	}
	if err := s.db.CreateContact(ctx, c); err != nil {
		return nil, err
	}
	return &c.ID, nil
}

func (s *PayStubService) Get(ctx context.Context, userID, id string) (*models.PayStub, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.NotFound("pay stub")
	}
	return s.db.GetPayStub(ctx, userID, id)
}

// List filters by a case-insensitive employee substring and a pay-date year.
// Zero values mean no filter.
func (s *PayStubService) List(ctx context.Context, userID, employee string, year int) ([]models.PayStub, error) {
	return s.db.ListPayStubs(ctx, userID, db.PayStubFilter{EmployeeLike: strings.TrimSpace(employee), Year: year})
}

func (s *PayStubService) Delete(ctx context.Context, userID, id string) error {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	ok, err := s.db.DeletePayStub(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return core.NotFound("pay stub")
	}
	if p.PDFStoragePath != nil {
		s.removePDF(ctx, p.ID, *p.PDFStoragePath)
	}
	return nil
}

// GeneratePDF renders the stub, stores the file and finalizes the row. The
// file is watermarked unless the user has an active subscription. A previous
// PDF is removed once the new one is recorded.
func (s *PayStubService) GeneratePDF(ctx context.Context, userID, id string) (*models.PayStub, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	subscribed, err := s.billing.HasActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := s.renderer.Render(p, !subscribed)
	if err != nil {
		return nil, err
	}

	now := s.now()
	key := fmt.Sprintf("paystubs/%s/%s-%d.pdf", userID, p.ID, now.UnixMilli())
	if _, err := s.storage.UploadFile(ctx, s.bucket, key, data, "application/pdf"); err != nil {
		return nil, core.Upstream("upload pay stub pdf", err)
	}
	if err := s.db.FinalizePayStub(ctx, userID, p.ID, key, now); err != nil {
		return nil, err
	}
	if old := p.PDFStoragePath; old != nil && *old != key {
		s.removePDF(ctx, p.ID, *old)
	}

	s.logger.Info("pay stub finalized",
		zap.String("pay_stub_id", p.ID),
		zap.Bool("watermarked", !subscribed),
		zap.Int("bytes", len(data)))
	return s.db.GetPayStub(ctx, userID, id)
}

// PDFURL returns where the generated PDF can be downloaded.
func (s *PayStubService) PDFURL(ctx context.Context, userID, id string) (string, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if p.PDFStoragePath == nil {
		return "", core.InvalidState("pdf has not been generated")
	}
	return s.storage.PublicURL(s.bucket, *p.PDFStoragePath), nil
}

func (s *PayStubService) removePDF(ctx context.Context, id, key string) {
	if err := s.storage.DeleteFile(ctx, s.bucket, key); err != nil {
		s.logger.Warn("pdf removal failed",
			zap.String("pay_stub_id", id),
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: %v", core.ErrPartialFailure, err)))
	}
}

func (in *PayStubInput) applyTo(p *models.PayStub) {
	p.CompanyName = strings.TrimSpace(in.CompanyName)
	p.CompanyAddress = optionalString(in.CompanyAddress)
	p.CompanyPhone = optionalString(in.CompanyPhone)
	p.CompanyEIN = optionalString(in.CompanyEIN)
	p.CompanyLogoURL = optionalString(in.CompanyLogoURL)

	p.EmployeeName = strings.TrimSpace(in.EmployeeName)
	p.EmployeeAddress = optionalString(in.EmployeeAddress)
	p.EmployeeIDNumber = optionalString(in.EmployeeIDNumber)
	p.SSNLastFour = optionalString(in.SSNLastFour)

	p.PayMethod = in.PayMethod
	if p.PayMethod == "" {
		p.PayMethod = "direct_deposit"
	}
	p.PayPeriodStart = in.PayPeriodStart
	p.PayPeriodEnd = in.PayPeriodEnd
	p.PayDate = in.PayDate
	p.PayFrequency = in.PayFrequency

	p.Earnings = in.Earnings
	p.Deductions = in.Deductions
	if p.Deductions == nil {
		p.Deductions = []models.Deduction{}
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
