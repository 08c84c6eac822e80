package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// PayStubStatus is either draft or final. Only drafts may change.
type PayStubStatus string

const (
	PayStubDraft PayStubStatus = "draft"
	PayStubFinal PayStubStatus = "final"
)

// Earning is one line of gross pay.
type Earning struct {
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Hours       *Number `json:"hours,omitempty"`
	Rate        *Number `json:"rate,omitempty"`
	Amount      Number  `json:"amount"`
}

// Deduction is one line withheld from gross pay.
type Deduction struct {
	Description string `json:"description"`
	Type        string `json:"type"`
	Amount      Number `json:"amount"`
}

// PayStub is a generated pay statement. Totals and YTD figures are frozen at
// the time the row was last written.
type PayStub struct {
	ID        string  `db:"id" json:"id"`
	UserID    string  `db:"user_id" json:"user_id"`
	ContactID *string `db:"contact_id" json:"contact_id,omitempty"`

	CompanyName    string  `db:"company_name" json:"company_name"`
	CompanyAddress *string `db:"company_address" json:"company_address,omitempty"`
	CompanyPhone   *string `db:"company_phone" json:"company_phone,omitempty"`
	CompanyEIN     *string `db:"company_ein" json:"company_ein,omitempty"`
	CompanyLogoURL *string `db:"company_logo_url" json:"company_logo_url,omitempty"`

	EmployeeName     string  `db:"employee_name" json:"employee_name"`
	EmployeeAddress  *string `db:"employee_address" json:"employee_address,omitempty"`
	EmployeeIDNumber *string `db:"employee_id_number" json:"employee_id_number,omitempty"`
	SSNLastFour      *string `db:"ssn_last_four" json:"ssn_last_four,omitempty"`

	PayMethod      string `db:"pay_method" json:"pay_method"`
	PayPeriodStart string `db:"pay_period_start" json:"pay_period_start"`
	PayPeriodEnd   string `db:"pay_period_end" json:"pay_period_end"`
	PayDate        string `db:"pay_date" json:"pay_date"`
	PayFrequency   string `db:"pay_frequency" json:"pay_frequency"`

	Earnings   []Earning   `db:"earnings" json:"earnings"`
	Deductions []Deduction `db:"deductions" json:"deductions"`

	GrossPay        decimal.Decimal `db:"gross_pay" json:"gross_pay"`
	TotalDeductions decimal.Decimal `db:"total_deductions" json:"total_deductions"`
	NetPay          decimal.Decimal `db:"net_pay" json:"net_pay"`
	YTDGross        decimal.Decimal `db:"ytd_gross" json:"ytd_gross"`
	YTDDeductions   decimal.Decimal `db:"ytd_deductions" json:"ytd_deductions"`
	YTDNet          decimal.Decimal `db:"ytd_net" json:"ytd_net"`

	Status         PayStubStatus `db:"status" json:"status"`
	PDFStoragePath *string       `db:"pdf_storage_path" json:"pdf_storage_path,omitempty"`
	PDFGeneratedAt *time.Time    `db:"pdf_generated_at" json:"pdf_generated_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CanEdit returns true while the pay stub is still a draft.
func (p *PayStub) CanEdit() bool {
	return p.Status == PayStubDraft
}

// IsFinal returns true once a PDF has been generated.
func (p *PayStub) IsFinal() bool {
	return p.Status == PayStubFinal
}
