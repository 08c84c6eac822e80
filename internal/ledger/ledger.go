package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/markdave123-py/ToolSuite/internal/models"
)

// Totals holds the three money figures carried by a pay stub.
type Totals struct {
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal
}

// Add returns t + o.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Gross:      t.Gross.Add(o.Gross),
		Deductions: t.Deductions.Add(o.Deductions),
		Net:        t.Net.Add(o.Net),
	}
}

// Amount converts a submitted amount to a decimal. Missing or non-numeric
// values count as zero.
func Amount(n models.Number) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(n.Raw); err == nil {
		return d
	}
	return decimal.NewFromFloat(n.Value)
}

// ComputeTotals sums the earnings and deductions of one pay stub.
func ComputeTotals(earnings []models.Earning, deductions []models.Deduction) Totals {
	gross := decimal.Zero
	for _, e := range earnings {
		gross = gross.Add(Amount(e.Amount))
	}
	ded := decimal.Zero
	for _, d := range deductions {
		ded = ded.Add(Amount(d.Amount))
	}
	return Totals{
		Gross:      gross.Round(2),
		Deductions: ded.Round(2),
		Net:        gross.Sub(ded).Round(2),
	}
}

// TotalsOf reads the frozen totals of a stored pay stub.
func TotalsOf(p *models.PayStub) Totals {
	return Totals{Gross: p.GrossPay, Deductions: p.TotalDeductions, Net: p.NetPay}
}

// SumFinal adds up the finalized stubs in peers. Drafts are ignored.
func SumFinal(peers []models.PayStub) Totals {
	var sum Totals
	for i := range peers {
		if peers[i].Status != models.PayStubFinal {
			continue
		}
		sum = sum.Add(TotalsOf(&peers[i]))
	}
	return sum
}

// Apply writes own totals and the year-to-date figures (prior + own) onto p.
func Apply(p *models.PayStub, own, prior Totals) {
	ytd := prior.Add(own)
	p.GrossPay = own.Gross
	p.TotalDeductions = own.Deductions
	p.NetPay = own.Net
	p.YTDGross = ytd.Gross
	p.YTDDeductions = ytd.Deductions
	p.YTDNet = ytd.Net
}

// YearOf returns the calendar year of a YYYY-MM-DD pay date. A trailing time
// component is ignored.
func YearOf(payDate string) (int, error) {
	s := strings.TrimSpace(payDate)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, fmt.Errorf("invalid pay date %q", payDate)
	}
	return t.Year(), nil
}

// YearRange returns the inclusive first and last day of year as YYYY-MM-DD.
func YearRange(year int) (string, string) {
	return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year)
}
