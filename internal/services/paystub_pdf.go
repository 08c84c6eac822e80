package services

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/markdave123-py/ToolSuite/internal/ledger"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// PayStubRenderer turns a pay stub into a PDF document.
type PayStubRenderer interface {
	Render(p *models.PayStub, watermark bool) ([]byte, error)
}

// GoFPDFRenderer draws a single Letter page with gofpdf.
type GoFPDFRenderer struct{}

const (
	pageMargin = 15.0
	lineHeight = 6.0
)

func (GoFPDFRenderer) Render(p *models.PayStub, watermark bool) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()
	width, _ := pdf.GetPageSize()
	content := width - 2*pageMargin

	// header
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(content/2, 8, p.CompanyName, "", 0, "L", false, 0, "")
	pdf.CellFormat(content/2, 8, "EARNINGS STATEMENT", "", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, line := range []*string{p.CompanyAddress, p.CompanyPhone} {
		if line != nil && *line != "" {
			pdf.CellFormat(content, 5, *line, "", 1, "L", false, 0, "")
		}
	}
	if p.CompanyEIN != nil && *p.CompanyEIN != "" {
		pdf.CellFormat(content, 5, "EIN: "+*p.CompanyEIN, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// employee and period
	half := content / 2
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(half, lineHeight, "Employee", "B", 0, "L", false, 0, "")
	pdf.CellFormat(half, lineHeight, "Pay Period", "B", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	left := []string{p.EmployeeName}
	if p.EmployeeAddress != nil && *p.EmployeeAddress != "" {
		left = append(left, *p.EmployeeAddress)
	}
	if p.EmployeeIDNumber != nil && *p.EmployeeIDNumber != "" {
		left = append(left, "Employee ID: "+*p.EmployeeIDNumber)
	}
	if p.SSNLastFour != nil && *p.SSNLastFour != "" {
		left = append(left, "SSN: XXX-XX-"+*p.SSNLastFour)
	}
	right := []string{
		fmt.Sprintf("%s to %s", p.PayPeriodStart, p.PayPeriodEnd),
		"Pay date: " + p.PayDate,
		"Frequency: " + p.PayFrequency,
		"Method: " + p.PayMethod,
	}
	for i := 0; i < max(len(left), len(right)); i++ {
		pdf.CellFormat(half, 5, lineAt(left, i), "", 0, "L", false, 0, "")
		pdf.CellFormat(half, 5, lineAt(right, i), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// earnings
	cols := []float64{content * 0.4, content * 0.15, content * 0.15, content * 0.3}
	tableHeader(pdf, cols, "Earnings", "Hours", "Rate", "Amount")
	for _, e := range p.Earnings {
		pdf.CellFormat(cols[0], lineHeight, e.Description, "", 0, "L", false, 0, "")
		pdf.CellFormat(cols[1], lineHeight, optional(e.Hours), "", 0, "R", false, 0, "")
		pdf.CellFormat(cols[2], lineHeight, optional(e.Rate), "", 0, "R", false, 0, "")
		pdf.CellFormat(cols[3], lineHeight, money(ledger.Amount(e.Amount)), "", 1, "R", false, 0, "")
	}
	totalRow(pdf, cols, "Gross Pay", p.GrossPay)
	pdf.Ln(3)

	// deductions
	dcols := []float64{content * 0.7, content * 0.3}
	tableHeader(pdf, dcols, "Deductions", "Amount")
	for _, d := range p.Deductions {
		pdf.CellFormat(dcols[0], lineHeight, d.Description, "", 0, "L", false, 0, "")
		pdf.CellFormat(dcols[1], lineHeight, money(ledger.Amount(d.Amount)), "", 1, "R", false, 0, "")
	}
	totalRow(pdf, dcols, "Total Deductions", p.TotalDeductions)
	pdf.Ln(3)

	// summary
	scols := []float64{content * 0.4, content * 0.3, content * 0.3}
	tableHeader(pdf, scols, "Summary", "Current", "Year to Date")
	summary := []struct {
		label    string
		cur, ytd decimal.Decimal
	}{
		{"Gross Pay", p.GrossPay, p.YTDGross},
		{"Deductions", p.TotalDeductions, p.YTDDeductions},
		{"Net Pay", p.NetPay, p.YTDNet},
	}
	for _, r := range summary {
		pdf.CellFormat(scols[0], lineHeight, r.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(scols[1], lineHeight, money(r.cur), "", 0, "R", false, 0, "")
		pdf.CellFormat(scols[2], lineHeight, money(r.ytd), "", 1, "R", false, 0, "")
	}

	if watermark {
		drawWatermark(pdf)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pay stub pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func tableHeader(pdf *gofpdf.Fpdf, widths []float64, titles ...string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	for i, t := range titles {
		align := "R"
		if i == 0 {
			align = "L"
		}
		ln := 0
		if i == len(titles)-1 {
			ln = 1
		}
		pdf.CellFormat(widths[i], lineHeight+1, t, "B", ln, align, true, 0, "")
	}
	pdf.SetFont("Helvetica", "", 9)
}

func totalRow(pdf *gofpdf.Fpdf, widths []float64, label string, amount decimal.Decimal) {
	pdf.SetFont("Helvetica", "B", 9)
	var span float64
	for _, w := range widths[:len(widths)-1] {
		span += w
	}
	pdf.CellFormat(span, lineHeight, label, "T", 0, "L", false, 0, "")
	pdf.CellFormat(widths[len(widths)-1], lineHeight, money(amount), "T", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
}

func drawWatermark(pdf *gofpdf.Fpdf) {
	w, h := pdf.GetPageSize()
	pdf.SetFont("Helvetica", "B", 60)
	pdf.SetTextColor(200, 200, 200)
	pdf.SetAlpha(0.4, "Normal")
	pdf.TransformBegin()
	pdf.TransformRotate(45, w/2, h/2)
	pdf.Text(w/2-55, h/2, "SAMPLE")
	pdf.TransformEnd()
	pdf.SetAlpha(1, "Normal")
	pdf.SetTextColor(0, 0, 0)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func optional(n *models.Number) string {
	if n == nil || !n.Valid {
		return ""
	}
	return decimal.NewFromFloat(n.Value).StringFixed(2)
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}
