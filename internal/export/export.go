package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/markdave123-py/ToolSuite/internal/models"
)

// Column orders are part of the export contract; spreadsheets and CSV files
// downstream depend on them.
var (
	DocumentColumns = []string{
		"document_id",
		"filename",
		"file_type",
		"status",
		"uploaded_at",
		"document_type",
		"payment_status",
		"due_date",
		"balance_due",
		"vendor",
		"purchase_date",
		"currency",
		"total",
		"subtotal",
		"tax",
		"tip",
		"payment_method",
		"receipt_number",
		"needs_review",
		"confidence_overall",
	}

	LineItemColumns = []string{"document_id", "line_index", "description", "quantity", "unit_price", "line_total"}
)

// DocumentRow flattens doc in DocumentColumns order. Classification columns on
// the row win over the extracted payload.
func DocumentRow(doc *models.Document) []string {
	var ed models.ExtractedData
	if doc.ExtractedData != nil {
		ed = *doc.ExtractedData
	}

	return []string{
		doc.ID,
		doc.FileName,
		doc.FileType,
		string(doc.Status),
		doc.CreatedAt.UTC().Format(time.RFC3339),
		pick(doc.DocumentType, ed.DocumentType),
		pick(doc.PaymentStatus, ed.PaymentStatus),
		pick(doc.DueDate, ed.DueDate),
		pickNumber(doc.BalanceDue, ed.BalanceDue),
		ed.Vendor.String(),
		ed.Date.String(),
		ed.Currency.String(),
		number(ed.Total),
		number(ed.Subtotal),
		number(ed.Tax),
		number(ed.Tip),
		ed.PaymentMethod.String(),
		ed.ReceiptNumber.String(),
		boolean(doc.NeedsReview),
		pickNumber(doc.ConfidenceOverall, ed.ConfidenceOverall),
	}
}

// LineItemRows flattens the line items of doc in LineItemColumns order.
// line_index is zero-based.
func LineItemRows(doc *models.Document) [][]string {
	if doc.ExtractedData == nil {
		return nil
	}
	rows := make([][]string, 0, len(doc.ExtractedData.LineItems))
	for i, item := range doc.ExtractedData.LineItems {
		rows = append(rows, []string{
			doc.ID,
			strconv.Itoa(i),
			item.Description.String(),
			number(item.Quantity),
			number(item.Price),
			number(item.Total),
		})
	}
	return rows
}

// Tables builds both tables, header row first.
func Tables(docs []models.Document) (documents, lineItems [][]string) {
	documents = append(documents, DocumentColumns)
	lineItems = append(lineItems, LineItemColumns)
	for i := range docs {
		documents = append(documents, DocumentRow(&docs[i]))
		lineItems = append(lineItems, LineItemRows(&docs[i])...)
	}
	return documents, lineItems
}

// RenderCSV encodes rows with standard CSV quoting and LF line endings.
func RenderCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName returns the dated file name used for a table download.
func FileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s.csv", prefix, at.UTC().Format(time.DateOnly))
}

func pick(column *string, fallback models.Text) string {
	if column != nil {
		return *column
	}
	return fallback.String()
}

func pickNumber(column *float64, fallback models.Number) string {
	if column != nil {
		return strconv.FormatFloat(*column, 'f', -1, 64)
	}
	return number(fallback)
}

// number blanks anything that is not a finite number.
func number(n models.Number) string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

func boolean(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
