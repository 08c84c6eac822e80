package lifecycle

import (
	"math"
	"strings"

	"github.com/markdave123-py/ToolSuite/internal/models"
)

// ReconcileTolerance is the absolute slack allowed between subtotal+tax+tip and
// total, in whatever currency unit the receipt uses.
const ReconcileTolerance = 0.05

// ReviewInput is the subset of a document the review rule looks at.
type ReviewInput struct {
	Vendor       string
	Date         string
	DocumentType string
	DueDate      string

	Subtotal   models.Number
	Tax        models.Number
	Tip        models.Number
	Total      models.Number
	BalanceDue models.Number
}

// ReviewInputFor reads the extracted payload of doc, letting the classification
// columns on the row win over the nested values.
func ReviewInputFor(doc *models.Document) ReviewInput {
	var ed models.ExtractedData
	if doc.ExtractedData != nil {
		ed = *doc.ExtractedData
	}

	in := ReviewInput{
		Vendor:       ed.Vendor.String(),
		Date:         ed.Date.String(),
		DocumentType: ed.DocumentType.String(),
		DueDate:      ed.DueDate.String(),
		Subtotal:     ed.Subtotal,
		Tax:          ed.Tax,
		Tip:          ed.Tip,
		Total:        ed.Total,
		BalanceDue:   ed.BalanceDue,
	}
	if doc.DocumentType != nil {
		in.DocumentType = *doc.DocumentType
	}
	if doc.DueDate != nil {
		in.DueDate = *doc.DueDate
	}
	if doc.BalanceDue != nil {
		in.BalanceDue = models.NumberOf(*doc.BalanceDue)
	}
	return in
}

// NeedsReview decides whether an extraction can be trusted without a human
// looking at it. It is pure; the same input always gives the same answer.
func NeedsReview(in ReviewInput) bool {
	tip := in.Tip
	if !tip.Present() {
		tip = models.NumberOf(0)
	}

	hasTotals := in.Total.Valid

	// A sum that cannot be checked is not held against the document.
	reconciles := true
	if in.Subtotal.Valid && in.Tax.Valid && tip.Valid && in.Total.Valid {
		diff := in.Subtotal.Value + in.Tax.Value + tip.Value - in.Total.Value
		reconciles = math.Abs(diff) <= ReconcileTolerance
	}

	invoiceMissingFields := strings.EqualFold(strings.TrimSpace(in.DocumentType), "invoice") &&
		(blank(in.DueDate) || !in.BalanceDue.Present())

	return !reconciles ||
		blank(in.Vendor) ||
		blank(in.Date) ||
		!hasTotals ||
		invoiceMissingFields
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
