package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ExtractedData is the payload returned by the vision model for one receipt or
// invoice. Every field is optional; the model is not trusted to respect types,
// so strings and numbers are decoded loosely.
type ExtractedData struct {
	Vendor        Text       `json:"vendor"`
	Date          Text       `json:"date"`
	Currency      Text       `json:"currency"`
	Total         Number     `json:"total"`
	Subtotal      Number     `json:"subtotal"`
	Tax           Number     `json:"tax"`
	Tip           Number     `json:"tip"`
	PaymentMethod Text       `json:"payment_method"`
	ReceiptNumber Text       `json:"receipt_number"`
	LineItems     []LineItem `json:"line_items"`

	DocumentType      Text   `json:"document_type"`
	PaymentStatus     Text   `json:"payment_status"`
	DueDate           Text   `json:"due_date"`
	BalanceDue        Number `json:"balance_due"`
	ConfidenceOverall Number `json:"confidence_overall"`
}

// LineItem is one row of an extracted receipt.
type LineItem struct {
	Description Text   `json:"description"`
	Quantity    Number `json:"quantity"`
	Price       Number `json:"price"`
	Total       Number `json:"total"`
}

// Text is a string that also accepts JSON numbers and booleans.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(b)
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// Empty reports whether the value is absent or blank.
func (t Text) Empty() bool { return strings.TrimSpace(string(t)) == "" }

func (t Text) String() string { return string(t) }

// Number is a loosely typed numeric field. Raw keeps the textual form the
// model sent; Valid is set only when Raw parses to a finite number.
type Number struct {
	Raw   string
	Value float64
	Valid bool
}

// NumberOf builds a valid Number.
func NumberOf(f float64) Number {
	return Number{Raw: strconv.FormatFloat(f, 'f', -1, 64), Value: f, Valid: true}
}

// ParseNumber interprets s the way the extraction payload is read.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}
	}
	n := Number{Raw: s}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		n.Value = f
		n.Valid = true
	}
	return n
}

// Present reports whether any value was supplied, numeric or not.
func (n Number) Present() bool { return n.Raw != "" }

// Float returns the numeric value and whether it is usable.
func (n Number) Float() (float64, bool) { return n.Value, n.Valid }

// Ptr returns the value as a pointer, nil when not numeric.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = ParseNumber(s)
		return nil
	}
	*n = ParseNumber(string(b))
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	switch {
	case n.Valid:
		return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
	case n.Present():
		return json.Marshal(n.Raw)
	default:
		return []byte("null"), nil
	}
}
