package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// Document represents a user-uploaded receipt or invoice.
//
// The classification columns (DocumentType .. NeedsReview) mirror fields inside
// ExtractedData but win over them once set.
type Document struct {
	ID          string         `db:"id" json:"id"`
	UserID      string         `db:"user_id" json:"user_id"`
	FileName    string         `db:"filename" json:"filename"`
	FileType    string         `db:"file_type" json:"file_type"`
	FileSize    int64          `db:"file_size" json:"file_size"`
	StoragePath string         `db:"storage_path" json:"storage_path"`
	Status      DocumentStatus `db:"status" json:"status"`
	ErrorMsg    *string        `db:"error_message" json:"error_message,omitempty"`

	ExtractedData *ExtractedData `db:"extracted_data" json:"extracted_data,omitempty"`

	DocumentType      *string  `db:"document_type" json:"document_type,omitempty"`
	PaymentStatus     *string  `db:"payment_status" json:"payment_status,omitempty"`
	DueDate           *string  `db:"due_date" json:"due_date,omitempty"`
	BalanceDue        *float64 `db:"balance_due" json:"balance_due,omitempty"`
	ConfidenceOverall *float64 `db:"confidence_overall" json:"confidence_overall,omitempty"`
	NeedsReview       *bool    `db:"needs_review" json:"needs_review,omitempty"`

	ArchivedAt    *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	TrashedAt     *time.Time `db:"trashed_at" json:"trashed_at,omitempty"`
	ExportedAt    *time.Time `db:"exported_at" json:"exported_at,omitempty"`
	ExportBatchID *string    `db:"export_batch_id" json:"export_batch_id,omitempty"`

	// PDF inputs only.
	ConversionProvider *string    `db:"conversion_provider" json:"conversion_provider,omitempty"`
	PagesConverted     *int       `db:"pages_converted" json:"pages_converted,omitempty"`
	ConvertedAt        *time.Time `db:"converted_at" json:"converted_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ExportDestination names the sink an export batch was rendered to.
type ExportDestination string

const (
	DestinationCSV    ExportDestination = "csv"
	DestinationSheets ExportDestination = "sheets"
)

// ExportBatch groups documents exported together in one action.
type ExportBatch struct {
	ID             string            `db:"id" json:"id"`
	UserID         string            `db:"user_id" json:"user_id"`
	Destination    ExportDestination `db:"destination" json:"destination"`
	DocCount       int               `db:"doc_count" json:"doc_count"`
	SpreadsheetID  *string           `db:"spreadsheet_id" json:"spreadsheet_id,omitempty"`
	SpreadsheetURL *string           `db:"spreadsheet_url" json:"spreadsheet_url,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// Contact is an address-book entry; pay stubs link employees through it.
type Contact struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
	Type         string    `db:"type" json:"type"` // "employee"
	AddressLine1 *string   `db:"address_line1" json:"address_line1,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Profile carries the billing state mirrored from the payment provider.
type Profile struct {
	ID                   string     `db:"id" json:"id"` // same as users.id
	Email                string     `db:"email" json:"email"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string     `db:"subscription_status" json:"subscription_status"`
	PriceID              *string    `db:"price_id" json:"price_id,omitempty"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// ToolAccess grants a single-tool subscriber access to one tool.
type ToolAccess struct {
	UserID   string `db:"user_id" json:"user_id"`
	ToolSlug string `db:"tool_slug" json:"tool_slug"`
	IsActive bool   `db:"is_active" json:"is_active"`
}

// GoogleConnection stores the OAuth tokens used for spreadsheet exports.
type GoogleConnection struct {
	UserID       string     `db:"user_id" json:"user_id"`
	AccessToken  string     `db:"access_token" json:"-"`
	RefreshToken *string    `db:"refresh_token" json:"-"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Scope        *string    `db:"scope" json:"scope,omitempty"`
	TokenType    string     `db:"token_type" json:"token_type"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
