package db

import (
	"context"
	"time"

	"github.com/markdave123-py/ToolSuite/internal/lifecycle"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// Extraction is what a finished extraction writes onto a document.
type Extraction struct {
	Data        *models.ExtractedData
	NeedsReview bool

	ConversionProvider *string
	PagesConverted     *int
	ConvertedAt        *time.Time
}

// PayStubFilter narrows ListPayStubs. Zero values mean "any".
type PayStubFilter struct {
	EmployeeLike  string // case-insensitive substring
	EmployeeExact string
	Year          int
	Status        models.PayStubStatus
	ExcludeID     string
}

// BatchCounts describes the membership of an export batch.
type BatchCounts struct {
	Total   int
	Trashed int
}

// DbClient defines all persistence operations the services need.
//
// Every document, batch and pay stub call is scoped by user id. A row owned by
// someone else reads as ErrNotFound. Conditional updates report whether a row
// was touched instead of failing, so callers decide how to classify a miss.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, userID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string, view lifecycle.View) ([]models.Document, error)
	MarkProcessing(ctx context.Context, userID, id string, from []models.DocumentStatus) (bool, error)
	CompleteExtraction(ctx context.Context, userID, id string, res Extraction) error
	FailExtraction(ctx context.Context, userID, id, msg string) error
	SaveDocumentFields(ctx context.Context, doc *models.Document) error
	ArchiveDocument(ctx context.Context, userID, id string, at time.Time) (bool, error)
	UnarchiveDocument(ctx context.Context, userID, id string) (bool, error)
	TrashDocument(ctx context.Context, userID, id string, at time.Time) (bool, error)
	RestoreDocument(ctx context.Context, userID, id string, at time.Time) (bool, error)
	DeleteDocument(ctx context.Context, userID, id string) (bool, error)
	DeleteTrashedDocuments(ctx context.Context, userID string, ids []string) (int64, error)
	CountDocuments(ctx context.Context, userID string) (int, error)

	ListExportCandidates(ctx context.Context, userID string) ([]models.Document, error)
	CreateExportBatch(ctx context.Context, batch *models.ExportBatch) error
	GetExportBatch(ctx context.Context, userID, id string) (*models.ExportBatch, error)
	ListExportBatches(ctx context.Context, userID string) ([]models.ExportBatch, error)
	DeleteExportBatch(ctx context.Context, userID, id string) error
	SetBatchSpreadsheet(ctx context.Context, userID, id string, sheet models.ExportBatch) error
	StampExported(ctx context.Context, userID, batchID string, docIDs []string, at time.Time) ([]string, error)
	CountBatchDocuments(ctx context.Context, userID, batchID string) (BatchCounts, error)
	ReopenBatch(ctx context.Context, userID, batchID string) (int64, error)
	UnarchiveBatch(ctx context.Context, userID, batchID string) (int64, error)

	CreatePayStub(ctx context.Context, p *models.PayStub) error
	GetPayStub(ctx context.Context, userID, id string) (*models.PayStub, error)
	ListPayStubs(ctx context.Context, userID string, f PayStubFilter) ([]models.PayStub, error)
	UpdateDraftPayStub(ctx context.Context, p *models.PayStub) (bool, error)
	FinalizePayStub(ctx context.Context, userID, id, pdfPath string, at time.Time) error
	DeletePayStub(ctx context.Context, userID, id string) (bool, error)
	CountPayStubs(ctx context.Context, userID string) (int, error)

	FindContact(ctx context.Context, userID, name, kind string) (*models.Contact, error)
	CreateContact(ctx context.Context, c *models.Contact) error

	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByCustomer(ctx context.Context, customerID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p *models.Profile) error
	HasToolAccess(ctx context.Context, userID, toolSlug string) (bool, error)

	GetGoogleConnection(ctx context.Context, userID string) (*models.GoogleConnection, error)
	UpsertGoogleConnection(ctx context.Context, c *models.GoogleConnection) error

	Close() error
}
