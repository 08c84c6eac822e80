package core

import (
	"context"

	"github.com/markdave123-py/ToolSuite/internal/models"
)

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	PublicURL(bucket, key string) string
}

// VisionExtractor reads receipt/invoice fields out of a single image.
// The result is untrusted; any field may be missing.
type VisionExtractor interface {
	Extract(ctx context.Context, mimeType string, image []byte) (*models.ExtractedData, error)
}

// PDFConverter renders the first page of a PDF as PNG.
type PDFConverter interface {
	FirstPageToPNG(ctx context.Context, filename string, pdf []byte) ([]byte, error)
	Provider() string
}

// Spreadsheet identifies a created spreadsheet.
type Spreadsheet struct {
	ID  string
	URL string
}

// ValueRange is a block of rows written starting at Range (A1 notation).
type ValueRange struct {
	Range string
	Rows  [][]string
}

// SpreadsheetClient talks to a spreadsheet service on behalf of one user.
type SpreadsheetClient interface {
	CreateSpreadsheet(ctx context.Context, title string, sheets []string) (*Spreadsheet, error)
	BatchWriteValues(ctx context.Context, spreadsheetID string, data []ValueRange) error
}

// SpreadsheetProvider hands out a SpreadsheetClient bound to a user's stored
// credentials. It fails with ErrInvalidState when the user never connected.
type SpreadsheetProvider interface {
	ForUser(ctx context.Context, userID string) (SpreadsheetClient, error)
}
