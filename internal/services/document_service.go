package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/lifecycle"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// AllowedUploadTypes lists the MIME types accepted on upload.
var AllowedUploadTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// blob removals running at once while emptying the trash
const removeConcurrency = 4

type DocumentService struct {
	db        db.DbClient
	storage   core.ObjectClient
	vision    core.VisionExtractor
	converter core.PDFConverter // nil disables PDF input
	bucket    string
	maxBytes  int64
	logger    *zap.Logger
	now       func() time.Time
}

func NewDocumentService(
	dbc db.DbClient,
	storage core.ObjectClient,
	vision core.VisionExtractor,
	converter core.PDFConverter,
	bucket string,
	maxBytes int64,
	logger *zap.Logger,
) *DocumentService {
	return &DocumentService{
		db:        dbc,
		storage:   storage,
		vision:    vision,
		converter: converter,
		bucket:    bucket,
		maxBytes:  maxBytes,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload stores the file and then creates a pending row pointing at it. A
// failed upload leaves no row behind.
func (s *DocumentService) Upload(ctx context.Context, userID, filename, contentType string, data []byte) (*models.Document, error) {
	contentType = normalizeMIME(contentType)
	if !AllowedUploadTypes[contentType] {
		return nil, core.InvalidState("unsupported file type %q", contentType)
	}
	if len(data) == 0 {
		return nil, core.InvalidState("file is empty")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, core.InvalidState("file exceeds %d bytes", s.maxBytes)
	}

	docID := uuid.NewString()
	key := s.objectKey(userID, docID, filename)

	if _, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType); err != nil {
		return nil, core.Upstream("upload document", err)
	}

	now := s.now()
	doc := &models.Document{
		ID:          docID,
		UserID:      userID,
		FileName:    filename,
		FileType:    contentType,
		FileSize:    int64(len(data)),
		StoragePath: key,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("document uploaded",
		zap.String("document_id", docID),
		zap.String("user_id", userID),
		zap.String("file_type", contentType),
		zap.Int("bytes", len(data)))
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, userID, id string) (*models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.NotFound("document")
	}
	return s.db.GetDocument(ctx, userID, id)
}

func (s *DocumentService) List(ctx context.Context, userID string, view lifecycle.View) ([]models.Document, error) {
	return s.db.ListDocuments(ctx, userID, view)
}

// PublicURL returns the storage URL of the uploaded file.
func (s *DocumentService) PublicURL(doc *models.Document) string {
	return s.storage.PublicURL(s.bucket, doc.StoragePath)
}

// Extract runs the first extraction of a pending document, or a second one
// after an error.
func (s *DocumentService) Extract(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanExtract(doc); err != nil {
		return nil, err
	}
	return s.run(ctx, doc, models.StatusPending, models.StatusError)
}

// Retry re-runs extraction for a failed document, or one left in processing
// by an abandoned request.
func (s *DocumentService) Retry(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanRetry(doc); err != nil {
		return nil, err
	}
	return s.run(ctx, doc, models.StatusError, models.StatusProcessing)
}

func (s *DocumentService) run(ctx context.Context, doc *models.Document, from ...models.DocumentStatus) (*models.Document, error) {
	claimed, err := s.db.MarkProcessing(ctx, doc.UserID, doc.ID, from)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, core.InvalidState("document is already being processed")
	}

	log := s.logger.With(zap.String("document_id", doc.ID), zap.String("user_id", doc.UserID))
	start := s.now()

	if err := s.attempt(ctx, doc); err != nil {
		// The request may be gone; the error status must still land.
		if ferr := s.db.FailExtraction(context.WithoutCancel(ctx), doc.UserID, doc.ID, err.Error()); ferr != nil {
			log.Error("failed to record extraction error", zap.Error(ferr))
		}
		log.Warn("extraction failed", zap.Error(err))
		return nil, core.Upstream("extract document", err)
	}

	log.Info("extraction completed", zap.Duration("took", s.now().Sub(start)))
	return s.db.GetDocument(ctx, doc.UserID, doc.ID)
}

// attempt does everything between processing and completed. Any error or
// panic comes back as an error so the caller can mark the row.
func (s *DocumentService) attempt(ctx context.Context, doc *models.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	data, err := s.storage.GetFile(ctx, s.bucket, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}

	var res db.Extraction
	mimeType := doc.FileType
	if mimeType == "application/pdf" {
		if s.converter == nil {
			return errors.New("pdf conversion is not configured")
		}
		png, err := s.converter.FirstPageToPNG(ctx, doc.FileName, data)
		if err != nil {
			return fmt.Errorf("convert pdf: %w", err)
		}
		data, mimeType = png, "image/png"

		provider, pages, at := s.converter.Provider(), 1, s.now()
		res.ConversionProvider = &provider
		res.PagesConverted = &pages
		res.ConvertedAt = &at
	}

	ed, err := s.vision.Extract(ctx, mimeType, data)
	if err != nil {
		return fmt.Errorf("vision extraction: %w", err)
	}
	if ed == nil {
		ed = &models.ExtractedData{}
	}
	res.Data = ed
	res.NeedsReview = lifecycle.NeedsReview(lifecycle.ReviewInputFor(&models.Document{ExtractedData: ed}))

	if err := s.db.CompleteExtraction(ctx, doc.UserID, doc.ID, res); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return nil
}

// FieldPatch is a manual correction. Nil fields are left alone; an empty
// value clears a classification column along with the extracted value
// behind it.
type FieldPatch struct {
	DocumentType      *string        `json:"document_type"`
	PaymentStatus     *string        `json:"payment_status"`
	DueDate           *string        `json:"due_date"`
	BalanceDue        *models.Number `json:"balance_due"`
	ConfidenceOverall *models.Number `json:"confidence_overall"`
	NeedsReview       *bool          `json:"needs_review"`

	Vendor        *models.Text   `json:"vendor"`
	Date          *models.Text   `json:"date"`
	Currency      *models.Text   `json:"currency"`
	Total         *models.Number `json:"total"`
	Subtotal      *models.Number `json:"subtotal"`
	Tax           *models.Number `json:"tax"`
	Tip           *models.Number `json:"tip"`
	PaymentMethod *models.Text   `json:"payment_method"`
	ReceiptNumber *models.Text   `json:"receipt_number"`
}

// UpdateFields applies a patch and, unless the patch pins needs_review,
// re-evaluates it against the edited values.
func (s *DocumentService) UpdateFields(ctx context.Context, userID, id string, p FieldPatch) (*models.Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanEditFields(doc); err != nil {
		return nil, err
	}
	for name, n := range map[string]*models.Number{"balance_due": p.BalanceDue, "confidence_overall": p.ConfidenceOverall} {
		if n != nil && n.Present() && !n.Valid {
			return nil, core.InvalidState(name + " must be a number")
		}
	}

	if doc.ExtractedData == nil {
		doc.ExtractedData = &models.ExtractedData{}
	}
	ed := doc.ExtractedData

	setText(&ed.Vendor, p.Vendor)
	setText(&ed.Date, p.Date)
	setText(&ed.Currency, p.Currency)
	setText(&ed.PaymentMethod, p.PaymentMethod)
	setText(&ed.ReceiptNumber, p.ReceiptNumber)
	setNumber(&ed.Total, p.Total)
	setNumber(&ed.Subtotal, p.Subtotal)
	setNumber(&ed.Tax, p.Tax)
	setNumber(&ed.Tip, p.Tip)

	// Overrides live in the columns. Clearing one also blanks the extracted
	// value, otherwise readers would fall back to it.
	setColumn(&doc.DocumentType, &ed.DocumentType, p.DocumentType)
	setColumn(&doc.PaymentStatus, &ed.PaymentStatus, p.PaymentStatus)
	setColumn(&doc.DueDate, &ed.DueDate, p.DueDate)
	setNumberColumn(&doc.BalanceDue, &ed.BalanceDue, p.BalanceDue)
	setNumberColumn(&doc.ConfidenceOverall, &ed.ConfidenceOverall, p.ConfidenceOverall)

	review := lifecycle.NeedsReview(lifecycle.ReviewInputFor(doc))
	if p.NeedsReview != nil {
		review = *p.NeedsReview
	}
	doc.NeedsReview = &review

	if err := s.db.SaveDocumentFields(ctx, doc); err != nil {
		return nil, err
	}
	return s.db.GetDocument(ctx, userID, id)
}

func setText(dst *models.Text, v *models.Text) {
	if v != nil {
		*dst = *v
	}
}

func setNumber(dst *models.Number, v *models.Number) {
	if v != nil {
		*dst = *v
	}
}

func setColumn(dst **string, extracted *models.Text, v *string) {
	if v == nil {
		return
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		*dst = nil
		*extracted = ""
		return
	}
	*dst = &s
}

func setNumberColumn(dst **float64, extracted *models.Number, v *models.Number) {
	if v == nil {
		return
	}
	if !v.Present() {
		*dst = nil
		*extracted = models.Number{}
		return
	}
	*dst = v.Ptr()
}

func (s *DocumentService) Archive(ctx context.Context, userID, id string) (*models.Document, error) {
	return s.transition(ctx, userID, id, lifecycle.CanArchive, func(doc *models.Document) (bool, error) {
		return s.db.ArchiveDocument(ctx, userID, doc.ID, s.now())
	})
}

func (s *DocumentService) Unarchive(ctx context.Context, userID, id string) (*models.Document, error) {
	return s.transition(ctx, userID, id, lifecycle.CanUnarchive, func(doc *models.Document) (bool, error) {
		return s.db.UnarchiveDocument(ctx, userID, doc.ID)
	})
}

// Trash hides the document from every other view. Archive and export stamps
// are kept so Restore lands in the right place.
func (s *DocumentService) Trash(ctx context.Context, userID, id string) (*models.Document, error) {
	return s.transition(ctx, userID, id, nil, func(doc *models.Document) (bool, error) {
		return s.db.TrashDocument(ctx, userID, doc.ID, s.now())
	})
}

// Restore always returns a trashed document to the archived view.
func (s *DocumentService) Restore(ctx context.Context, userID, id string) (*models.Document, error) {
	return s.transition(ctx, userID, id, lifecycle.CanRestore, func(doc *models.Document) (bool, error) {
		return s.db.RestoreDocument(ctx, userID, doc.ID, s.now())
	})
}

func (s *DocumentService) transition(
	ctx context.Context,
	userID, id string,
	guard func(*models.Document) error,
	apply func(*models.Document) (bool, error),
) (*models.Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(doc); err != nil {
			return nil, err
		}
	}
	ok, err := apply(doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.InvalidState("document changed state, reload and try again")
	}
	return s.db.GetDocument(ctx, userID, id)
}

// HardDelete removes a trashed document for good. The blob goes first and its
// failure only gets logged; the row is deleted either way.
func (s *DocumentService) HardDelete(ctx context.Context, userID, id string) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := lifecycle.CanHardDelete(doc); err != nil {
		return err
	}

	s.removeBlob(ctx, doc)

	ok, err := s.db.DeleteDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return core.InvalidState("document changed state, reload and try again")
	}
	s.logger.Info("document deleted", zap.String("document_id", id), zap.String("user_id", userID))
	return nil
}

// EmptyTrash hard-deletes every trashed document the user owns and returns
// how many rows went away.
func (s *DocumentService) EmptyTrash(ctx context.Context, userID string) (int64, error) {
	trashed, err := s.db.ListDocuments(ctx, userID, lifecycle.ViewTrash)
	if err != nil {
		return 0, err
	}
	if len(trashed) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(removeConcurrency)
	ids := make([]string, len(trashed))
	for i := range trashed {
		doc := &trashed[i]
		ids[i] = doc.ID
		g.Go(func() error {
			s.removeBlob(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	n, err := s.db.DeleteTrashedDocuments(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Info("trash emptied", zap.String("user_id", userID), zap.Int64("deleted", n))
	return n, nil
}

func (s *DocumentService) removeBlob(ctx context.Context, doc *models.Document) {
	if doc.StoragePath == "" {
		return
	}
	if err := s.storage.DeleteFile(ctx, s.bucket, doc.StoragePath); err != nil {
		s.logger.Warn("blob removal failed",
			zap.String("document_id", doc.ID),
			zap.String("key", doc.StoragePath),
			zap.Error(fmt.Errorf("%w: %v", core.ErrPartialFailure, err)))
	}
}

// objectKey creates a consistent S3 key layout.
func (s *DocumentService) objectKey(userID, docID, filename string) string {
	return path.Join("users", userID, "documents", docID, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

func normalizeMIME(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
