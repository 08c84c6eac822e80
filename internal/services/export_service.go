package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/export"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

const (
	documentsSheet = "Documents"
	lineItemsSheet = "Line Items"
)

// ExportFile is one rendered CSV table.
type ExportFile struct {
	FileName string `json:"filename"`
	Content  string `json:"content"`
}

// ExportResult describes a finished export. BatchID is empty when there was
// nothing to export.
type ExportResult struct {
	BatchID        string      `json:"batch_id,omitempty"`
	Destination    string      `json:"destination"`
	ExportedCount  int         `json:"exported_count"`
	Message        string      `json:"message,omitempty"`
	SpreadsheetURL string      `json:"spreadsheet_url,omitempty"`
	Documents      *ExportFile `json:"documents,omitempty"`
	LineItems      *ExportFile `json:"line_items,omitempty"`
}

// ReopenResult reports the outcome of undoing an export.
type ReopenResult struct {
	BatchID             string `json:"batch_id"`
	TotalCount          int    `json:"total_count"`
	ReopenedCount       int64  `json:"reopened_count"`
	SkippedTrashedCount int    `json:"skipped_trashed_count"`
	Message             string `json:"message"`
}

type ExportService struct {
	db     db.DbClient
	sheets core.SpreadsheetProvider // nil when Google is not configured
	logger *zap.Logger
	now    func() time.Time
}

func NewExportService(dbc db.DbClient, sheets core.SpreadsheetProvider, logger *zap.Logger) *ExportService {
	return &ExportService{db: dbc, sheets: sheets, logger: logger, now: time.Now}
}

// Export renders every export candidate to dest, then stamps and archives
// them in one conditional update. Nothing is stamped unless the sink call
// succeeded. Candidates claimed by a concurrent export are dropped from the
// rendered output so the file matches the batch.
func (s *ExportService) Export(ctx context.Context, userID string, dest models.ExportDestination) (*ExportResult, error) {
	var client core.SpreadsheetClient
	switch dest {
	case models.DestinationCSV:
	case models.DestinationSheets:
		if s.sheets == nil {
			return nil, core.InvalidState("google sheets export is not configured")
		}
		c, err := s.sheets.ForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, core.InvalidState("unknown export destination %q", dest)
	}

	docs, err := s.db.ListExportCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nothingToExport(dest), nil
	}

	at := s.now()
	batch := &models.ExportBatch{
		ID:          uuid.NewString(),
		UserID:      userID,
		Destination: dest,
		DocCount:    len(docs),
		CreatedAt:   at,
	}
	if err := s.db.CreateExportBatch(ctx, batch); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("batch_id", batch.ID), zap.String("user_id", userID))

	res := &ExportResult{BatchID: batch.ID, Destination: string(dest)}
	docRows, itemRows := export.Tables(docs)

	var sheet *core.Spreadsheet
	if client != nil {
		sheet, err = s.writeSheet(ctx, client, batch, docRows, itemRows)
		if err != nil {
			s.discard(ctx, batch, log)
			return nil, core.Upstream("export to sheets", err)
		}
		res.SpreadsheetURL = sheet.URL
	} else if err := res.render(docRows, itemRows, at); err != nil {
		s.discard(ctx, batch, log)
		return nil, err
	}

	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	stamped, err := s.db.StampExported(ctx, userID, batch.ID, ids, at)
	if err != nil {
		s.discard(ctx, batch, log)
		return nil, err
	}
	if len(stamped) == 0 {
		log.Warn("every candidate was exported concurrently")
		s.discard(ctx, batch, log)
		return nothingToExport(dest), nil
	}

	if len(stamped) < len(ids) {
		log.Warn("some candidates were exported concurrently", zap.Int("candidates", len(ids)), zap.Int("stamped", len(stamped)))
		kept, keptItems := export.Tables(onlyStamped(docs, stamped))
		if sheet != nil {
			err = client.BatchWriteValues(ctx, sheet.ID, []core.ValueRange{
				{Range: documentsSheet + "!A1", Rows: padRows(kept, len(docRows), len(export.DocumentColumns))},
				{Range: lineItemsSheet + "!A1", Rows: padRows(keptItems, len(itemRows), len(export.LineItemColumns))},
			})
		} else {
			err = res.render(kept, keptItems, at)
		}
		if err != nil {
			log.Error("failed to drop concurrently exported rows", zap.Error(err))
		}
	}

	if sheet != nil {
		ref := models.ExportBatch{SpreadsheetID: &sheet.ID, SpreadsheetURL: &sheet.URL}
		if err := s.db.SetBatchSpreadsheet(ctx, userID, batch.ID, ref); err != nil {
			log.Warn("failed to record spreadsheet on batch", zap.Error(err))
		}
	}

	res.ExportedCount = len(stamped)
	res.Message = fmt.Sprintf("Exported %d document(s).", len(stamped))
	log.Info("export completed", zap.String("destination", string(dest)), zap.Int("exported", len(stamped)))
	return res, nil
}

func nothingToExport(dest models.ExportDestination) *ExportResult {
	return &ExportResult{Destination: string(dest), Message: "Nothing to export"}
}

func (r *ExportResult) render(docRows, itemRows [][]string, at time.Time) error {
	documents, err := renderFile("documents", docRows, at)
	if err != nil {
		return err
	}
	lineItems, err := renderFile("line-items", itemRows, at)
	if err != nil {
		return err
	}
	r.Documents, r.LineItems = documents, lineItems
	return nil
}

func onlyStamped(docs []models.Document, stamped []string) []models.Document {
	keep := make(map[string]bool, len(stamped))
	for _, id := range stamped {
		keep[id] = true
	}
	var out []models.Document
	for _, d := range docs {
		if keep[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// padRows blanks the rows left over from a longer earlier write.
func padRows(rows [][]string, n, width int) [][]string {
	for len(rows) < n {
		rows = append(rows, make([]string, width))
	}
	return rows
}

func (s *ExportService) writeSheet(ctx context.Context, client core.SpreadsheetClient, batch *models.ExportBatch, docRows, itemRows [][]string) (*core.Spreadsheet, error) {
	sheet, err := client.CreateSpreadsheet(ctx, SheetTitle(batch), []string{documentsSheet, lineItemsSheet})
	if err != nil {
		return nil, err
	}
	err = client.BatchWriteValues(ctx, sheet.ID, []core.ValueRange{
		{Range: documentsSheet + "!A1", Rows: docRows},
		{Range: lineItemsSheet + "!A1", Rows: itemRows},
	})
	if err != nil {
		return nil, err
	}
	return sheet, nil
}

// SheetTitle names the spreadsheet created for a batch.
func SheetTitle(batch *models.ExportBatch) string {
	short := batch.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("ReceiptFlow Export %s (Batch %s)", batch.CreatedAt.UTC().Format(time.DateOnly), short)
}

func renderFile(prefix string, rows [][]string, at time.Time) (*ExportFile, error) {
	b, err := export.RenderCSV(rows)
	if err != nil {
		return nil, err
	}
	return &ExportFile{FileName: export.FileName(prefix, at), Content: string(b)}, nil
}

// discard drops a batch no document points at.
func (s *ExportService) discard(ctx context.Context, batch *models.ExportBatch, log *zap.Logger) {
	if err := s.db.DeleteExportBatch(context.WithoutCancel(ctx), batch.UserID, batch.ID); err != nil {
		log.Warn("failed to remove empty export batch", zap.Error(err))
	}
}

func (s *ExportService) ListBatches(ctx context.Context, userID string) ([]models.ExportBatch, error) {
	return s.db.ListExportBatches(ctx, userID)
}

func (s *ExportService) GetBatch(ctx context.Context, userID, id string) (*models.ExportBatch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.NotFound("export batch")
	}
	return s.db.GetExportBatch(ctx, userID, id)
}

// ReopenBatch undoes an export: non-trashed members lose both their archive
// and export stamps. Trashed members are counted, not touched. Running it
// twice is harmless.
func (s *ExportService) ReopenBatch(ctx context.Context, userID, batchID string) (*ReopenResult, error) {
	batch, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := s.db.CountBatchDocuments(ctx, userID, batch.ID)
	if err != nil {
		return nil, err
	}
	n, err := s.db.ReopenBatch(ctx, userID, batch.ID)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Re-opened %d document(s).", n)
	if counts.Trashed > 0 {
		msg += fmt.Sprintf(" %d still in Trash.", counts.Trashed)
	}
	s.logger.Info("batch reopened", zap.String("batch_id", batch.ID), zap.Int64("reopened", n), zap.Int("trashed", counts.Trashed))

	return &ReopenResult{
		BatchID:             batch.ID,
		TotalCount:          counts.Total,
		ReopenedCount:       n,
		SkippedTrashedCount: counts.Trashed,
		Message:             msg,
	}, nil
}

// UnarchiveBatch moves non-trashed members back to the active list but keeps
// their export stamp, so they are not picked up by the next export.
func (s *ExportService) UnarchiveBatch(ctx context.Context, userID, batchID string) (int64, error) {
	batch, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return 0, err
	}
	return s.db.UnarchiveBatch(ctx, userID, batch.ID)
}
