package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/config"
	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/lifecycle"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type DatabaseClient struct {
	db *sql.DB
}

// Open connects to Postgres and checks the connection. It does not touch the
// schema; see EnsureBootstrapped.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)
	conn.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return conn, nil
}

// NewDatabaseClient opens the pool and applies the schema if it is missing.
func NewDatabaseClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DatabaseClient, error) {
	conn, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureBootstrapped(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &DatabaseClient{db: conn}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func notFound(err error, kind string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotFound(kind)
	}
	return err
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *DatabaseClient) exec(ctx context.Context, b squirrel.Sqlizer) (int64, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	_, err := c.db.ExecContext(ctx, q, user.ID, user.FirstName, user.Email, user.PasswordHash, user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return core.InvalidState("email already registered")
	}
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// documents

var documentColumns = []string{
	"id", "user_id", "filename", "file_type", "file_size", "storage_path", "status", "error_message",
	"extracted_data", "document_type", "payment_status", "due_date", "balance_due", "confidence_overall", "needs_review",
	"archived_at", "trashed_at", "exported_at", "export_batch_id",
	"conversion_provider", "pages_converted", "converted_at",
	"created_at", "updated_at",
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var (
		d         models.Document
		extracted []byte
	)
	err := r.Scan(
		&d.ID, &d.UserID, &d.FileName, &d.FileType, &d.FileSize, &d.StoragePath, &d.Status, &d.ErrorMsg,
		&extracted, &d.DocumentType, &d.PaymentStatus, &d.DueDate, &d.BalanceDue, &d.ConfidenceOverall, &d.NeedsReview,
		&d.ArchivedAt, &d.TrashedAt, &d.ExportedAt, &d.ExportBatchID,
		&d.ConversionProvider, &d.PagesConverted, &d.ConvertedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(extracted) > 0 {
		var ed models.ExtractedData
		if err := json.Unmarshal(extracted, &ed); err != nil {
			return nil, fmt.Errorf("decode extracted_data for %s: %w", d.ID, err)
		}
		d.ExtractedData = &ed
	}
	return &d, nil
}

func (c *DatabaseClient) queryDocuments(ctx context.Context, b squirrel.SelectBuilder) ([]models.Document, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func encodeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func extractedJSON(ed *models.ExtractedData) (any, error) {
	if ed == nil {
		return nil, nil
	}
	return encodeJSON(ed)
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, user_id, filename, file_type, file_size, storage_path, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.FileType, doc.FileSize, doc.StoragePath, doc.Status, doc.CreatedAt)
	return err
}

func (c *DatabaseClient) GetDocument(ctx context.Context, userID, id string) (*models.Document, error) {
	q, args, err := psql.Select(documentColumns...).
		From("documents").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, notFound(err, "document")
	}
	return d, nil
}

func viewPredicate(v lifecycle.View) squirrel.Sqlizer {
	switch v {
	case lifecycle.ViewToExport:
		return squirrel.Eq{"trashed_at": nil, "archived_at": nil}
	case lifecycle.ViewArchived:
		return squirrel.And{squirrel.Eq{"trashed_at": nil}, squirrel.NotEq{"archived_at": nil}}
	case lifecycle.ViewTrash:
		return squirrel.NotEq{"trashed_at": nil}
	default:
		return squirrel.Expr("TRUE")
	}
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, userID string, view lifecycle.View) ([]models.Document, error) {
	return c.queryDocuments(ctx, psql.Select(documentColumns...).
		From("documents").
		Where(squirrel.Eq{"user_id": userID}).
		Where(viewPredicate(view)).
		OrderBy("created_at DESC"))
}

func (c *DatabaseClient) MarkProcessing(ctx context.Context, userID, id string, from []models.DocumentStatus) (bool, error) {
	n, err := c.exec(ctx, psql.Update("documents").
		Set("status", models.StatusProcessing).
		Set("error_message", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "user_id": userID, "status": statusStrings(from), "trashed_at": nil}))
	return n > 0, err
}

func statusStrings(in []models.DocumentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (c *DatabaseClient) CompleteExtraction(ctx context.Context, userID, id string, res Extraction) error {
	payload, err := extractedJSON(res.Data)
	if err != nil {
		return err
	}

	var docType, payStatus, dueDate *string
	var balance, confidence *float64
	if ed := res.Data; ed != nil {
		docType = textPtr(ed.DocumentType)
		payStatus = textPtr(ed.PaymentStatus)
		dueDate = textPtr(ed.DueDate)
		balance = ed.BalanceDue.Ptr()
		confidence = ed.ConfidenceOverall.Ptr()
	}

	const q = `
		UPDATE documents SET
			status = 'completed',
			error_message = NULL,
			extracted_data = $3,
			document_type = $4,
			payment_status = $5,
			due_date = $6,
			balance_due = $7,
			confidence_overall = $8,
			needs_review = $9,
			conversion_provider = $10,
			pages_converted = $11,
			converted_at = $12,
			updated_at = now()
		WHERE id = $1 AND user_id = $2
	`
	r, err := c.db.ExecContext(ctx, q, id, userID, payload, docType, payStatus, dueDate, balance, confidence,
		res.NeedsReview, res.ConversionProvider, res.PagesConverted, res.ConvertedAt)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return core.NotFound("document")
	}
	return nil
}

func textPtr(t models.Text) *string {
	if t.Empty() {
		return nil
	}
	s := t.String()
	return &s
}

func (c *DatabaseClient) FailExtraction(ctx context.Context, userID, id, msg string) error {
	const q = `
		UPDATE documents
		SET status = 'error', error_message = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`
	r, err := c.db.ExecContext(ctx, q, id, userID, msg)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return core.NotFound("document")
	}
	return nil
}

func (c *DatabaseClient) SaveDocumentFields(ctx context.Context, doc *models.Document) error {
	payload, err := extractedJSON(doc.ExtractedData)
	if err != nil {
		return err
	}
	n, err := c.exec(ctx, psql.Update("documents").
		Set("extracted_data", payload).
		Set("document_type", doc.DocumentType).
		Set("payment_status", doc.PaymentStatus).
		Set("due_date", doc.DueDate).
		Set("balance_due", doc.BalanceDue).
		Set("confidence_overall", doc.ConfidenceOverall).
		Set("needs_review", doc.NeedsReview).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": doc.ID, "user_id": doc.UserID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NotFound("document")
	}
	return nil
}

func (c *DatabaseClient) ArchiveDocument(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	n, err := c.exec(ctx, psql.Update("documents").
		Set("archived_at", squirrel.Expr("COALESCE(archived_at, ?)", at)).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id, "user_id": userID, "status": string(models.StatusCompleted), "trashed_at": nil}))
	return n > 0, err
}

func (c *DatabaseClient) UnarchiveDocument(ctx context.Context, userID, id string) (bool, error) {
	n, err := c.exec(ctx, psql.Update("documents").
		Set("archived_at", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "user_id": userID, "trashed_at": nil}))
	return n > 0, err
}

func (c *DatabaseClient) TrashDocument(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	n, err := c.exec(ctx, psql.Update("documents").
		Set("trashed_at", squirrel.Expr("COALESCE(trashed_at, ?)", at)).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id, "user_id": userID}))
	return n > 0, err
}

func (c *DatabaseClient) RestoreDocument(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	n, err := c.exec(ctx, psql.Update("documents").
		Set("trashed_at", nil).
		Set("archived_at", squirrel.Expr("COALESCE(archived_at, ?)", at)).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		Where(squirrel.NotEq{"trashed_at": nil}))
	return n > 0, err
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, userID, id string) (bool, error) {
	n, err := c.exec(ctx, psql.Delete("documents").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		Where(squirrel.NotEq{"trashed_at": nil}))
	return n > 0, err
}

func (c *DatabaseClient) DeleteTrashedDocuments(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return c.exec(ctx, psql.Delete("documents").
		Where(squirrel.Eq{"user_id": userID, "id": ids}).
		Where(squirrel.NotEq{"trashed_at": nil}))
}

func (c *DatabaseClient) CountDocuments(ctx context.Context, userID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// export batches

func (c *DatabaseClient) ListExportCandidates(ctx context.Context, userID string) ([]models.Document, error) {
	return c.queryDocuments(ctx, psql.Select(documentColumns...).
		From("documents").
		Where(squirrel.Eq{
			"user_id":     userID,
			"status":      string(models.StatusCompleted),
			"archived_at": nil,
			"exported_at": nil,
			"trashed_at":  nil,
		}).
		OrderBy("created_at DESC"))
}

func (c *DatabaseClient) CreateExportBatch(ctx context.Context, batch *models.ExportBatch) error {
	const q = `
		INSERT INTO export_batches (id, user_id, destination, doc_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := c.db.ExecContext(ctx, q, batch.ID, batch.UserID, batch.Destination, batch.DocCount, batch.CreatedAt)
	return err
}

const batchColumns = `id, user_id, destination, doc_count, spreadsheet_id, spreadsheet_url, created_at`

func scanBatch(r rowScanner) (*models.ExportBatch, error) {
	var b models.ExportBatch
	if err := r.Scan(&b.ID, &b.UserID, &b.Destination, &b.DocCount, &b.SpreadsheetID, &b.SpreadsheetURL, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *DatabaseClient) GetExportBatch(ctx context.Context, userID, id string) (*models.ExportBatch, error) {
	q := `SELECT ` + batchColumns + ` FROM export_batches WHERE id = $1 AND user_id = $2`
	b, err := scanBatch(c.db.QueryRowContext(ctx, q, id, userID))
	if err != nil {
		return nil, notFound(err, "export batch")
	}
	return b, nil
}

func (c *DatabaseClient) ListExportBatches(ctx context.Context, userID string) ([]models.ExportBatch, error) {
	q := `SELECT ` + batchColumns + ` FROM export_batches WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteExportBatch(ctx context.Context, userID, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM export_batches WHERE id = $1 AND user_id = $2`, id, userID)
	return err
}

func (c *DatabaseClient) SetBatchSpreadsheet(ctx context.Context, userID, id string, sheet models.ExportBatch) error {
	const q = `
		UPDATE export_batches SET spreadsheet_id = $3, spreadsheet_url = $4
		WHERE id = $1 AND user_id = $2
	`
	_, err := c.db.ExecContext(ctx, q, id, userID, sheet.SpreadsheetID, sheet.SpreadsheetURL)
	return err
}

// StampExported marks the given candidates as exported and archives them in
// one statement. Rows already stamped by a concurrent export are skipped; the
// ids actually stamped are returned.
func (c *DatabaseClient) StampExported(ctx context.Context, userID, batchID string, docIDs []string, at time.Time) ([]string, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	q, args, err := stampQuery(userID, batchID, docIDs, at).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stamped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		stamped = append(stamped, id)
	}
	return stamped, rows.Err()
}

func stampQuery(userID, batchID string, docIDs []string, at time.Time) squirrel.UpdateBuilder {
	return psql.Update("documents").
		Set("exported_at", at).
		Set("export_batch_id", batchID).
		Set("archived_at", squirrel.Expr("COALESCE(archived_at, ?)", at)).
		Set("updated_at", at).
		Where(squirrel.Eq{"user_id": userID, "id": docIDs, "exported_at": nil, "trashed_at": nil}).
		Suffix("RETURNING id")
}

func (c *DatabaseClient) CountBatchDocuments(ctx context.Context, userID, batchID string) (BatchCounts, error) {
	const q = `
		SELECT count(*), count(*) FILTER (WHERE trashed_at IS NOT NULL)
		FROM documents
		WHERE user_id = $1 AND export_batch_id = $2
	`
	var bc BatchCounts
	err := c.db.QueryRowContext(ctx, q, userID, batchID).Scan(&bc.Total, &bc.Trashed)
	return bc, err
}

func (c *DatabaseClient) ReopenBatch(ctx context.Context, userID, batchID string) (int64, error) {
	return c.exec(ctx, psql.Update("documents").
		Set("archived_at", nil).
		Set("exported_at", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"user_id": userID, "export_batch_id": batchID, "trashed_at": nil}).
		Where(squirrel.Or{squirrel.NotEq{"archived_at": nil}, squirrel.NotEq{"exported_at": nil}}))
}

func (c *DatabaseClient) UnarchiveBatch(ctx context.Context, userID, batchID string) (int64, error) {
	return c.exec(ctx, psql.Update("documents").
		Set("archived_at", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"user_id": userID, "export_batch_id": batchID, "trashed_at": nil}).
		Where(squirrel.NotEq{"archived_at": nil}))
}

// pay stubs

var payStubColumns = []string{
	"id", "user_id", "contact_id",
	"company_name", "company_address", "company_phone", "company_ein", "company_logo_url",
	"employee_name", "employee_address", "employee_id_number", "ssn_last_four",
	"pay_method", "pay_period_start::text", "pay_period_end::text", "pay_date::text", "pay_frequency",
	"earnings", "deductions",
	"gross_pay", "total_deductions", "net_pay", "ytd_gross", "ytd_deductions", "ytd_net",
	"status", "pdf_storage_path", "pdf_generated_at", "created_at", "updated_at",
}

func scanPayStub(r rowScanner) (*models.PayStub, error) {
	var (
		p                    models.PayStub
		earnings, deductions []byte
	)
	err := r.Scan(
		&p.ID, &p.UserID, &p.ContactID,
		&p.CompanyName, &p.CompanyAddress, &p.CompanyPhone, &p.CompanyEIN, &p.CompanyLogoURL,
		&p.EmployeeName, &p.EmployeeAddress, &p.EmployeeIDNumber, &p.SSNLastFour,
		&p.PayMethod, &p.PayPeriodStart, &p.PayPeriodEnd, &p.PayDate, &p.PayFrequency,
		&earnings, &deductions,
		&p.GrossPay, &p.TotalDeductions, &p.NetPay, &p.YTDGross, &p.YTDDeductions, &p.YTDNet,
		&p.Status, &p.PDFStoragePath, &p.PDFGeneratedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(earnings) > 0 {
		if err := json.Unmarshal(earnings, &p.Earnings); err != nil {
			return nil, fmt.Errorf("decode earnings for %s: %w", p.ID, err)
		}
	}
	if len(deductions) > 0 {
		if err := json.Unmarshal(deductions, &p.Deductions); err != nil {
			return nil, fmt.Errorf("decode deductions for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func lines(p *models.PayStub) (earnings, deductions any, err error) {
	e := p.Earnings
	if e == nil {
		e = []models.Earning{}
	}
	d := p.Deductions
	if d == nil {
		d = []models.Deduction{}
	}
	if earnings, err = encodeJSON(e); err != nil {
		return nil, nil, err
	}
	if deductions, err = encodeJSON(d); err != nil {
		return nil, nil, err
	}
	return earnings, deductions, nil
}

func (c *DatabaseClient) CreatePayStub(ctx context.Context, p *models.PayStub) error {
	earnings, deductions, err := lines(p)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, psql.Insert("pay_stubs").
		Columns(
			"id", "user_id", "contact_id",
			"company_name", "company_address", "company_phone", "company_ein", "company_logo_url",
			"employee_name", "employee_address", "employee_id_number", "ssn_last_four",
			"pay_method", "pay_period_start", "pay_period_end", "pay_date", "pay_frequency",
			"earnings", "deductions",
			"gross_pay", "total_deductions", "net_pay", "ytd_gross", "ytd_deductions", "ytd_net",
			"status", "created_at", "updated_at",
		).
		Values(
			p.ID, p.UserID, p.ContactID,
			p.CompanyName, p.CompanyAddress, p.CompanyPhone, p.CompanyEIN, p.CompanyLogoURL,
			p.EmployeeName, p.EmployeeAddress, p.EmployeeIDNumber, p.SSNLastFour,
			p.PayMethod, p.PayPeriodStart, p.PayPeriodEnd, p.PayDate, p.PayFrequency,
			earnings, deductions,
			p.GrossPay, p.TotalDeductions, p.NetPay, p.YTDGross, p.YTDDeductions, p.YTDNet,
			p.Status, p.CreatedAt, p.UpdatedAt,
		))
	return err
}

func (c *DatabaseClient) GetPayStub(ctx context.Context, userID, id string) (*models.PayStub, error) {
	q, args, err := psql.Select(payStubColumns...).
		From("pay_stubs").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanPayStub(c.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, notFound(err, "pay stub")
	}
	return p, nil
}

func (c *DatabaseClient) ListPayStubs(ctx context.Context, userID string, f PayStubFilter) ([]models.PayStub, error) {
	b := psql.Select(payStubColumns...).
		From("pay_stubs").
		Where(squirrel.Eq{"user_id": userID})
	if f.EmployeeLike != "" {
		b = b.Where(squirrel.ILike{"employee_name": "%" + f.EmployeeLike + "%"})
	}
	if f.EmployeeExact != "" {
		b = b.Where(squirrel.Eq{"employee_name": f.EmployeeExact})
	}
	if f.Year != 0 {
		start := fmt.Sprintf("%04d-01-01", f.Year)
		end := fmt.Sprintf("%04d-12-31", f.Year)
		b = b.Where(squirrel.GtOrEq{"pay_date": start}).Where(squirrel.LtOrEq{"pay_date": end})
	}
	if f.Status != "" {
		b = b.Where(squirrel.Eq{"status": string(f.Status)})
	}
	if f.ExcludeID != "" {
		b = b.Where(squirrel.NotEq{"id": f.ExcludeID})
	}

	q, args, err := b.OrderBy("pay_date DESC", "created_at DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PayStub
	for rows.Next() {
		p, err := scanPayStub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateDraftPayStub overwrites a draft. A final row is left untouched and
// reported as not updated.
func (c *DatabaseClient) UpdateDraftPayStub(ctx context.Context, p *models.PayStub) (bool, error) {
	earnings, deductions, err := lines(p)
	if err != nil {
		return false, err
	}
	n, err := c.exec(ctx, psql.Update("pay_stubs").
		SetMap(map[string]any{
			"contact_id":         p.ContactID,
			"company_name":       p.CompanyName,
			"company_address":    p.CompanyAddress,
			"company_phone":      p.CompanyPhone,
			"company_ein":        p.CompanyEIN,
			"company_logo_url":   p.CompanyLogoURL,
			"employee_name":      p.EmployeeName,
			"employee_address":   p.EmployeeAddress,
			"employee_id_number": p.EmployeeIDNumber,
			"ssn_last_four":      p.SSNLastFour,
			"pay_method":         p.PayMethod,
			"pay_period_start":   p.PayPeriodStart,
			"pay_period_end":     p.PayPeriodEnd,
			"pay_date":           p.PayDate,
			"pay_frequency":      p.PayFrequency,
			"earnings":           earnings,
			"deductions":         deductions,
			"gross_pay":          p.GrossPay,
			"total_deductions":   p.TotalDeductions,
			"net_pay":            p.NetPay,
			"ytd_gross":          p.YTDGross,
			"ytd_deductions":     p.YTDDeductions,
			"ytd_net":            p.YTDNet,
			"updated_at":         p.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": p.ID, "user_id": p.UserID, "status": string(models.PayStubDraft)}))
	return n > 0, err
}

func (c *DatabaseClient) FinalizePayStub(ctx context.Context, userID, id, pdfPath string, at time.Time) error {
	const q = `
		UPDATE pay_stubs
		SET status = 'final', pdf_storage_path = $3, pdf_generated_at = $4, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`
	r, err := c.db.ExecContext(ctx, q, id, userID, pdfPath, at)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return core.NotFound("pay stub")
	}
	return nil
}

func (c *DatabaseClient) DeletePayStub(ctx context.Context, userID, id string) (bool, error) {
	r, err := c.db.ExecContext(ctx, `DELETE FROM pay_stubs WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := affected(r)
	return n > 0, err
}

func (c *DatabaseClient) CountPayStubs(ctx context.Context, userID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM pay_stubs WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// contacts

func (c *DatabaseClient) FindContact(ctx context.Context, userID, name, kind string) (*models.Contact, error) {
	const q = `
		SELECT id, user_id, name, type, address_line1, created_at
		FROM contacts
		WHERE user_id = $1 AND name = $2 AND type = $3
		ORDER BY created_at
		LIMIT 1
	`
	var ct models.Contact
	err := c.db.QueryRowContext(ctx, q, userID, name, kind).Scan(
		&ct.ID, &ct.UserID, &ct.Name, &ct.Type, &ct.AddressLine1, &ct.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "contact")
	}
	return &ct, nil
}

func (c *DatabaseClient) CreateContact(ctx context.Context, ct *models.Contact) error {
	const q = `
		INSERT INTO contacts (id, user_id, name, type, address_line1, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, q, ct.ID, ct.UserID, ct.Name, ct.Type, ct.AddressLine1, ct.CreatedAt)
	return err
}

// billing

const profileColumns = `id, email, stripe_customer_id, stripe_subscription_id, subscription_status, price_id, current_period_end, updated_at`

func scanProfile(r rowScanner) (*models.Profile, error) {
	var p models.Profile
	err := r.Scan(&p.ID, &p.Email, &p.StripeCustomerID, &p.StripeSubscriptionID, &p.SubscriptionStatus,
		&p.PriceID, &p.CurrentPeriodEnd, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *DatabaseClient) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := scanProfile(c.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "profile")
	}
	return p, nil
}

func (c *DatabaseClient) GetProfileByCustomer(ctx context.Context, customerID string) (*models.Profile, error) {
	p, err := scanProfile(c.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE stripe_customer_id = $1`, customerID))
	if err != nil {
		return nil, notFound(err, "profile")
	}
	return p, nil
}

func (c *DatabaseClient) UpsertProfile(ctx context.Context, p *models.Profile) error {
	const q = `
		INSERT INTO profiles (id, email, stripe_customer_id, stripe_subscription_id, subscription_status, price_id, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			subscription_status = EXCLUDED.subscription_status,
			price_id = EXCLUDED.price_id,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q, p.ID, p.Email, p.StripeCustomerID, p.StripeSubscriptionID,
		p.SubscriptionStatus, p.PriceID, p.CurrentPeriodEnd)
	return err
}

func (c *DatabaseClient) HasToolAccess(ctx context.Context, userID, toolSlug string) (bool, error) {
	var ok bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tool_access WHERE user_id = $1 AND tool_slug = $2 AND is_active)`,
		userID, toolSlug).Scan(&ok)
	return ok, err
}

// google

func (c *DatabaseClient) GetGoogleConnection(ctx context.Context, userID string) (*models.GoogleConnection, error) {
	const q = `
		SELECT user_id, access_token, refresh_token, expires_at, scope, token_type, updated_at
		FROM google_connections WHERE user_id = $1
	`
	var g models.GoogleConnection
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&g.UserID, &g.AccessToken, &g.RefreshToken, &g.ExpiresAt, &g.Scope, &g.TokenType, &g.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "google connection")
	}
	return &g, nil
}

// UpsertGoogleConnection keeps the stored refresh token when the new grant
// does not carry one.
func (c *DatabaseClient) UpsertGoogleConnection(ctx context.Context, g *models.GoogleConnection) error {
	const q = `
		INSERT INTO google_connections (user_id, access_token, refresh_token, expires_at, scope, token_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, google_connections.refresh_token),
			expires_at = EXCLUDED.expires_at,
			scope = COALESCE(EXCLUDED.scope, google_connections.scope),
			token_type = EXCLUDED.token_type,
			updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q, g.UserID, g.AccessToken, g.RefreshToken, g.ExpiresAt, g.Scope, g.TokenType)
	return err
}

var _ DbClient = (*DatabaseClient)(nil)
