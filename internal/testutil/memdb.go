package testutil

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/ledger"
	"github.com/markdave123-py/ToolSuite/internal/lifecycle"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// MemoryDB is an in-memory db.DbClient with the same ownership and
// conditional-update rules as the Postgres client.
type MemoryDB struct {
	mu sync.Mutex

	Users       map[string]*models.User
	Documents   map[string]*models.Document
	Batches     map[string]*models.ExportBatch
	PayStubs    map[string]*models.PayStub
	Contacts    map[string]*models.Contact
	Profiles    map[string]*models.Profile
	ToolAccess  map[string]bool // user_id + "/" + slug
	Connections map[string]*models.GoogleConnection

	// Fail makes the named method return the error.
	Fail map[string]error
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		Users:       map[string]*models.User{},
		Documents:   map[string]*models.Document{},
		Batches:     map[string]*models.ExportBatch{},
		PayStubs:    map[string]*models.PayStub{},
		Contacts:    map[string]*models.Contact{},
		Profiles:    map[string]*models.Profile{},
		ToolAccess:  map[string]bool{},
		Connections: map[string]*models.GoogleConnection{},
		Fail:        map[string]error{},
	}
}

func (m *MemoryDB) failed(op string) error {
	return m.Fail[op]
}

func cloneDoc(d *models.Document) *models.Document {
	c := *d
	if d.ExtractedData != nil {
		ed := *d.ExtractedData
		ed.LineItems = slices.Clone(d.ExtractedData.LineItems)
		c.ExtractedData = &ed
	}
	return &c
}

func clonePayStub(p *models.PayStub) *models.PayStub {
	c := *p
	c.Earnings = slices.Clone(p.Earnings)
	c.Deductions = slices.Clone(p.Deductions)
	return &c
}

func ptr[T any](v T) *T { return &v }

// users

func (m *MemoryDB) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("CreateUser"); err != nil {
		return err
	}
	for _, existing := range m.Users {
		if strings.EqualFold(existing.Email, u.Email) {
			return core.InvalidState("email already registered")
		}
	}
	c := *u
	m.Users[u.ID] = &c
	return nil
}

func (m *MemoryDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, core.NotFound("user")
}

func (m *MemoryDB) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, core.NotFound("user")
	}
	c := *u
	return &c, nil
}

// documents

func (m *MemoryDB) owned(userID, id string) (*models.Document, bool) {
	d, ok := m.Documents[id]
	if !ok || d.UserID != userID {
		return nil, false
	}
	return d, true
}

func (m *MemoryDB) CreateDocument(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("CreateDocument"); err != nil {
		return err
	}
	c := cloneDoc(d)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	m.Documents[d.ID] = c
	return nil
}

func (m *MemoryDB) GetDocument(_ context.Context, userID, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.owned(userID, id)
	if !ok {
		return nil, core.NotFound("document")
	}
	return cloneDoc(d), nil
}

func (m *MemoryDB) sortedDocs(keep func(*models.Document) bool) []models.Document {
	var out []models.Document
	for _, d := range m.Documents {
		if keep(d) {
			out = append(out, *cloneDoc(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryDB) ListDocuments(_ context.Context, userID string, view lifecycle.View) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("ListDocuments"); err != nil {
		return nil, err
	}
	return m.sortedDocs(func(d *models.Document) bool {
		return d.UserID == userID && view.Matches(d)
	}), nil
}

func (m *MemoryDB) MarkProcessing(_ context.Context, userID, id string, from []models.DocumentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("MarkProcessing"); err != nil {
		return false, err
	}
	d, ok := m.owned(userID, id)
	if !ok || d.TrashedAt != nil || !slices.Contains(from, d.Status) {
		return false, nil
	}
	d.Status = models.StatusProcessing
	d.ErrorMsg = nil
	d.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryDB) CompleteExtraction(_ context.Context, userID, id string, res db.Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("CompleteExtraction"); err != nil {
		return err
	}
	d, ok := m.owned(userID, id)
	if !ok {
		return core.NotFound("document")
	}
	d.Status = models.StatusCompleted
	d.ErrorMsg = nil
	if res.Data != nil {
		ed := *res.Data
		d.ExtractedData = &ed
		d.DocumentType = textPtr(ed.DocumentType)
		d.PaymentStatus = textPtr(ed.PaymentStatus)
		d.DueDate = textPtr(ed.DueDate)
		d.BalanceDue = ed.BalanceDue.Ptr()
		d.ConfidenceOverall = ed.ConfidenceOverall.Ptr()
	}
	d.NeedsReview = ptr(res.NeedsReview)
	d.ConversionProvider = res.ConversionProvider
	d.PagesConverted = res.PagesConverted
	d.ConvertedAt = res.ConvertedAt
	d.UpdatedAt = time.Now()
	return nil
}

func textPtr(t models.Text) *string {
	if t.Empty() {
		return nil
	}
	return ptr(t.String())
}

func (m *MemoryDB) FailExtraction(_ context.Context, userID, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("FailExtraction"); err != nil {
		return err
	}
	d, ok := m.owned(userID, id)
	if !ok {
		return core.NotFound("document")
	}
	d.Status = models.StatusError
	d.ErrorMsg = ptr(msg)
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryDB) SaveDocumentFields(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("SaveDocumentFields"); err != nil {
		return err
	}
	d, ok := m.owned(doc.UserID, doc.ID)
	if !ok {
		return core.NotFound("document")
	}
	c := cloneDoc(doc)
	d.ExtractedData = c.ExtractedData
	d.DocumentType = c.DocumentType
	d.PaymentStatus = c.PaymentStatus
	d.DueDate = c.DueDate
	d.BalanceDue = c.BalanceDue
	d.ConfidenceOverall = c.ConfidenceOverall
	d.NeedsReview = c.NeedsReview
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryDB) ArchiveDocument(_ context.Context, userID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.owned(userID, id)
	if !ok || d.TrashedAt != nil || d.Status != models.StatusCompleted {
		return false, nil
	}
	if d.ArchivedAt == nil {
		d.ArchivedAt = ptr(at)
	}
	d.UpdatedAt = at
	return true, nil
}

func (m *MemoryDB) UnarchiveDocument(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.owned(userID, id)
	if !ok || d.TrashedAt != nil {
		return false, nil
	}
	d.ArchivedAt = nil
	d.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryDB) TrashDocument(_ context.Context, userID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.owned(userID, id)
	if !ok {
		return false, nil
	}
	if d.TrashedAt == nil {
		d.TrashedAt = ptr(at)
	}
	d.UpdatedAt = at
	return true, nil
}

func (m *MemoryDB) RestoreDocument(_ context.Context, userID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.owned(userID, id)
	if !ok || d.TrashedAt == nil {
		return false, nil
	}
	d.TrashedAt = nil
	if d.ArchivedAt == nil {
		d.ArchivedAt = ptr(at)
	}
	d.UpdatedAt = at
	return true, nil
}

func (m *MemoryDB) DeleteDocument(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("DeleteDocument"); err != nil {
		return false, err
	}
	d, ok := m.owned(userID, id)
	if !ok || d.TrashedAt == nil {
		return false, nil
	}
	delete(m.Documents, id)
	return true, nil
}

func (m *MemoryDB) DeleteTrashedDocuments(_ context.Context, userID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("DeleteTrashedDocuments"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if d, ok := m.owned(userID, id); ok && d.TrashedAt != nil {
			delete(m.Documents, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) CountDocuments(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.Documents {
		if d.UserID == userID {
			n++
		}
	}
	return n, nil
}

// export batches

func (m *MemoryDB) ListExportCandidates(_ context.Context, userID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("ListExportCandidates"); err != nil {
		return nil, err
	}
	return m.sortedDocs(func(d *models.Document) bool {
		return d.UserID == userID && lifecycle.IsExportCandidate(d)
	}), nil
}

func (m *MemoryDB) CreateExportBatch(_ context.Context, b *models.ExportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("CreateExportBatch"); err != nil {
		return err
	}
	c := *b
	m.Batches[b.ID] = &c
	return nil
}

func (m *MemoryDB) GetExportBatch(_ context.Context, userID, id string) (*models.ExportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Batches[id]
	if !ok || b.UserID != userID {
		return nil, core.NotFound("export batch")
	}
	c := *b
	return &c, nil
}

func (m *MemoryDB) ListExportBatches(_ context.Context, userID string) ([]models.ExportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExportBatch
	for _, b := range m.Batches {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryDB) DeleteExportBatch(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Batches[id]; ok && b.UserID == userID {
		delete(m.Batches, id)
	}
	return nil
}

func (m *MemoryDB) SetBatchSpreadsheet(_ context.Context, userID, id string, sheet models.ExportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("SetBatchSpreadsheet"); err != nil {
		return err
	}
	if b, ok := m.Batches[id]; ok && b.UserID == userID {
		b.SpreadsheetID = sheet.SpreadsheetID
		b.SpreadsheetURL = sheet.SpreadsheetURL
	}
	return nil
}

func (m *MemoryDB) StampExported(_ context.Context, userID, batchID string, ids []string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("StampExported"); err != nil {
		return nil, err
	}
	var stamped []string
	for _, id := range ids {
		d, ok := m.owned(userID, id)
		if !ok || d.ExportedAt != nil || d.TrashedAt != nil {
			continue
		}
		d.ExportedAt = ptr(at)
		d.ExportBatchID = ptr(batchID)
		if d.ArchivedAt == nil {
			d.ArchivedAt = ptr(at)
		}
		d.UpdatedAt = at
		stamped = append(stamped, id)
	}
	return stamped, nil
}

func (m *MemoryDB) batchMembers(userID, batchID string) []*models.Document {
	var out []*models.Document
	for _, d := range m.Documents {
		if d.UserID == userID && d.ExportBatchID != nil && *d.ExportBatchID == batchID {
			out = append(out, d)
		}
	}
	return out
}

func (m *MemoryDB) CountBatchDocuments(_ context.Context, userID, batchID string) (db.BatchCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bc db.BatchCounts
	for _, d := range m.batchMembers(userID, batchID) {
		bc.Total++
		if d.TrashedAt != nil {
			bc.Trashed++
		}
	}
	return bc, nil
}

func (m *MemoryDB) ReopenBatch(_ context.Context, userID, batchID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.batchMembers(userID, batchID) {
		if d.TrashedAt != nil || (d.ArchivedAt == nil && d.ExportedAt == nil) {
			continue
		}
		d.ArchivedAt = nil
		d.ExportedAt = nil
		d.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

func (m *MemoryDB) UnarchiveBatch(_ context.Context, userID, batchID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.batchMembers(userID, batchID) {
		if d.TrashedAt != nil || d.ArchivedAt == nil {
			continue
		}
		d.ArchivedAt = nil
		d.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

// pay stubs

func (m *MemoryDB) CreatePayStub(_ context.Context, p *models.PayStub) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("CreatePayStub"); err != nil {
		return err
	}
	m.PayStubs[p.ID] = clonePayStub(p)
	return nil
}

func (m *MemoryDB) GetPayStub(_ context.Context, userID, id string) (*models.PayStub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.PayStubs[id]
	if !ok || p.UserID != userID {
		return nil, core.NotFound("pay stub")
	}
	return clonePayStub(p), nil
}

func (m *MemoryDB) ListPayStubs(_ context.Context, userID string, f db.PayStubFilter) ([]models.PayStub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("ListPayStubs"); err != nil {
		return nil, err
	}
	var start, end string
	if f.Year != 0 {
		start, end = ledger.YearRange(f.Year)
	}
	var out []models.PayStub
	for _, p := range m.PayStubs {
		switch {
		case p.UserID != userID:
		case f.EmployeeLike != "" && !strings.Contains(strings.ToLower(p.EmployeeName), strings.ToLower(f.EmployeeLike)):
		case f.EmployeeExact != "" && p.EmployeeName != f.EmployeeExact:
		case f.Year != 0 && (p.PayDate < start || p.PayDate > end):
		case f.Status != "" && p.Status != f.Status:
		case f.ExcludeID != "" && p.ID == f.ExcludeID:
		default:
			out = append(out, *clonePayStub(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PayDate == out[j].PayDate {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].PayDate > out[j].PayDate
	})
	return out, nil
}

func (m *MemoryDB) UpdateDraftPayStub(_ context.Context, p *models.PayStub) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("UpdateDraftPayStub"); err != nil {
		return false, err
	}
	cur, ok := m.PayStubs[p.ID]
	if !ok || cur.UserID != p.UserID || cur.Status != models.PayStubDraft {
		return false, nil
	}
	next := clonePayStub(p)
	next.Status = cur.Status
	next.PDFStoragePath = cur.PDFStoragePath
	next.PDFGeneratedAt = cur.PDFGeneratedAt
	next.CreatedAt = cur.CreatedAt
	m.PayStubs[p.ID] = next
	return true, nil
}

func (m *MemoryDB) FinalizePayStub(_ context.Context, userID, id, pdfPath string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("FinalizePayStub"); err != nil {
		return err
	}
	p, ok := m.PayStubs[id]
	if !ok || p.UserID != userID {
		return core.NotFound("pay stub")
	}
	p.Status = models.PayStubFinal
	p.PDFStoragePath = ptr(pdfPath)
	p.PDFGeneratedAt = ptr(at)
	p.UpdatedAt = at
	return nil
}

func (m *MemoryDB) DeletePayStub(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.PayStubs[id]
	if !ok || p.UserID != userID {
		return false, nil
	}
	delete(m.PayStubs, id)
	return true, nil
}

func (m *MemoryDB) CountPayStubs(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.PayStubs {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

// contacts

func (m *MemoryDB) FindContact(_ context.Context, userID, name, kind string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Contacts {
		if c.UserID == userID && c.Name == name && c.Type == kind {
			cc := *c
			return &cc, nil
		}
	}
	return nil, core.NotFound("contact")
}

func (m *MemoryDB) CreateContact(_ context.Context, c *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	m.Contacts[c.ID] = &cc
	return nil
}

// billing

func (m *MemoryDB) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Profiles[userID]
	if !ok {
		return nil, core.NotFound("profile")
	}
	c := *p
	return &c, nil
}

func (m *MemoryDB) GetProfileByCustomer(_ context.Context, customerID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Profiles {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == customerID {
			c := *p
			return &c, nil
		}
	}
	return nil, core.NotFound("profile")
}

func (m *MemoryDB) UpsertProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	c.UpdatedAt = time.Now()
	m.Profiles[p.ID] = &c
	return nil
}

func (m *MemoryDB) HasToolAccess(_ context.Context, userID, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ToolAccess[userID+"/"+slug], nil
}

// google

func (m *MemoryDB) GetGoogleConnection(_ context.Context, userID string) (*models.GoogleConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Connections[userID]
	if !ok {
		return nil, core.NotFound("google connection")
	}
	cc := *c
	return &cc, nil
}

func (m *MemoryDB) UpsertGoogleConnection(_ context.Context, c *models.GoogleConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	if prev, ok := m.Connections[c.UserID]; ok && cc.RefreshToken == nil {
		cc.RefreshToken = prev.RefreshToken
	}
	cc.UpdatedAt = time.Now()
	m.Connections[c.UserID] = &cc
	return nil
}

func (m *MemoryDB) Close() error { return nil }

var _ db.DbClient = (*MemoryDB)(nil)
