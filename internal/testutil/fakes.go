// Package testutil holds in-memory stand-ins for every collaborator so
// service and handler tests run without a database or network.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// ObjectStore keeps blobs in a map keyed by bucket/key.
type ObjectStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string

	UploadFunc func(key string) error
	DeleteFunc func(key string) error
	GetFunc    func(key string) error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{Objects: map[string][]byte{}}
}

func (s *ObjectStore) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	if s.UploadFunc != nil {
		if err := s.UploadFunc(key); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = append([]byte(nil), data...)
	return s.PublicURL(bucket, key), nil
}

func (s *ObjectStore) DeleteFile(_ context.Context, _, key string) error {
	if s.DeleteFunc != nil {
		if err := s.DeleteFunc(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	s.Deleted = append(s.Deleted, key)
	return nil
}

func (s *ObjectStore) GetFile(_ context.Context, _, key string) ([]byte, error) {
	if s.GetFunc != nil {
		if err := s.GetFunc(key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return b, nil
}

func (s *ObjectStore) PublicURL(bucket, key string) string {
	return "https://" + bucket + ".storage.test/" + key
}

// Has reports whether key is currently stored.
func (s *ObjectStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Objects[key]
	return ok
}

// Vision returns ExtractFunc's result, or Data when no hook is set.
type Vision struct {
	Data        *models.ExtractedData
	ExtractFunc func(mimeType string, image []byte) (*models.ExtractedData, error)
	Calls       int
	LastMIME    string
}

func (v *Vision) Extract(_ context.Context, mimeType string, image []byte) (*models.ExtractedData, error) {
	v.Calls++
	v.LastMIME = mimeType
	if v.ExtractFunc != nil {
		return v.ExtractFunc(mimeType, image)
	}
	if v.Data == nil {
		return &models.ExtractedData{}, nil
	}
	d := *v.Data
	return &d, nil
}

// Converter pretends to rasterise a PDF.
type Converter struct {
	ConvertFunc func(pdf []byte) ([]byte, error)
	Calls       int
}

func (c *Converter) FirstPageToPNG(_ context.Context, _ string, pdf []byte) ([]byte, error) {
	c.Calls++
	if c.ConvertFunc != nil {
		return c.ConvertFunc(pdf)
	}
	return []byte("PNG"), nil
}

func (c *Converter) Provider() string { return "fake" }

// Sheets records every spreadsheet created and every write made through it.
type Sheets struct {
	Connected map[string]bool

	CreateFunc func(title string) (*core.Spreadsheet, error)
	WriteFunc  func(id string, data []core.ValueRange) error

	Titles []string
	Writes map[string][]core.ValueRange
}

func NewSheets() *Sheets {
	return &Sheets{Connected: map[string]bool{}, Writes: map[string][]core.ValueRange{}}
}

func (s *Sheets) ForUser(_ context.Context, userID string) (core.SpreadsheetClient, error) {
	if !s.Connected[userID] {
		return nil, core.InvalidState("google not connected")
	}
	return sheetClient{s}, nil
}

type sheetClient struct{ s *Sheets }

func (c sheetClient) CreateSpreadsheet(_ context.Context, title string, _ []string) (*core.Spreadsheet, error) {
	c.s.Titles = append(c.s.Titles, title)
	if c.s.CreateFunc != nil {
		return c.s.CreateFunc(title)
	}
	id := fmt.Sprintf("sheet-%d", len(c.s.Titles))
	return &core.Spreadsheet{ID: id, URL: "https://docs.test/" + id}, nil
}

func (c sheetClient) BatchWriteValues(_ context.Context, id string, data []core.ValueRange) error {
	if c.s.WriteFunc != nil {
		if err := c.s.WriteFunc(id, data); err != nil {
			return err
		}
	}
	c.s.Writes[id] = append(c.s.Writes[id], data...)
	return nil
}

var (
	_ core.ObjectClient        = (*ObjectStore)(nil)
	_ core.VisionExtractor     = (*Vision)(nil)
	_ core.PDFConverter        = (*Converter)(nil)
	_ core.SpreadsheetProvider = (*Sheets)(nil)
)
