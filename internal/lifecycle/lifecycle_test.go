package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

func doc(status models.DocumentStatus, archived, trashed, exported bool) *models.Document {
	now := time.Now()
	d := &models.Document{Status: status}
	if archived {
		d.ArchivedAt = &now
	}
	if trashed {
		d.TrashedAt = &now
	}
	if exported {
		d.ExportedAt = &now
	}
	return d
}

func TestViewsPartitionDocuments(t *testing.T) {
	for _, archived := range []bool{false, true} {
		for _, trashed := range []bool{false, true} {
			for _, exported := range []bool{false, true} {
				d := doc(models.StatusCompleted, archived, trashed, exported)

				hits := 0
				for _, v := range []View{ViewToExport, ViewArchived, ViewTrash} {
					if v.Matches(d) {
						hits++
					}
				}
				if hits != 1 {
					t.Fatalf("archived=%v trashed=%v exported=%v matched %d views", archived, trashed, exported, hits)
				}
				if trashed && !ViewTrash.Matches(d) {
					t.Fatalf("trashed doc missing from trash view")
				}
				if !ViewAll.Matches(d) {
					t.Fatalf("ViewAll must match everything")
				}
			}
		}
	}
}

func TestVisibilityOf(t *testing.T) {
	tests := []struct {
		d    *models.Document
		want Visibility
	}{
		{doc(models.StatusCompleted, false, false, false), Active},
		{doc(models.StatusCompleted, true, false, true), Archived},
		{doc(models.StatusCompleted, true, true, true), Trashed},
		{doc(models.StatusPending, false, true, false), Trashed},
	}
	for _, tt := range tests {
		if got := VisibilityOf(tt.d); got != tt.want {
			t.Errorf("VisibilityOf() = %s, want %s", got, tt.want)
		}
	}
}

func TestIsExportCandidate(t *testing.T) {
	tests := []struct {
		name string
		d    *models.Document
		want bool
	}{
		{"completed active", doc(models.StatusCompleted, false, false, false), true},
		{"pending", doc(models.StatusPending, false, false, false), false},
		{"error", doc(models.StatusError, false, false, false), false},
		{"already exported", doc(models.StatusCompleted, false, false, true), false},
		{"archived", doc(models.StatusCompleted, true, false, false), false},
		{"trashed", doc(models.StatusCompleted, false, true, false), false},
	}
	for _, tt := range tests {
		if got := IsExportCandidate(tt.d); got != tt.want {
			t.Errorf("%s: IsExportCandidate() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGuards(t *testing.T) {
	tests := []struct {
		name  string
		guard func(*models.Document) error
		d     *models.Document
		ok    bool
	}{
		{"extract pending", CanExtract, doc(models.StatusPending, false, false, false), true},
		{"extract error", CanExtract, doc(models.StatusError, false, false, false), true},
		{"extract completed", CanExtract, doc(models.StatusCompleted, false, false, false), false},
		{"extract trashed", CanExtract, doc(models.StatusPending, false, true, false), false},
		{"retry error", CanRetry, doc(models.StatusError, false, false, false), true},
		{"retry stuck processing", CanRetry, doc(models.StatusProcessing, false, false, false), true},
		{"retry completed", CanRetry, doc(models.StatusCompleted, false, false, false), false},
		{"archive completed", CanArchive, doc(models.StatusCompleted, false, false, false), true},
		{"archive pending", CanArchive, doc(models.StatusPending, false, false, false), false},
		{"archive trashed", CanArchive, doc(models.StatusCompleted, false, true, false), false},
		{"unarchive archived", CanUnarchive, doc(models.StatusCompleted, true, false, true), true},
		{"unarchive trashed", CanUnarchive, doc(models.StatusCompleted, true, true, true), false},
		{"restore trashed", CanRestore, doc(models.StatusCompleted, false, true, false), true},
		{"restore active", CanRestore, doc(models.StatusCompleted, false, false, false), false},
		{"delete trashed", CanHardDelete, doc(models.StatusError, false, true, false), true},
		{"delete archived", CanHardDelete, doc(models.StatusCompleted, true, false, false), false},
		{"edit archived", CanEditFields, doc(models.StatusCompleted, true, false, true), true},
		{"edit error", CanEditFields, doc(models.StatusError, false, false, false), false},
		{"edit trashed", CanEditFields, doc(models.StatusCompleted, false, true, false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.guard(tt.d)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, core.ErrInvalidState) {
				t.Fatalf("want ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestParseView(t *testing.T) {
	for in, want := range map[string]View{
		"":          ViewAll,
		"to_export": ViewToExport,
		"active":    ViewToExport,
		"archived":  ViewArchived,
		"trash":     ViewTrash,
	} {
		got, err := ParseView(in)
		if err != nil || got != want {
			t.Errorf("ParseView(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseView("deleted"); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("ParseView(deleted) err = %v", err)
	}
}
