package lifecycle

import (
	"fmt"

	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// Visibility is where a document shows up. It is derived from the archived_at
// and trashed_at columns; trash wins over archive.
type Visibility int

const (
	Active Visibility = iota
	Archived
	Trashed
)

func (v Visibility) String() string {
	switch v {
	case Active:
		return "active"
	case Archived:
		return "archived"
	case Trashed:
		return "trashed"
	default:
		return fmt.Sprintf("visibility(%d)", int(v))
	}
}

// VisibilityOf reads the visibility of doc from its timestamps.
func VisibilityOf(doc *models.Document) Visibility {
	switch {
	case doc.TrashedAt != nil:
		return Trashed
	case doc.ArchivedAt != nil:
		return Archived
	default:
		return Active
	}
}

// Exported reports whether doc has been stamped by an export batch.
func Exported(doc *models.Document) bool {
	return doc.ExportedAt != nil
}

// View is one of the read-side document lists.
type View string

const (
	ViewAll      View = ""
	ViewToExport View = "to_export"
	ViewArchived View = "archived"
	ViewTrash    View = "trash"
)

// ParseView accepts the query-string spelling of a view. "active" is kept as an
// alias for to_export.
func ParseView(s string) (View, error) {
	switch s {
	case "", "all":
		return ViewAll, nil
	case "to_export", "active":
		return ViewToExport, nil
	case "archived":
		return ViewArchived, nil
	case "trash":
		return ViewTrash, nil
	}
	return ViewAll, core.InvalidState("unknown view %q", s)
}

// Matches applies the view predicate to one row.
func (v View) Matches(doc *models.Document) bool {
	switch v {
	case ViewToExport:
		return VisibilityOf(doc) == Active
	case ViewArchived:
		return VisibilityOf(doc) == Archived
	case ViewTrash:
		return VisibilityOf(doc) == Trashed
	default:
		return true
	}
}

// IsExportCandidate reports whether the next export batch should pick doc up.
func IsExportCandidate(doc *models.Document) bool {
	return doc.Status == models.StatusCompleted &&
		VisibilityOf(doc) == Active &&
		!Exported(doc)
}

// Transition guards. Each returns nil when the move is legal and an
// ErrInvalidState naming the precondition otherwise.

func CanExtract(doc *models.Document) error {
	if VisibilityOf(doc) == Trashed {
		return core.InvalidState("document is in trash")
	}
	switch doc.Status {
	case models.StatusPending, models.StatusError:
		return nil
	}
	return core.InvalidState("cannot extract a %s document", doc.Status)
}

// CanRetry also accepts processing so a request abandoned mid-extraction can
// be recovered.
func CanRetry(doc *models.Document) error {
	if VisibilityOf(doc) == Trashed {
		return core.InvalidState("document is in trash")
	}
	switch doc.Status {
	case models.StatusError, models.StatusProcessing:
		return nil
	}
	return core.InvalidState("cannot retry a %s document", doc.Status)
}

func CanArchive(doc *models.Document) error {
	if VisibilityOf(doc) == Trashed {
		return core.InvalidState("document is in trash")
	}
	if doc.Status != models.StatusCompleted {
		return core.InvalidState("only completed documents can be archived")
	}
	return nil
}

func CanUnarchive(doc *models.Document) error {
	if VisibilityOf(doc) == Trashed {
		return core.InvalidState("document is in trash")
	}
	return nil
}

func CanRestore(doc *models.Document) error {
	if VisibilityOf(doc) != Trashed {
		return core.InvalidState("document is not in trash")
	}
	return nil
}

func CanHardDelete(doc *models.Document) error {
	if VisibilityOf(doc) != Trashed {
		return core.InvalidState("only trashed documents can be deleted")
	}
	return nil
}

// CanEditFields allows manual corrections once an extraction has landed.
func CanEditFields(doc *models.Document) error {
	if VisibilityOf(doc) == Trashed {
		return core.InvalidState("document is in trash")
	}
	if doc.Status != models.StatusCompleted {
		return core.InvalidState("only completed documents can be edited")
	}
	return nil
}
