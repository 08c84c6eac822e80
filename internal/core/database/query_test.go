package db

import (
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/markdave123-py/ToolSuite/internal/lifecycle"
)

func TestViewPredicate(t *testing.T) {
	tests := []struct {
		view    lifecycle.View
		want    []string
		notWant []string
	}{
		{lifecycle.ViewToExport, []string{"archived_at IS NULL", "trashed_at IS NULL"}, []string{"NOT NULL"}},
		{lifecycle.ViewArchived, []string{"trashed_at IS NULL", "archived_at IS NOT NULL"}, nil},
		{lifecycle.ViewTrash, []string{"trashed_at IS NOT NULL"}, []string{"archived_at"}},
		{lifecycle.ViewAll, []string{"TRUE"}, []string{"trashed_at", "archived_at"}},
	}
	for _, tt := range tests {
		sql, args, err := viewPredicate(tt.view).ToSql()
		if err != nil {
			t.Fatalf("%q: %v", tt.view, err)
		}
		if len(args) != 0 {
			t.Errorf("%q: unexpected args %v", tt.view, args)
		}
		for _, w := range tt.want {
			if !strings.Contains(sql, w) {
				t.Errorf("%q: %q missing %q", tt.view, sql, w)
			}
		}
		for _, w := range tt.notWant {
			if strings.Contains(sql, w) {
				t.Errorf("%q: %q should not contain %q", tt.view, sql, w)
			}
		}
	}
}

func TestListQueryUsesDollarPlaceholders(t *testing.T) {
	sql, args, err := psql.Select("id").
		From("documents").
		Where(squirrel.Eq{"user_id": "u1"}).
		Where(viewPredicate(lifecycle.ViewTrash)).
		ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "user_id = $1") || len(args) != 1 || args[0] != "u1" {
		t.Fatalf("sql = %q args = %v", sql, args)
	}
}

func TestStampQueryArchivesInSameStatement(t *testing.T) {
	at := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	sql, args, err := stampQuery("u1", "b1", []string{"d1", "d2"}, at).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range []string{
		"exported_at = $1",
		"export_batch_id = $2",
		"archived_at = COALESCE(archived_at, $3)",
		"exported_at IS NULL",
		"trashed_at IS NULL",
		"RETURNING id",
	} {
		if !strings.Contains(sql, w) {
			t.Errorf("%q missing %q", sql, w)
		}
	}
	if len(args) != 7 {
		t.Fatalf("args = %v", args)
	}
}
