package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// schemaVersion is bumped whenever scripts/initdb.sql changes.
const schemaVersion = 1

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

// EnsureBootstrapped applies the embedded schema unless toolsuite_meta already
// records the current version.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'toolsuite_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if exists {
		var hasVersion bool
		if err := db.QueryRowContext(ctxBoot,
			`SELECT EXISTS (SELECT 1 FROM toolsuite_meta WHERE version = $1)`, schemaVersion).Scan(&hasVersion); err != nil {
			return fmt.Errorf("meta version check failed: %w", err)
		}
		if hasVersion {
			logger.Debug("schema already bootstrapped", zap.Int("version", schemaVersion))
			return nil
		}
	}

	logger.Info("bootstrapping schema", zap.Int("version", schemaVersion))
	return runBootstrap(ctxBoot, db)
}

func runBootstrap(ctx context.Context, db *sql.DB) error {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO toolsuite_meta (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, schemaVersion); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
