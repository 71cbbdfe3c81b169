// Package migrate applies embedded goose migrations through a pgx pool.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Set describes one service's migrations. Each service keeps its own version
// table so that separate databases can also share a cluster during development.
type Set struct {
	FS    fs.FS
	Dir   string
	Table string
}

// Up applies all pending migrations in s.
func Up(ctx context.Context, pool *pgxpool.Pool, s Set) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(s.FS)
	goose.SetTableName(s.Table)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, s.Dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}
	slog.InfoContext(ctx, "migrations completed", "table", s.Table, "version", version)
	return nil
}
