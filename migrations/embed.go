// Package migrations embeds the PostgreSQL schema for stock control and applies
// it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed *.sql
var files embed.FS

// UpFiles lists the embedded up migrations in apply order.
func UpFiles() ([]string, error) {
	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Source exposes the embedded files as a golang-migrate source.
func Source() (source.Driver, error) {
	return iofs.New(files, ".")
}

// Up applies pending migrations to the database at dsn.
func Up(dsn string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrations: open: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migrations: postgres driver: %w", err)
	}
	src, err := Source()
	if err != nil {
		return fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema up to date")
			return nil
		}
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("migrations: dirty database version %d", dirtyErr.Version)
		}
		return fmt.Errorf("migrations: up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrations: version: %w", err)
	}
	logger.Info("schema migrated", slog.Uint64("version", uint64(version)))
	return nil
}
