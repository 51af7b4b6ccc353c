package sqlitestore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

//go:embed migrations/*.sql
var sqlSchemas embed.FS

// LatestMigrationVersion is the latest schema version this driver knows how
// to migrate to.
//
// NOTE: bump alongside every new migrations/NNNNNN_*.sql pair.
const LatestMigrationVersion uint = 1

// ErrMigrationDowngrade is returned when the database's recorded version is
// newer than this driver's LatestMigrationVersion.
var ErrMigrationDowngrade = errors.New(
	"sqlitestore: database downgrade detected")

type migrationLogger struct {
	log btclog.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Infof(fmt.Sprintf(format, v...))
}

func (m *migrationLogger) Verbose() bool { return true }

func (s *Store) runMigrations(ctx context.Context) error {
	driver, err := sqlite_migrate.WithInstance(s.db, &sqlite_migrate.Config{})
	if err != nil {
		return fmt.Errorf("error creating sqlite migration driver: %w", err)
	}

	return applyMigrations(ctx, driver, s.log)
}

func applyMigrations(ctx context.Context, driver database.Driver,
	log btclog.Logger) error {

	src, err := httpfs.New(http.FS(sqlSchemas), "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("migrations", src, "sqlite", driver)
	if err != nil {
		return err
	}
	m.Log = &migrationLogger{log: log}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %v, manual "+
			"intervention required", version)
	}
	if version > LatestMigrationVersion {
		return fmt.Errorf("%w: db_version=%v latest=%v",
			ErrMigrationDowngrade, version, LatestMigrationVersion)
	}

	log.Infof("Applying migrations, current_version=%v latest=%v",
		version, LatestMigrationVersion)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
