package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/chainable/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationDir = "sqlite/migrations"

// bootstrapVersion creates schema_migrations itself, so it cannot be looked up there
const bootstrapVersion = "000"

// Migrate applies every embedded migration not yet recorded in schema_migrations,
// in file name order, each in its own transaction.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	files, err := fs.Glob(migrations, path.Join(migrationDir, "*.sql"))
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := path.Base(file)
		version, _, _ := strings.Cut(name, "_")

		done, err := isApplied(db, version)
		if err != nil {
			return errors.Wrapf(err, "check %s", name)
		}
		if done {
			logger.Debugw("Skipping migration (already applied)", "migration", name)
			continue
		}

		logger.Infow("Applying migration", "migration", name, "version", version)
		if err := apply(db, file, version); err != nil {
			return errors.Wrapf(err, "migration %s", name)
		}
		applied++
	}

	logger.Debugw("Migrations complete", "total_migrations", len(files), "applied", applied)
	return nil
}

// isApplied reports whether version is recorded. Before the bootstrap migration
// has run the table is missing, which only the bootstrap itself may see.
func isApplied(db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	if err == nil {
		return exists, nil
	}
	if version == bootstrapVersion {
		return false, nil
	}
	return false, errors.Wrap(err, "schema_migrations missing")
}

// apply runs one migration file and records it atomically
func apply(db *sql.DB, file, version string) error {
	stmts, err := migrations.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "read")
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(stmts)); err != nil {
		return errors.Wrap(err, "execute")
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return errors.Wrap(err, "record")
	}
	return errors.Wrap(tx.Commit(), "commit")
}
