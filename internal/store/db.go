package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailledger/internal/model"
)

// dialect names a supported SQL backend.
type dialect string

const (
	dialectSQLite dialect = "sqlite"
	dialectMySQL  dialect = "mysql"
)

// SQLStore implements Store on a SQLite or MySQL database.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database selected by cfg.Driver and runs pending
// migrations.
func Open(cfg model.DatabaseConfig) (*SQLStore, error) {
	switch dialect(cfg.Driver) {
	case dialectSQLite, "":
		path := cfg.Path
		if path == "" {
			path = model.DefaultDatabasePath()
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return NewSQLiteStore(path)
	case dialectMySQL:
		return NewMySQLStore(cfg.MySQL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newSQLStore(db *sqlx.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// runMigrations reads the current schema version and applies any
// outstanding migrations in order.
func (s *SQLStore) runMigrations() error {
	if _, err := s.db.Exec(schemaVersionDDL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		stmts := m.sqlite
		if s.dialect == dialectMySQL {
			stmts = m.mysql
		}

		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure in
// the store's dialect.
func (s *SQLStore) isUniqueViolation(err error) bool {
	if s.dialect == dialectMySQL {
		return isMySQLDuplicate(err)
	}
	return isSQLiteUnique(err)
}
