package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/confide/internal/models"
)

var sqlite = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/confide.db"
func NewSQLiteStore(ctx context.Context, dbPath string, poolSize int, logger zerolog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/confide.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ConnectionError{Driver: DriverSQLite, Err: err}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &ConnectionError{Driver: DriverSQLite, Err: err}
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Driver: DriverSQLite, Err: err}
	}

	logger.Info().
		Str("store_driver", DriverSQLite).
		Str("path", dbPath).
		Int("max_conns", poolSize).
		Msg("opened SQLite database")

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the backend name.
func (s *SQLiteStore) Driver() string { return DriverSQLite }

// EnsureSchema applies the embedded SQLite migrations.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if err := runMigrations(ctx, s.db, "sqlite3", "migrations/sqlite", s.logger); err != nil {
		return &ConnectionError{Driver: DriverSQLite, Err: err}
	}
	return nil
}

// Insert appends a message row. The id is assigned by the database.
func (s *SQLiteStore) Insert(ctx context.Context, timestamp, text string) error {
	query, args, err := sqlite.Insert(tableName).
		Columns("timestamp", "message").
		Values(timestamp, text).
		ToSql()
	if err != nil {
		return opError("insert", fmt.Errorf("building insert query: %w", err))
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return opError("insert", err)
}

// FetchAll returns every message ordered by id.
func (s *SQLiteStore) FetchAll(ctx context.Context) ([]models.Message, error) {
	query, args, err := selectMessages(sqlite).ToSql()
	if err != nil {
		return nil, opError("fetch_all", fmt.Errorf("building select query: %w", err))
	}
	messages := make([]models.Message, 0)
	if err := sqlscan.Select(ctx, s.db, &messages, query, args...); err != nil {
		return nil, opError("fetch_all", err)
	}
	return nonNil(messages), nil
}

// Delete removes the message with the given id. Deleting an id that does not
// exist is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	query, args, err := sqlite.Delete(tableName).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return opError("delete", fmt.Errorf("building delete query: %w", err))
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return opError("delete", err)
}
