package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/confide/internal/models"
)

const postgresPingTimeout = 5 * time.Second

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// DB is the minimal database interface PostgresStore depends on (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool   DB
	sqlDB  *sql.DB // database/sql view of the pool, used by the migration runner
	logger zerolog.Logger
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool bounded to poolSize.
func NewPostgresStore(ctx context.Context, databaseURL string, poolSize int, logger zerolog.Logger) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, &ConnectionError{Driver: DriverPostgres, Err: errors.New("database URL is required")}
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, &ConnectionError{Driver: DriverPostgres, Err: err}
	}
	cfg.MaxConns = int32(poolSize)
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Driver: DriverPostgres, Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, &ConnectionError{Driver: DriverPostgres, Err: err}
	}

	logger.Info().
		Str("store_driver", DriverPostgres).
		Str("host", cfg.ConnConfig.Host).
		Str("db_name", cfg.ConnConfig.Database).
		Int32("max_conns", cfg.MaxConns).
		Msg("connected to PostgreSQL")

	return &PostgresStore{pool: pool, sqlDB: stdlib.OpenDBFromPool(pool), logger: logger}, nil
}

// NewPostgresStoreWithDB wraps an existing pool. Schema creation is unavailable
// on stores built this way.
func NewPostgresStoreWithDB(db DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: db, logger: logger}
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	if s.sqlDB != nil {
		s.sqlDB.Close()
	}
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Driver returns the backend name.
func (s *PostgresStore) Driver() string { return DriverPostgres }

// EnsureSchema applies the embedded Postgres migrations.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.sqlDB == nil {
		return &ConnectionError{Driver: DriverPostgres, Err: errors.New("schema runner not available")}
	}
	if err := runMigrations(ctx, s.sqlDB, "postgres", "migrations/postgres", s.logger); err != nil {
		return &ConnectionError{Driver: DriverPostgres, Err: err}
	}
	return nil
}

// Insert appends a message row. The id is assigned by the database.
func (s *PostgresStore) Insert(ctx context.Context, timestamp, text string) error {
	query, args, err := psql.Insert(tableName).
		Columns("timestamp", "message").
		Values(timestamp, text).
		ToSql()
	if err != nil {
		return opError("insert", fmt.Errorf("building insert query: %w", err))
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return opError("insert", err)
}

// FetchAll returns every message ordered by id.
func (s *PostgresStore) FetchAll(ctx context.Context) ([]models.Message, error) {
	query, args, err := selectMessages(psql).ToSql()
	if err != nil {
		return nil, opError("fetch_all", fmt.Errorf("building select query: %w", err))
	}
	messages := make([]models.Message, 0)
	if err := pgxscan.Select(ctx, s.pool, &messages, query, args...); err != nil {
		return nil, opError("fetch_all", err)
	}
	return nonNil(messages), nil
}

// Delete removes the message with the given id. Deleting an id that does not
// exist is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	query, args, err := psql.Delete(tableName).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return opError("delete", fmt.Errorf("building delete query: %w", err))
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return opError("delete", err)
}
