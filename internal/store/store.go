package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/eldtechnologies/confide/internal/models"
)

// Supported backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// tableName is the single table holding messages.
const tableName = "secret"

// DefaultPoolSize bounds concurrent backend connections when no size is configured.
const DefaultPoolSize = 5

// MessageStore defines persistent storage of messages.
// Both PostgresStore and SQLiteStore implement this interface.
type MessageStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error
	Driver() string

	// EnsureSchema creates the message table if it is absent. Safe to call on every startup.
	EnsureSchema(ctx context.Context) error

	// Message operations
	Insert(ctx context.Context, timestamp, text string) error
	FetchAll(ctx context.Context) ([]models.Message, error)
	Delete(ctx context.Context, id int64) error
}

// Options selects and sizes a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	PoolSize    int

	// ConnectRetries is how many extra attempts are made when the backend
	// cannot be reached, with exponential backoff starting at RetryBackoff.
	ConnectRetries uint64
	RetryBackoff   time.Duration
}

// Open connects to the configured backend, retrying unreachable backends
// ConnectRetries times. Any failure to reach the backend is returned as a
// *ConnectionError.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (MessageStore, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Driver != DriverPostgres && opts.Driver != DriverSQLite {
		return nil, &ConnectionError{Driver: opts.Driver, Err: fmt.Errorf("unknown store driver %q", opts.Driver)}
	}

	var s MessageStore
	attempt := 0
	backoff := retry.WithMaxRetries(opts.ConnectRetries, retry.NewExponential(opts.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		s, err = open(ctx, opts, logger)
		if err == nil {
			return nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Str("driver", opts.Driver).Msg("store not reachable")
		return retry.RetryableError(err)
	})
	if err != nil {
		// cancellation surfaces as a bare ctx.Err() from retry.Do
		if !IsConnectionError(err) {
			err = &ConnectionError{Driver: opts.Driver, Err: err}
		}
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, opts Options, logger zerolog.Logger) (MessageStore, error) {
	if opts.Driver == DriverPostgres {
		s, err := NewPostgresStore(ctx, opts.DatabaseURL, opts.PoolSize, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewSQLiteStore(ctx, opts.SQLitePath, opts.PoolSize, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// selectMessages is the listing query shared by both backends.
func selectMessages(b squirrel.StatementBuilderType) squirrel.SelectBuilder {
	return b.Select("id", "timestamp", "message").
		From(tableName).
		OrderBy("id ASC")
}

func nonNil(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}
