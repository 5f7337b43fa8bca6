package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// goose keeps its base FS, dialect and logger in package globals.
var gooseMu sync.Mutex

// runMigrations applies the embedded migrations for dialect against db.
func runMigrations(ctx context.Context, db *sql.DB, dialect, dir string, logger zerolog.Logger) error {
	gooseMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		gooseMu.Unlock()
	}()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{logger: logger.With().Str("component", "migrations").Logger()})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf is only reached from goose's command helpers; it is logged, not fatal.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
