package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/confide/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "confide.db"), DefaultPoolSize, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestSQLiteStore_EnsureSchema(t *testing.T) {
	t.Run("Should be safe to run on every startup", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, "t", "kept"))
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.EnsureSchema(ctx))
		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
	t.Run("Should report operations before the schema exists as store errors", func(t *testing.T) {
		ctx := context.Background()
		s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "bare.db"), 1, zerolog.Nop())
		require.NoError(t, err)
		defer s.Close()
		err = s.Insert(ctx, "t", "m")
		require.Error(t, err)
		var se *StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "insert", se.Op)
	})
}

func TestSQLiteStore_Pool(t *testing.T) {
	t.Run("Should bound open connections to the pool size", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		assert.Equal(t, DefaultPoolSize, s.db.Stats().MaxOpenConnections)
		assert.Equal(t, DriverSQLite, s.Driver())
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestSQLiteStore_Scenarios(t *testing.T) {
	t.Run("Should insert, list and delete a single message", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()

		require.NoError(t, s.Insert(ctx, "2024-01-01 10:00:00", "hello"))
		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Message{{ID: 1, Timestamp: "2024-01-01 10:00:00", Message: "hello"}}, got)

		require.NoError(t, s.Delete(ctx, 1))
		got, err = s.FetchAll(ctx)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
	t.Run("Should list messages in insertion order", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()

		require.NoError(t, s.Insert(ctx, "t1", "a"))
		require.NoError(t, s.Insert(ctx, "t2", "b"))
		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Message{
			{ID: 1, Timestamp: "t1", Message: "a"},
			{ID: 2, Timestamp: "t2", Message: "b"},
		}, got)
	})
	t.Run("Should store text and timestamp unchanged", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()
		text := "  multi\nline <b>ünïcødé</b> ' \" ; DROP TABLE secret; --  "

		require.NoError(t, s.Insert(ctx, "17/10/2026 09:15:00", text))
		require.NoError(t, s.Insert(ctx, "", ""))
		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, text, got[0].Message)
		assert.Equal(t, "17/10/2026 09:15:00", got[0].Timestamp)
		assert.Equal(t, "", got[1].Message)
	})
}

func TestSQLiteStore_Delete(t *testing.T) {
	t.Run("Should not error when deleting twice or deleting unknown ids", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, "t1", "a"))
		require.NoError(t, s.Insert(ctx, "t2", "b"))

		require.NoError(t, s.Delete(ctx, 1))
		after, err := s.FetchAll(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, 1))
		require.NoError(t, s.Delete(ctx, 999))
		again, err := s.FetchAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, after, again)
	})
	t.Run("Should never reuse a deleted id", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, "t1", "a"))
		require.NoError(t, s.Insert(ctx, "t2", "b"))
		require.NoError(t, s.Delete(ctx, 2))
		require.NoError(t, s.Insert(ctx, "t3", "c"))

		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(3), got[1].ID)
	})
}

func TestSQLiteStore_ConcurrentInserts(t *testing.T) {
	t.Run("Should assign distinct ids to concurrent inserts", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()
		const n = 40

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Insert(ctx, "t", "m")
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, n)
		seen := make(map[int64]bool, n)
		for i, m := range got {
			assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
			seen[m.ID] = true
			if i > 0 {
				assert.Greater(t, m.ID, got[i-1].ID)
			}
		}
	})
}

func TestOpen(t *testing.T) {
	t.Run("Should open the sqlite backend", func(t *testing.T) {
		s, err := Open(context.Background(), Options{
			Driver:     DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "open.db"),
		}, zerolog.Nop())
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, DriverSQLite, s.Driver())
	})
	t.Run("Should reject unknown drivers with a connection error", func(t *testing.T) {
		_, err := Open(context.Background(), Options{Driver: "mysql"}, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, IsConnectionError(err))
	})
	t.Run("Should require a database URL for postgres", func(t *testing.T) {
		_, err := Open(context.Background(), Options{Driver: DriverPostgres}, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, IsConnectionError(err))
	})
	t.Run("Should give up after the configured retries", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
		start := time.Now()
		_, err := Open(context.Background(), Options{
			Driver:         DriverSQLite,
			SQLitePath:     filepath.Join(blocker, "sub", "confide.db"),
			ConnectRetries: 2,
			RetryBackoff:   time.Millisecond,
		}, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, IsConnectionError(err))
		assert.Less(t, time.Since(start), 5*time.Second)
	})
	t.Run("Should report a cancelled context as a connection error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Open(ctx, Options{
			Driver:     DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "confide.db"),
		}, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, IsConnectionError(err))
		assert.ErrorIs(t, err, context.Canceled)
	})
	t.Run("Should report a deadline hit while backing off as a connection error", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := Open(ctx, Options{
			Driver:         DriverSQLite,
			SQLitePath:     filepath.Join(blocker, "sub", "confide.db"),
			ConnectRetries: 5,
			RetryBackoff:   time.Hour,
		}, zerolog.Nop())
		require.Error(t, err)
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, DriverSQLite, connErr.Driver)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
