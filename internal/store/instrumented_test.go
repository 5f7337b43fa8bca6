package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/confide/internal/metrics"
)

func TestInstrumented(t *testing.T) {
	t.Run("Should pass results through and count failures per operation", func(t *testing.T) {
		ctx := context.Background()
		raw, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "metrics.db"), 1, zerolog.Nop())
		require.NoError(t, err)
		defer raw.Close()
		s := NewInstrumented(raw)

		before := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(DriverSQLite, "insert"))
		require.Error(t, s.Insert(ctx, "t", "m")) // no schema yet
		after := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(DriverSQLite, "insert"))
		assert.Equal(t, before+1, after)

		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.Insert(ctx, "t", "m"))
		got, err := s.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NoError(t, s.Delete(ctx, got[0].ID))
		assert.Equal(t, after, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(DriverSQLite, "insert")))
	})
}
