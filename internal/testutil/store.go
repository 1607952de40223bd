package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/store"
)

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens a migrated SQLite store in a temp dir.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	return OpenStoreWith(t, store.Options{})
}

// OpenStoreWith is OpenStore with option overrides. Driver and DSN are
// filled in when empty.
func OpenStoreWith(t testing.TB, opts store.Options) *store.Store {
	t.Helper()
	if opts.Driver == "" {
		opts.Driver = store.DriverSQLite
	}
	if opts.DSN == "" {
		opts.DSN = filepath.Join(t.TempDir(), "plateflow.db")
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	s, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewDataset creates a dataset named after the test.
func NewDataset(t testing.TB, s *store.Store) *model.Dataset {
	t.Helper()
	ds, err := s.CreateDataset(context.Background(), t.Name(), "tester")
	require.NoError(t, err)
	return ds
}
