package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
)

// NewStore opens a file-backed store in t.TempDir() for the given entity
// types (all known types if none) and closes it on cleanup.
func NewStore(t testing.TB, types ...model.EntityType) *store.Store {
	t.Helper()
	registry, err := model.NewRegistry(types...)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "offsync.db"), registry)
	require.NoError(t, err, "open test store")
	t.Cleanup(func() { s.Close() })
	return s
}
