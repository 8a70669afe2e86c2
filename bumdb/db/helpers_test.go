package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1700000000, 0).UTC()

func newTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(context.Background(), path, Options{Create: true, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func openReadOnly(t *testing.T, path string) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), path, Options{ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}
