package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCatalogIntegration exercises the catalog lifecycle against a real file.
func TestCatalogIntegration(t *testing.T) {
	ctx := context.Background()
	c, path := newTestCatalog(t)
	seedRun(t, c, "alpha", epoch)

	t.Run("Identity", func(t *testing.T) {
		id := c.Identity()
		assert.NotEqual(t, uuid.Nil, id)

		// creating again keeps the identity and the data
		again, err := Open(ctx, path, Options{Create: true})
		require.NoError(t, err)
		defer again.Close()
		assert.Equal(t, id, again.Identity())

		n, err := again.CountRuns(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("Backup", func(t *testing.T) {
		backupPath, err := c.Backup(ctx, filepath.Join(t.TempDir(), "backups"))
		require.NoError(t, err)
		_, err = os.Stat(backupPath)
		require.NoError(t, err)

		copied := openReadOnly(t, backupPath)
		assert.Equal(t, c.Identity(), copied.Identity())

		want, err := c.TableCounts(ctx)
		require.NoError(t, err)
		got, err := copied.TableCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("RecordIntegration", func(t *testing.T) {
		source := uuid.New()
		require.NoError(t, c.RecordIntegration(ctx, source, "agent.db", 3))

		var runs int
		err := c.db.QueryRowContext(ctx,
			"SELECT runs FROM integration_v1 WHERE source_uuid = ?", source.String()).Scan(&runs)
		require.NoError(t, err)
		assert.Equal(t, 3, runs)
	})

	t.Run("Reset", func(t *testing.T) {
		id := c.Identity()
		reset, err := Open(ctx, path, Options{Reset: true, BusyTimeout: time.Second})
		require.NoError(t, err)
		defer reset.Close()

		assert.NotEqual(t, id, reset.Identity())
		tables, err := reset.TableCounts(ctx)
		require.NoError(t, err)
		for name, n := range tables {
			assert.Zero(t, n, name)
		}
	})
}

func TestOpenReadOnlyRejectsSchemaChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	for _, opts := range []Options{
		{ReadOnly: true, Create: true},
		{ReadOnly: true, Reset: true},
	} {
		_, err := Open(context.Background(), path, opts)
		assert.ErrorIs(t, err, ErrReadOnly)
	}
}

func TestLegacyCatalogHasNilIdentity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := ConnectToDB(path)
	require.NoError(t, err)
	for _, table := range []*Table{HostTable, StatusTable, FileshaTable, FilepathTable, RunTable} {
		for _, stmt := range table.Schema {
			_, err := raw.ExecContext(ctx, stmt)
			require.NoError(t, err)
		}
	}
	require.NoError(t, raw.Close())

	legacy := openReadOnly(t, path)
	assert.Equal(t, uuid.Nil, legacy.Identity())
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/a.db", DSN("/tmp/a.db"))
	assert.Equal(t, "file:/tmp/a.db", DSN("file:/tmp/a.db"))
	assert.Equal(t, "libsql://example.turso.io", DSN("libsql://example.turso.io"))

	_, err := ConnectToDB("  ")
	assert.Error(t, err)
}

func TestBusyTimeoutOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	c, path := newTestCatalog(t)

	var ms int64
	require.NoError(t, c.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms))
	assert.EqualValues(t, 1000, ms)

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.q.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms))
	assert.EqualValues(t, 1000, ms)
	require.NoError(t, tx.Rollback())

	// zero falls back to the default
	ro := openReadOnly(t, path)
	require.NoError(t, ro.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms))
	assert.Equal(t, DefaultBusyTimeout.Milliseconds(), ms)
}

func TestReopenAfterClose(t *testing.T) {
	ctx := context.Background()
	for round := range 3 {
		path := filepath.Join(t.TempDir(), "catalog.db")
		c, err := Open(ctx, path, Options{Create: true, BusyTimeout: time.Second})
		require.NoError(t, err)
		runID := seedRun(t, c, "alpha", epoch)
		id := c.Identity()
		require.NoError(t, c.Close())

		for _, readOnly := range []bool{true, false, true} {
			reopened, err := Open(ctx, path, Options{ReadOnly: readOnly, BusyTimeout: time.Second})
			require.NoError(t, err, "round %d read-only %t", round, readOnly)
			assert.Equal(t, id, reopened.Identity())

			n, err := reopened.CountRuns(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			if readOnly {
				run, err := reopened.Run(ctx, runID)
				require.NoError(t, err)
				assert.Equal(t, "alpha", run.Host)
			} else {
				again, err := reopened.OpenRun(ctx, "alpha", epoch)
				require.NoError(t, err)
				assert.Equal(t, runID, again)
			}
			require.NoError(t, reopened.Close())
		}
	}
}

func TestCatalogWriteWaitsForOpenTx(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)
	runID, err := c.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, tx.SetStatus(ctx, runID, "Running"))

	done := make(chan error, 1)
	go func() { done <- c.SetStatus(ctx, runID, "Complete") }()

	select {
	case err := <-done:
		t.Fatalf("catalog write finished while a transaction was open: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, tx.Commit())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog write still blocked after commit")
	}

	run, err := c.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "Complete", run.Status)
}
