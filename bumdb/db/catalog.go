package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/bumdb/bumdb"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options controls how a catalog is opened.
type Options struct {
	// ReadOnly catalogs never insert or update: get-or-create misses return
	// ErrNotFound and status/end time updates return ErrReadOnly.
	ReadOnly bool
	// Create runs the schema statements. They are idempotent.
	Create bool
	// Reset drops every table before creating it again. Implies Create.
	Reset bool
	// BusyTimeout is how long any connection waits on a locked database
	// file. Zero uses DefaultBusyTimeout.
	BusyTimeout time.Duration
	Logger      *zerolog.Logger
}

// DefaultBusyTimeout applies when Options.BusyTimeout is zero.
var DefaultBusyTimeout = time.Duration(internal.DefaultBusyTimeoutMillis) * time.Millisecond

// Catalog is a backup metadata catalog stored in a single SQLite file.
type Catalog struct {
	db          *sql.DB
	dsn         string
	readOnly    bool
	busyTimeout time.Duration
	log         zerolog.Logger
	id          uuid.UUID

	// writeMu serializes writers within this process; SQLite locking covers
	// other processes.
	writeMu sync.Mutex

	Hosts    *Dictionary
	Statuses *Dictionary
	Hashes   *Dictionary
	Paths    *Dictionary

	runs        *Dictionary
	directories *Dictionary
	links       *Dictionary
	files       *Dictionary
	catalogs    *Dictionary
	merges      *Dictionary
}

// Open connects to the catalog at dsn, a file path or libSQL URL.
func Open(ctx context.Context, dsn string, opts Options) (*Catalog, error) {
	if (opts.Create || opts.Reset) && opts.ReadOnly {
		return nil, fmt.Errorf("cannot create a read-only catalog: %w", ErrReadOnly)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	db, err := ConnectToDB(dsn, busyTimeoutPragma(opts.BusyTimeout))
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Catalog{
		db:          db,
		dsn:         dsn,
		readOnly:    opts.ReadOnly,
		busyTimeout: opts.BusyTimeout,
		log:         logger.With().Str("catalog", dsn).Logger(),
		Hosts:       NewDictionary(HostTable, opts.ReadOnly),
		Statuses:    NewDictionary(StatusTable, opts.ReadOnly),
		Hashes:      NewDictionary(FileshaTable, opts.ReadOnly),
		Paths:       NewDictionary(FilepathTable, opts.ReadOnly),
		runs:        NewDictionary(RunTable, opts.ReadOnly),
		directories: NewDictionary(DirectoryTable, opts.ReadOnly),
		links:       NewDictionary(LinkTable, opts.ReadOnly),
		files:       NewDictionary(FileTable, opts.ReadOnly),
		catalogs:    NewDictionary(CatalogTable, opts.ReadOnly),
		merges:      NewDictionary(IntegrationTable, opts.ReadOnly),
	}

	if err := c.init(ctx, opts.Create || opts.Reset, opts.Reset); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// init sets up the catalog tables and loads the catalog identity.
func (c *Catalog) init(ctx context.Context, create, reset bool) error {
	if create {
		err := c.update(ctx, func(s session) error {
			if reset {
				for i := len(Tables) - 1; i >= 0; i-- {
					for _, stmt := range Tables[i].Drop {
						if _, err := s.q.ExecContext(ctx, stmt); err != nil {
							return fmt.Errorf("failed to drop %s: %w", Tables[i].Name, err)
						}
					}
				}
			}
			for _, t := range Tables {
				for _, stmt := range t.Schema {
					if _, err := s.q.ExecContext(ctx, stmt); err != nil {
						return fmt.Errorf("failed to create %s: %w", t.Name, err)
					}
				}
			}
			n, err := c.catalogs.Count(ctx, s.q)
			if err != nil || n > 0 {
				return err
			}
			_, err = c.catalogs.GetOrCreate(ctx, s.q, uuid.NewString(), time.Now().Unix())
			return err
		})
		if err != nil {
			return err
		}
	}

	return c.loadIdentity(ctx)
}

func (c *Catalog) loadIdentity(ctx context.Context) error {
	exists, err := tableExists(ctx, c.db, CatalogTable.Name)
	if err != nil {
		return fmt.Errorf("failed to inspect catalog schema: %w", err)
	}
	if !exists {
		// produced by an older writer; identity unknown
		c.id = uuid.Nil
		return nil
	}

	var raw string
	err = c.db.QueryRowContext(ctx, "SELECT uuid FROM catalog_v1 ORDER BY id LIMIT 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		c.id = uuid.Nil
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read catalog identity: %w", err)
	}
	if c.id, err = uuid.Parse(raw); err != nil {
		return fmt.Errorf("failed to parse catalog identity: %w", err)
	}
	c.log = c.log.With().Str("catalog_id", c.id.String()).Logger()
	return nil
}

// Identity returns the uuid assigned when the catalog was created, or
// uuid.Nil for catalogs that predate identities.
func (c *Catalog) Identity() uuid.UUID { return c.id }

// Name returns the dsn the catalog was opened with.
func (c *Catalog) Name() string { return c.dsn }

func (c *Catalog) ReadOnly() bool { return c.readOnly }

// Close closes the catalog connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Tx is a write transaction on a catalog. Integrations and crawlers use one
// per run.
type Tx struct {
	session
	tx   *sql.Tx
	once sync.Once
}

// Begin starts a write transaction. Writers are serialized until Commit or
// Rollback, so always defer Rollback. The lock is not reentrant: while a Tx is
// open, calling a Catalog write method from the same goroutine blocks forever.
// Use the Tx's own methods instead.
func (c *Catalog) Begin(ctx context.Context) (*Tx, error) {
	if c.readOnly {
		return nil, ErrReadOnly
	}
	c.writeMu.Lock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.writeMu.Unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &Tx{session: session{c: c, q: tx}, tx: tx}
	// returns the new value as a row, which libSQL's Exec rejects
	var ms int64
	if err := tx.QueryRowContext(ctx, busyTimeoutPragma(c.busyTimeout)).Scan(&ms); err != nil {
		t.Rollback()
		return nil, fmt.Errorf("failed to configure transaction: %w", err)
	}
	return t, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	defer t.release()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (t *Tx) release() {
	t.once.Do(t.c.writeMu.Unlock)
}

// update runs fn in its own transaction.
func (c *Catalog) update(ctx context.Context, fn func(s session) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx.session); err != nil {
		return err
	}
	return tx.Commit()
}

// write runs fn in a transaction, or directly against the connection for
// read-only catalogs, where every get-or-create degrades to a lookup.
func (c *Catalog) write(ctx context.Context, fn func(s session) error) error {
	if c.readOnly {
		return fn(c.reader())
	}
	return c.update(ctx, fn)
}

func (c *Catalog) reader() session {
	return session{c: c, q: c.db}
}

// TableCounts returns the row count of every catalog table keyed by table name.
func (c *Catalog) TableCounts(ctx context.Context) (map[string]int64, error) {
	dicts := []*Dictionary{
		c.Hosts, c.Statuses, c.Hashes, c.Paths,
		c.runs, c.directories, c.links, c.files,
	}
	counts := make(map[string]int64, len(dicts))
	for _, d := range dicts {
		n, err := d.Count(ctx, c.db)
		if err != nil {
			return nil, err
		}
		counts[d.Table().Name] = n
	}
	return counts, nil
}

// RecordIntegration notes that source has been merged into this catalog.
func (c *Catalog) RecordIntegration(ctx context.Context, source uuid.UUID, name string, runs int) error {
	if c.readOnly {
		return ErrReadOnly
	}
	return c.update(ctx, func(s session) error {
		_, err := c.merges.GetOrCreate(ctx, s.q, source.String(), name, runs, time.Now().Unix())
		return err
	})
}

// Backup writes a consistent copy of the catalog into dir and returns its path.
func (c *Catalog) Backup(ctx context.Context, dir string) (string, error) {
	if c.db == nil {
		return "", fmt.Errorf("cannot backup: database connection is nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create backup directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(strings.TrimPrefix(c.dsn, "file:")), filepath.Ext(c.dsn))
	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(dir, fmt.Sprintf("%s_backup_%s.db", base, timestamp))

	// SQLite specific: writes a vacuumed copy of the live database
	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", fmt.Errorf("backup failed: %w", err)
	}

	c.log.Info().Str("path", backupPath).Msg("catalog backup created")
	return backupPath, nil
}
