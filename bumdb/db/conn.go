package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

const driverName = "libsql"

// Querier is the subset of *sql.DB and *sql.Tx used by tables and queries.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DSN turns a bare filesystem path into a libSQL file URL. URLs pass through.
func DSN(pathOrURL string) string {
	for _, scheme := range []string{"file:", "libsql:", "http:", "https:", "ws:", "wss:"} {
		if strings.HasPrefix(pathOrURL, scheme) {
			return pathOrURL
		}
	}
	return "file:" + pathOrURL
}

func busyTimeoutPragma(d time.Duration) string {
	return fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds())
}

// ConnectToDB opens and pings a libSQL database. Each pragma runs on every
// connection the pool opens, before it is handed out.
func ConnectToDB(dsn string, pragmas ...string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("catalog dsn cannot be empty")
	}
	dsn = DSN(dsn)

	opener, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", dsn, err)
	}
	drv := opener.Driver()
	opener.Close()

	base, err := baseConnector(drv, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", dsn, err)
	}
	db := sql.OpenDB(&pragmaConnector{base: base, pragmas: pragmas})
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to catalog %s: %w", dsn, err)
	}
	return db, nil
}

func baseConnector(drv driver.Driver, dsn string) (driver.Connector, error) {
	if dc, ok := drv.(driver.DriverContext); ok {
		return dc.OpenConnector(dsn)
	}
	return dsnConnector{driver: drv, dsn: dsn}, nil
}

type dsnConnector struct {
	driver driver.Driver
	dsn    string
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }
func (c dsnConnector) Driver() driver.Driver                         { return c.driver }

// pragmaConnector configures each new connection of the wrapped connector.
// Pragmas go through Query, not Exec: libSQL refuses to Exec a statement
// that returns rows.
type pragmaConnector struct {
	base    driver.Connector
	pragmas []string
}

func (c *pragmaConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if len(c.pragmas) == 0 {
		return conn, nil
	}
	q, ok := conn.(driver.QueryerContext)
	if !ok {
		return conn, nil
	}
	for _, pragma := range c.pragmas {
		if err := runPragma(ctx, q, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to configure connection (%s): %w", pragma, err)
		}
	}
	return conn, nil
}

func (c *pragmaConnector) Driver() driver.Driver { return c.base.Driver() }

func (c *pragmaConnector) Close() error {
	if closer, ok := c.base.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func runPragma(ctx context.Context, q driver.QueryerContext, pragma string) error {
	rows, err := q.QueryContext(ctx, pragma, nil)
	if err != nil {
		return err
	}
	defer rows.Close()
	dest := make([]driver.Value, len(rows.Columns()))
	if err := rows.Next(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func tableExists(ctx context.Context, q Querier, name string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)", name).Scan(&exists)
	return exists, err
}
