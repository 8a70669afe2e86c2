package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Table describes one identity table: the columns that together form its
// unique key, plus the statements that create and drop it. Dictionaries,
// the run ledger and the snapshot tables are all Table values.
type Table struct {
	Name    string
	Columns []string
	Schema  []string
	Drop    []string
}

func (t *Table) selectQuery() string {
	conds := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		conds[i] = col + " = ?"
	}
	return fmt.Sprintf("SELECT id FROM %s WHERE %s", t.Name, strings.Join(conds, " AND "))
}

func (t *Table) insertQuery() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING RETURNING id",
		t.Name, strings.Join(t.Columns, ", "), marks)
}

// Dictionary maps the key tuple of a Table to a stable surrogate id.
type Dictionary struct {
	table    *Table
	readOnly bool

	selectSQL string
	insertSQL string
	countSQL  string
}

// NewDictionary builds the get-or-create store for t. A read-only dictionary
// never inserts.
func NewDictionary(t *Table, readOnly bool) *Dictionary {
	return &Dictionary{
		table:     t,
		readOnly:  readOnly,
		selectSQL: t.selectQuery(),
		insertSQL: t.insertQuery(),
		countSQL:  "SELECT COUNT(*) FROM " + t.Name,
	}
}

func (d *Dictionary) Table() *Table { return d.table }

func (d *Dictionary) checkArity(values []any) error {
	if len(values) != len(d.table.Columns) {
		return fmt.Errorf("%w: %s expects %d values and got %d",
			ErrInvalidArgumentCount, d.table.Name, len(d.table.Columns), len(values))
	}
	return nil
}

// Lookup returns the id of the row matching values, or ErrNotFound.
func (d *Dictionary) Lookup(ctx context.Context, q Querier, values ...any) (int64, error) {
	if err := d.checkArity(values); err != nil {
		return 0, err
	}
	var id int64
	err := q.QueryRowContext(ctx, d.selectSQL, values...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %v: %w", d.table.Name, values, ErrNotFound)
	} else if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", d.table.Name, err)
	}
	return id, nil
}

// GetOrCreate returns the id of the row matching values, inserting it first
// if needed. When another writer inserts the same values concurrently the
// unique index rejects ours and the winner's id is re-read.
func (d *Dictionary) GetOrCreate(ctx context.Context, q Querier, values ...any) (int64, error) {
	id, err := d.Lookup(ctx, q, values...)
	if err == nil || !errors.Is(err, ErrNotFound) || d.readOnly {
		return id, err
	}

	err = q.QueryRowContext(ctx, d.insertSQL, values...).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		// conflict: the row appeared since our select
		return d.Lookup(ctx, q, values...)
	default:
		return 0, fmt.Errorf("failed to insert into %s: %w", d.table.Name, err)
	}
}

// Count returns the number of rows in the table.
func (d *Dictionary) Count(ctx context.Context, q Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, d.countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", d.table.Name, err)
	}
	return n, nil
}
