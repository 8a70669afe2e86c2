package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
)

const (
	directoryColumns = `SELECT p.filepath, d.fileowner, d.filegroup, d.filemode, d.filetime
	FROM directory_v1 d JOIN filepath_v1 p ON d.filepath_id = p.id
	WHERE d.run_id = ?`
	linkColumns = `SELECT s.filepath, t.filepath
	FROM link_v1 l
	JOIN filepath_v1 s ON l.filepath_id = s.id
	JOIN filepath_v1 t ON l.destpath_id = t.id
	WHERE l.run_id = ?`
	fileColumns = `SELECT p.filepath, f.fileowner, f.filegroup, f.filemode, f.filesize, f.filetime, h.filesha
	FROM file_v1 f
	JOIN filepath_v1 p ON f.filepath_id = p.id
	JOIN filesha_v1 h ON f.filesha_id = h.id
	WHERE f.run_id = ?`

	// literal, case-sensitive prefix match; LIKE would treat % and _ as
	// wildcards and ignore ASCII case
	prefixMatch = " AND substr(%s.filepath, 1, length(?)) = ?"
)

func scanDirectory(rows *sql.Rows) (Directory, error) {
	var d Directory
	err := rows.Scan(&d.Path, &d.Owner, &d.Group, &d.Mode, &d.ModTime)
	return d, err
}

func scanLink(rows *sql.Rows) (Link, error) {
	var l Link
	err := rows.Scan(&l.Path, &l.Target)
	return l, err
}

func scanFile(rows *sql.Rows) (File, error) {
	var f File
	err := rows.Scan(&f.Path, &f.Owner, &f.Group, &f.Mode, &f.Size, &f.ModTime, &f.Hash)
	return f, err
}

// restore yields the observations of one table for runID, once per prefix.
func restore[T any](ctx context.Context, q Querier, scan func(*sql.Rows) (T, error), base, alias, order string, runID int64, prefixes []string) iter.Seq2[T, error] {
	if len(prefixes) == 0 {
		return stream(ctx, q, scan, base+order, runID)
	}
	seqs := make([]iter.Seq2[T, error], len(prefixes))
	for i, prefix := range prefixes {
		seqs[i] = stream(ctx, q, scan, base+fmt.Sprintf(prefixMatch, alias)+order, runID, prefix, prefix)
	}
	return concat(seqs...)
}

func (s session) recordDirectory(ctx context.Context, runID int64, d Directory) (int64, error) {
	pathID, err := s.c.Paths.GetOrCreate(ctx, s.q, d.Path)
	if err != nil {
		return 0, err
	}
	return s.c.directories.GetOrCreate(ctx, s.q,
		runID, pathID, int64(d.Owner), int64(d.Group), int64(d.Mode), d.ModTime)
}

func (s session) recordLink(ctx context.Context, runID int64, l Link) (int64, error) {
	pathID, err := s.c.Paths.GetOrCreate(ctx, s.q, l.Path)
	if err != nil {
		return 0, err
	}
	destID, err := s.c.Paths.GetOrCreate(ctx, s.q, l.Target)
	if err != nil {
		return 0, err
	}
	return s.c.links.GetOrCreate(ctx, s.q, runID, pathID, destID)
}

func (s session) recordFile(ctx context.Context, runID int64, f File) (int64, error) {
	pathID, err := s.c.Paths.GetOrCreate(ctx, s.q, f.Path)
	if err != nil {
		return 0, err
	}
	hashID, err := s.c.Hashes.GetOrCreate(ctx, s.q, f.Hash)
	if err != nil {
		return 0, err
	}
	return s.c.files.GetOrCreate(ctx, s.q,
		runID, pathID, int64(f.Owner), int64(f.Group), int64(f.Mode), f.Size, f.ModTime, hashID)
}

func (s session) findKnownHash(ctx context.Context, host, path string, size, mtime int64) (string, error) {
	hostID, err := s.c.Hosts.Lookup(ctx, s.q, host)
	if err != nil {
		return "", err
	}
	pathID, err := s.c.Paths.Lookup(ctx, s.q, path)
	if err != nil {
		return "", err
	}

	var hash string
	err = s.q.QueryRowContext(ctx, `SELECT h.filesha
		FROM file_v1 f
		JOIN run_v1 r ON f.run_id = r.id
		JOIN filesha_v1 h ON f.filesha_id = h.id
		WHERE r.host_id = ? AND f.filepath_id = ? AND f.filesize = ? AND f.filetime = ?
		ORDER BY r.starttime DESC, r.id DESC
		LIMIT 1`, hostID, pathID, size, mtime).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("known hash for %s:%s: %w", host, path, ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("failed to query known hash: %w", err)
	}
	return hash, nil
}

// RecordDirectory records a directory seen during runID and returns the
// observation id. Recording an identical observation again returns the same id.
func (c *Catalog) RecordDirectory(ctx context.Context, runID int64, d Directory) (id int64, err error) {
	err = c.write(ctx, func(s session) error {
		id, err = s.recordDirectory(ctx, runID, d)
		return err
	})
	return id, err
}

// RecordLink records a symbolic link seen during runID.
func (c *Catalog) RecordLink(ctx context.Context, runID int64, l Link) (id int64, err error) {
	err = c.write(ctx, func(s session) error {
		id, err = s.recordLink(ctx, runID, l)
		return err
	})
	return id, err
}

// RecordFile records a regular file seen during runID.
func (c *Catalog) RecordFile(ctx context.Context, runID int64, f File) (id int64, err error) {
	err = c.write(ctx, func(s session) error {
		id, err = s.recordFile(ctx, runID, f)
		return err
	})
	return id, err
}

// FindKnownHash returns the content hash recorded for host and path by the
// most recent run whose size and mtime match exactly. Unchanged size and mtime
// are trusted to mean unchanged content, so the caller may skip hashing.
// A miss returns ErrNotFound.
func (c *Catalog) FindKnownHash(ctx context.Context, host, path string, size, mtime int64) (string, error) {
	return c.reader().findKnownHash(ctx, host, path, size, mtime)
}

// RestoreDirectories lazily yields the directories of runID. With prefixes,
// it yields the matches of each prefix in turn, so overlapping prefixes
// repeat entries.
func (c *Catalog) RestoreDirectories(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[Directory, error] {
	return restore(ctx, c.db, scanDirectory, directoryColumns, "p", " ORDER BY d.id", runID, prefixes)
}

// RestoreLinks lazily yields the symbolic links of runID. Prefixes match the
// link path, not its target.
func (c *Catalog) RestoreLinks(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[Link, error] {
	return restore(ctx, c.db, scanLink, linkColumns, "s", " ORDER BY l.id", runID, prefixes)
}

// RestoreFiles lazily yields the regular files of runID.
func (c *Catalog) RestoreFiles(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[File, error] {
	return restore(ctx, c.db, scanFile, fileColumns, "p", " ORDER BY f.id", runID, prefixes)
}

// RestoreList lazily yields every observation of runID: directories, then
// links, then files.
func (c *Catalog) RestoreList(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[Entry, error] {
	return concat(
		entries(c.RestoreDirectories(ctx, runID, prefixes...)),
		entries(c.RestoreLinks(ctx, runID, prefixes...)),
		entries(c.RestoreFiles(ctx, runID, prefixes...)),
	)
}

func entries[T interface{ Entry() Entry }](seq iter.Seq2[T, error]) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for v, err := range seq {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(v.Entry(), nil) {
				return
			}
		}
	}
}

// CountObservations returns how many directories, links and files runID owns.
func (c *Catalog) CountObservations(ctx context.Context, runID int64) (Counts, error) {
	var counts Counts
	targets := []struct {
		table string
		dest  *int64
	}{
		{DirectoryTable.Name, &counts.Directories},
		{LinkTable.Name, &counts.Links},
		{FileTable.Name, &counts.Files},
	}
	for _, t := range targets {
		err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table+" WHERE run_id = ?", runID).Scan(t.dest)
		if err != nil {
			return Counts{}, fmt.Errorf("failed to count %s for run %d: %w", t.table, runID, err)
		}
	}
	return counts, nil
}

func (t *Tx) RecordDirectory(ctx context.Context, runID int64, d Directory) (int64, error) {
	return t.recordDirectory(ctx, runID, d)
}

func (t *Tx) RecordLink(ctx context.Context, runID int64, l Link) (int64, error) {
	return t.recordLink(ctx, runID, l)
}

func (t *Tx) RecordFile(ctx context.Context, runID int64, f File) (int64, error) {
	return t.recordFile(ctx, runID, f)
}

// FindKnownHash is Catalog.FindKnownHash inside the transaction, so hashes
// recorded earlier in the same run are visible.
func (t *Tx) FindKnownHash(ctx context.Context, host, path string, size, mtime int64) (string, error) {
	return t.findKnownHash(ctx, host, path, size, mtime)
}
