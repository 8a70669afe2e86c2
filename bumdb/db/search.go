package db

import (
	"context"
	"database/sql"
	"iter"
)

// instr is case-sensitive, unlike LIKE
const (
	searchDirectories = `SELECT r.id, h.host, r.starttime, p.filepath
	FROM directory_v1 d
	JOIN filepath_v1 p ON d.filepath_id = p.id
	JOIN run_v1 r ON d.run_id = r.id
	JOIN host_v1 h ON r.host_id = h.id
	WHERE instr(p.filepath, ?) > 0
	ORDER BY r.starttime ASC, d.id ASC`
	searchLinks = `SELECT r.id, h.host, p.filepath
	FROM link_v1 l
	JOIN filepath_v1 p ON l.filepath_id = p.id
	JOIN run_v1 r ON l.run_id = r.id
	JOIN host_v1 h ON r.host_id = h.id
	WHERE instr(p.filepath, ?) > 0
	ORDER BY l.id ASC`
	searchFiles = `SELECT r.id, h.host, r.starttime, p.filepath
	FROM file_v1 f
	JOIN filepath_v1 p ON f.filepath_id = p.id
	JOIN run_v1 r ON f.run_id = r.id
	JOIN host_v1 h ON r.host_id = h.id
	WHERE instr(p.filepath, ?) > 0
	ORDER BY r.starttime ASC, f.id ASC`
)

func scanTimedResult(kind Kind) func(*sql.Rows) (SearchResult, error) {
	return func(rows *sql.Rows) (SearchResult, error) {
		res := SearchResult{Kind: kind}
		var ts int64
		if err := rows.Scan(&res.RunID, &res.Host, &ts, &res.Path); err != nil {
			return SearchResult{}, err
		}
		res.Timestamp = unixOrZero(ts, true)
		return res, nil
	}
}

func scanLinkResult(rows *sql.Rows) (SearchResult, error) {
	res := SearchResult{Kind: KindLink}
	err := rows.Scan(&res.RunID, &res.Host, &res.Path)
	return res, err
}

// Search lazily yields every directory, link and file whose path contains one
// of terms. For each term, directory matches come first, then links, then
// files. Results are not de-duplicated across terms.
func (c *Catalog) Search(ctx context.Context, terms ...string) iter.Seq2[SearchResult, error] {
	seqs := make([]iter.Seq2[SearchResult, error], 0, 3*len(terms))
	for _, term := range terms {
		seqs = append(seqs,
			stream(ctx, c.db, scanTimedResult(KindDirectory), searchDirectories, term),
			stream(ctx, c.db, scanLinkResult, searchLinks, term),
			stream(ctx, c.db, scanTimedResult(KindFile), searchFiles, term),
		)
	}
	return concat(seqs...)
}
