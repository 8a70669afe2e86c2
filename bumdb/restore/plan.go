// Package restore builds the set of entries to restore for a run.
package restore

import (
	"context"
	"fmt"
	"iter"

	"github.com/ZanzyTHEbar/bumdb/bumdb/db"

	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
)

// Lister yields the restore list of a run. *db.Catalog implements it.
type Lister interface {
	RestoreList(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.Entry, error]
}

var _ Lister = (*db.Catalog)(nil)

// Stats summarizes a plan.
type Stats struct {
	Directories int
	Links       int
	Files       int
	Bytes       int64 // total size of files
	Duplicates  int   // entries dropped because an identical one was present
	Replaced    int   // entries superseded by a later observation of the same path
}

func (s Stats) Entries() int { return s.Directories + s.Links + s.Files }

// Plan is a restore set indexed by path. Each path appears once.
type Plan struct {
	RunID int64
	tree  *radix.Tree
	stats Stats
}

func New(runID int64) *Plan {
	return &Plan{RunID: runID, tree: radix.New()}
}

// Build collects the restore list of runID under prefixes into a plan.
// Overlapping prefixes yield the same entry more than once; the plan keeps one.
func Build(ctx context.Context, src Lister, runID int64, prefixes ...string) (*Plan, error) {
	p := New(runID)
	for e, err := range src.RestoreList(ctx, runID, prefixes...) {
		if err != nil {
			return nil, fmt.Errorf("failed to list run %d: %w", runID, err)
		}
		p.Add(e)
	}

	zerolog.Ctx(ctx).Debug().
		Int64("run", runID).
		Strs("prefixes", prefixes).
		Int("entries", p.Len()).
		Int("duplicates", p.stats.Duplicates).
		Msg("restore plan built")
	return p, nil
}

// Add indexes e and reports whether the plan changed. An entry identical to
// the one already held for its path is dropped; a different one replaces it.
func (p *Plan) Add(e db.Entry) bool {
	old, found := p.tree.Get(e.Path)
	if found {
		prev := old.(db.Entry)
		if prev == e {
			p.stats.Duplicates++
			return false
		}
		p.count(prev, -1)
		p.stats.Replaced++
	}
	p.tree.Insert(e.Path, e)
	p.count(e, 1)
	return true
}

func (p *Plan) count(e db.Entry, delta int) {
	switch e.Kind {
	case db.KindDirectory:
		p.stats.Directories += delta
	case db.KindLink:
		p.stats.Links += delta
	case db.KindFile:
		p.stats.Files += delta
		p.stats.Bytes += int64(delta) * e.Size
	}
}

func (p *Plan) Lookup(path string) (db.Entry, bool) {
	v, ok := p.tree.Get(path)
	if !ok {
		return db.Entry{}, false
	}
	return v.(db.Entry), true
}

// Walk calls fn for every entry in lexical path order, so a directory comes
// before its contents. Returning false stops the walk.
func (p *Plan) Walk(fn func(db.Entry) bool) {
	p.tree.Walk(func(_ string, v any) bool {
		return !fn(v.(db.Entry))
	})
}

// WalkPrefix is Walk restricted to paths beginning with prefix.
func (p *Plan) WalkPrefix(prefix string, fn func(db.Entry) bool) {
	p.tree.WalkPrefix(prefix, func(_ string, v any) bool {
		return !fn(v.(db.Entry))
	})
}

// Entries returns the plan in walk order.
func (p *Plan) Entries() []db.Entry {
	out := make([]db.Entry, 0, p.tree.Len())
	p.Walk(func(e db.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (p *Plan) Len() int { return p.tree.Len() }

func (p *Plan) Stats() Stats { return p.stats }
