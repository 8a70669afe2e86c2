// Package integrate merges independently populated backup catalogs into one.
package integrate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"

	internal "github.com/ZanzyTHEbar/bumdb/bumdb"
	"github.com/ZanzyTHEbar/bumdb/bumdb/db"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// ErrSelfIntegration is returned when a source is the destination catalog.
var ErrSelfIntegration = errors.New("cannot integrate a catalog into itself")

// Source is a catalog whose runs can be merged into another. *db.Catalog
// implements it.
type Source interface {
	Name() string
	Identity() uuid.UUID
	CountRuns(ctx context.Context) (int64, error)
	Runs(ctx context.Context) iter.Seq2[db.Run, error]
	CountObservations(ctx context.Context, runID int64) (db.Counts, error)
	RestoreDirectories(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.Directory, error]
	RestoreLinks(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.Link, error]
	RestoreFiles(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.File, error]
}

var _ Source = (*db.Catalog)(nil)

// Progress describes how far a merge has come. Run is 1-based within the
// source; Done and Total count observations of Kind within that run.
type Progress struct {
	Source string
	Host   string
	Run    int
	Runs   int64
	Kind   db.Kind
	Done   int64
	Total  int64
}

type ProgressFunc func(Progress)

// Report summarizes an integration.
type Report struct {
	Sources     int
	Runs        *roaring64.Bitmap // destination run ids written
	Directories int64
	Links       int64
	Files       int64
}

// Integrator merges sources into a destination catalog, one transaction per
// source run.
type Integrator struct {
	dest        *db.Catalog
	log         zerolog.Logger
	interval    int64
	progress    ProgressFunc
	maxPrefetch int
}

type Option func(*Integrator)

func WithLogger(log zerolog.Logger) Option {
	return func(in *Integrator) { in.log = log }
}

// WithProgressInterval sets how many observations pass between progress reports.
func WithProgressInterval(n int) Option {
	return func(in *Integrator) {
		if n > 0 {
			in.interval = int64(n)
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(in *Integrator) { in.progress = fn }
}

// New returns an Integrator writing into dest, which must be open for writing
// with its schema created.
func New(dest *db.Catalog, opts ...Option) *Integrator {
	in := &Integrator{
		dest:        dest,
		log:         zerolog.Nop(),
		interval:    int64(internal.DefaultProgressInterval),
		maxPrefetch: min(max(runtime.NumCPU(), 2), 8),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Integrate merges every run of every source, in order, into the destination.
// Hosts, paths, hashes and statuses are re-resolved against the destination
// dictionaries, and runs are matched on (host, start time), so re-running an
// integration changes nothing. A failure rolls back the run in flight and
// stops; runs committed before it are kept.
func (in *Integrator) Integrate(ctx context.Context, sources ...Source) (*Report, error) {
	report := &Report{Sources: len(sources), Runs: roaring64.New()}

	for _, src := range sources {
		if id := src.Identity(); id != uuid.Nil && id == in.dest.Identity() {
			return report, fmt.Errorf("%s: %w", src.Name(), ErrSelfIntegration)
		}
	}

	totals, err := in.prefetch(ctx, sources)
	if err != nil {
		return report, err
	}

	for i, src := range sources {
		log := in.log.With().Str("source", src.Name()).Logger()
		log.Info().Int64("runs", totals[i]).Msg("integrating catalog")

		merged, err := in.integrateSource(ctx, log, src, totals[i], report)
		if err != nil {
			return report, fmt.Errorf("failed to integrate %s: %w", src.Name(), err)
		}
		if err := in.dest.RecordIntegration(ctx, src.Identity(), src.Name(), merged); err != nil {
			return report, err
		}
	}

	in.log.Info().
		Int("sources", report.Sources).
		Uint64("runs", report.Runs.GetCardinality()).
		Int64("directories", report.Directories).
		Int64("links", report.Links).
		Int64("files", report.Files).
		Msg("integration complete")
	return report, nil
}

// prefetch counts the runs of every source concurrently.
func (in *Integrator) prefetch(ctx context.Context, sources []Source) ([]int64, error) {
	totals := make([]int64, len(sources))
	p := pool.New().WithMaxGoroutines(in.maxPrefetch).WithContext(ctx)
	for i, src := range sources {
		p.Go(func(ctx context.Context) error {
			n, err := src.CountRuns(ctx)
			if err != nil {
				return fmt.Errorf("failed to count runs of %s: %w", src.Name(), err)
			}
			totals[i] = n
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (in *Integrator) integrateSource(ctx context.Context, log zerolog.Logger, src Source, total int64, report *Report) (int, error) {
	position := 0
	for run, err := range src.Runs(ctx) {
		if err != nil {
			return position, err
		}
		position++
		if err := in.integrateRun(ctx, log, src, run, position, total, report); err != nil {
			return position, fmt.Errorf("run %d (%s at %s): %w", run.ID, run.Host, run.Start, err)
		}
	}
	return position, nil
}

func (in *Integrator) integrateRun(ctx context.Context, log zerolog.Logger, src Source, run db.Run, position int, total int64, report *Report) error {
	counts, err := src.CountObservations(ctx, run.ID)
	if err != nil {
		return err
	}
	log.Info().
		Int("run", position).
		Int64("of", total).
		Str("host", run.Host).
		Int64("directories", counts.Directories).
		Int64("links", counts.Links).
		Int64("files", counts.Files).
		Msg("integrating run")

	tx, err := in.dest.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	destID, err := tx.OpenRun(ctx, run.Host, run.Start)
	if err != nil {
		return err
	}
	if err := tx.SetStatus(ctx, destID, run.Status); err != nil {
		return err
	}
	if err := tx.SetEndTime(ctx, destID, run.End); err != nil {
		return err
	}

	base := Progress{Source: src.Name(), Host: run.Host, Run: position, Runs: total}

	dirs, err := copyAll(ctx, in, base, db.KindDirectory, counts.Directories,
		src.RestoreDirectories(ctx, run.ID),
		func(d db.Directory) error {
			_, err := tx.RecordDirectory(ctx, destID, d)
			return err
		})
	if err != nil {
		return err
	}

	links, err := copyAll(ctx, in, base, db.KindLink, counts.Links,
		src.RestoreLinks(ctx, run.ID),
		func(l db.Link) error {
			_, err := tx.RecordLink(ctx, destID, l)
			return err
		})
	if err != nil {
		return err
	}

	files, err := copyAll(ctx, in, base, db.KindFile, counts.Files,
		src.RestoreFiles(ctx, run.ID),
		func(f db.File) error {
			_, err := tx.RecordFile(ctx, destID, f)
			return err
		})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	// only committed runs count
	report.Runs.Add(uint64(destID))
	report.Directories += dirs
	report.Links += links
	report.Files += files
	return nil
}

// copyAll records every observation of seq, reporting progress every
// interval observations and once at the end.
func copyAll[T any](ctx context.Context, in *Integrator, base Progress, kind db.Kind, total int64, seq iter.Seq2[T, error], record func(T) error) (int64, error) {
	var done int64
	for v, err := range seq {
		if err != nil {
			return done, err
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := record(v); err != nil {
			return done, fmt.Errorf("failed to record %s: %w", kind, err)
		}
		done++
		if done%in.interval == 0 {
			in.report(base, kind, done, total)
		}
	}
	in.report(base, kind, done, total)
	return done, nil
}

func (in *Integrator) report(base Progress, kind db.Kind, done, total int64) {
	p := base
	p.Kind = kind
	p.Done = done
	p.Total = total

	in.log.Debug().
		Str("host", p.Host).
		Int("run", p.Run).
		Int64("runs", p.Runs).
		Stringer("kind", kind).
		Int64("done", done).
		Int64("total", total).
		Msg("progress")
	if in.progress != nil {
		in.progress(p)
	}
}

// Integrate merges sources into dest with default options.
func Integrate(ctx context.Context, dest *db.Catalog, sources ...Source) error {
	_, err := New(dest).Integrate(ctx, sources...)
	return err
}
