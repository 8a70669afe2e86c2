package integrate

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/bumdb/bumdb/db"

	"github.com/google/uuid"
)

// MemorySource is an in-memory Source, for feeding observations gathered
// outside a catalog file into an integration.
type MemorySource struct {
	mu   sync.Mutex
	name string
	id   uuid.UUID
	runs []*memoryRun
}

type memoryRun struct {
	run         db.Run
	directories []db.Directory
	links       []db.Link
	files       []db.File
}

func NewMemorySource(name string) *MemorySource {
	return &MemorySource{name: name, id: uuid.New()}
}

func (m *MemorySource) Name() string        { return m.name }
func (m *MemorySource) Identity() uuid.UUID { return m.id }

// AddRun appends a run and returns its id. Ids start at 1.
func (m *MemorySource) AddRun(host string, start, end time.Time, status string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.runs) + 1)
	m.runs = append(m.runs, &memoryRun{run: db.Run{
		ID: id, Host: host, Start: start, End: end, Status: status,
	}})
	return id
}

func (m *MemorySource) runLocked(runID int64) (*memoryRun, error) {
	if runID < 1 || runID > int64(len(m.runs)) {
		return nil, fmt.Errorf("run %d: %w", runID, db.ErrNotFound)
	}
	return m.runs[runID-1], nil
}

func (m *MemorySource) AddDirectory(runID int64, d db.Directory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.runLocked(runID)
	if err != nil {
		return err
	}
	r.directories = append(r.directories, d)
	return nil
}

func (m *MemorySource) AddLink(runID int64, l db.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.runLocked(runID)
	if err != nil {
		return err
	}
	r.links = append(r.links, l)
	return nil
}

func (m *MemorySource) AddFile(runID int64, f db.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.runLocked(runID)
	if err != nil {
		return err
	}
	r.files = append(r.files, f)
	return nil
}

func (m *MemorySource) CountRuns(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.runs)), nil
}

func (m *MemorySource) Runs(ctx context.Context) iter.Seq2[db.Run, error] {
	return func(yield func(db.Run, error) bool) {
		m.mu.Lock()
		runs := make([]db.Run, len(m.runs))
		for i, r := range m.runs {
			runs[i] = r.run
		}
		m.mu.Unlock()

		for _, r := range runs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *MemorySource) CountObservations(ctx context.Context, runID int64) (db.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.runLocked(runID)
	if err != nil {
		return db.Counts{}, err
	}
	return db.Counts{
		Directories: int64(len(r.directories)),
		Links:       int64(len(r.links)),
		Files:       int64(len(r.files)),
	}, nil
}

func (m *MemorySource) RestoreDirectories(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.Directory, error] {
	return restoreFrom(m, runID, prefixes, func(r *memoryRun) []db.Directory { return r.directories },
		func(d db.Directory) string { return d.Path })
}

func (m *MemorySource) RestoreLinks(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.Link, error] {
	return restoreFrom(m, runID, prefixes, func(r *memoryRun) []db.Link { return r.links },
		func(l db.Link) string { return l.Path })
}

func (m *MemorySource) RestoreFiles(ctx context.Context, runID int64, prefixes ...string) iter.Seq2[db.File, error] {
	return restoreFrom(m, runID, prefixes, func(r *memoryRun) []db.File { return r.files },
		func(f db.File) string { return f.Path })
}

// restoreFrom yields the observations of a run matching each prefix in turn,
// or all of them when no prefix is given.
func restoreFrom[T any](m *MemorySource, runID int64, prefixes []string, rows func(*memoryRun) []T, path func(T) string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		m.mu.Lock()
		r, err := m.runLocked(runID)
		var snapshot []T
		if err == nil {
			snapshot = append(snapshot, rows(r)...)
		}
		m.mu.Unlock()

		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		match := prefixes
		if len(match) == 0 {
			match = []string{""}
		}
		for _, prefix := range match {
			for _, v := range snapshot {
				if !strings.HasPrefix(path(v), prefix) {
					continue
				}
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}
