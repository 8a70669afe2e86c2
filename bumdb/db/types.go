package db

import "time"

// StatusSetup is assigned to every run when it is opened.
const StatusSetup = "Setup"

// Run is one backup execution for one host.
type Run struct {
	ID     int64
	Host   string
	Start  time.Time
	End    time.Time // zero while the run is in progress
	Status string
}

// Finished reports whether an end time has been recorded.
func (r Run) Finished() bool { return !r.End.IsZero() }

// RunFilter selects runs by host and by overlap of the run window with
// [NotBefore, NotAfter]. Zero times default to the epoch and to now.
type RunFilter struct {
	Host      string
	NotBefore time.Time
	NotAfter  time.Time
}

// Directory is a directory observation. ModTime is in Unix seconds.
type Directory struct {
	Path    string
	Owner   uint32
	Group   uint32
	Mode    uint32
	ModTime int64
}

// File is a regular file observation. Hash is the opaque content digest
// supplied by the crawler.
type File struct {
	Path    string
	Owner   uint32
	Group   uint32
	Mode    uint32
	Size    int64
	ModTime int64
	Hash    string
}

// Link is a symbolic link observation.
type Link struct {
	Path   string
	Target string
}

// Kind tags the snapshot table an observation belongs to.
type Kind int

const (
	KindDirectory Kind = iota
	KindFile
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "Directory"
	case KindFile:
		return "File"
	case KindLink:
		return "Link"
	default:
		return "Unknown"
	}
}

// Entry is any observation flattened for restore planning. Fields that do not
// apply to the Kind are zero.
type Entry struct {
	Kind    Kind
	Path    string
	Target  string
	Owner   uint32
	Group   uint32
	Mode    uint32
	Size    int64
	ModTime int64
	Hash    string
}

func (d Directory) Entry() Entry {
	return Entry{Kind: KindDirectory, Path: d.Path, Owner: d.Owner, Group: d.Group, Mode: d.Mode, ModTime: d.ModTime}
}

func (f File) Entry() Entry {
	return Entry{Kind: KindFile, Path: f.Path, Owner: f.Owner, Group: f.Group, Mode: f.Mode, Size: f.Size, ModTime: f.ModTime, Hash: f.Hash}
}

func (l Link) Entry() Entry {
	return Entry{Kind: KindLink, Path: l.Path, Target: l.Target}
}

// Counts holds observation totals for one run.
type Counts struct {
	Directories int64
	Links       int64
	Files       int64
}

func (c Counts) Total() int64 { return c.Directories + c.Links + c.Files }

// SearchResult is one match of a search term. Timestamp is the start of the
// run the observation belongs to, and zero for links.
type SearchResult struct {
	Kind      Kind
	RunID     int64
	Host      string
	Timestamp time.Time
	Path      string
}

func unixOrZero(sec int64, valid bool) time.Time {
	if !valid {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
