package db

import (
	"context"
	"time"
)

// Recorder is the write surface used by crawlers and by catalog integration.
// Both Catalog (one transaction per call) and Tx implement it. Code holding a
// Tx must record through it; the Catalog methods wait for the Tx to finish.
type Recorder interface {
	OpenRun(ctx context.Context, host string, start time.Time) (int64, error)
	SetStatus(ctx context.Context, runID int64, status string) error
	SetEndTime(ctx context.Context, runID int64, end time.Time) error
	RecordDirectory(ctx context.Context, runID int64, d Directory) (int64, error)
	RecordLink(ctx context.Context, runID int64, l Link) (int64, error)
	RecordFile(ctx context.Context, runID int64, f File) (int64, error)
	FindKnownHash(ctx context.Context, host, path string, size, mtime int64) (string, error)
}

var (
	_ Recorder = (*Catalog)(nil)
	_ Recorder = (*Tx)(nil)
)
