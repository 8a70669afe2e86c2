package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	first, err := c.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)
	second, err := c.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := c.CountRuns(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	run, err := c.Run(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "alpha", run.Host)
	assert.Equal(t, epoch, run.Start)
	assert.Equal(t, StatusSetup, run.Status)
	assert.False(t, run.Finished())
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	runID, err := c.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)

	require.NoError(t, c.SetStatus(ctx, runID, "Running"))
	require.NoError(t, c.SetStatus(ctx, runID, "Complete"))
	require.NoError(t, c.SetEndTime(ctx, runID, epoch.Add(time.Hour)))
	// last write wins
	require.NoError(t, c.SetEndTime(ctx, runID, epoch.Add(2*time.Hour)))

	run, err := c.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "Complete", run.Status)
	assert.Equal(t, epoch.Add(2*time.Hour), run.End)
	assert.True(t, run.Finished())

	// re-opening a finished run puts it back in setup
	again, err := c.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)
	assert.Equal(t, runID, again)
	run, err = c.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, StatusSetup, run.Status)
}

func TestRunUnknownID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	_, err := c.Run(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.SetStatus(ctx, 42, "Complete"), ErrNotFound)
	assert.ErrorIs(t, c.SetEndTime(ctx, 42, epoch), ErrNotFound)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)

	type seed struct {
		host  string
		start time.Time
		end   time.Time
	}
	seeds := []seed{
		{"beta", epoch.Add(48 * time.Hour), epoch.Add(49 * time.Hour)},
		{"alpha", epoch, epoch.Add(time.Hour)},
		{"alpha", epoch.Add(24 * time.Hour), epoch.Add(25 * time.Hour)},
		{"alpha", epoch.Add(72 * time.Hour), time.Time{}},
	}
	for _, s := range seeds {
		runID, err := c.OpenRun(ctx, s.host, s.start)
		require.NoError(t, err)
		require.NoError(t, c.SetEndTime(ctx, runID, s.end))
	}

	starts := func(filter RunFilter) []time.Time {
		runs, err := Collect(c.ListRuns(ctx, filter))
		require.NoError(t, err)
		var out []time.Time
		for _, r := range runs {
			out = append(out, r.Start)
		}
		return out
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []time.Time
	}{
		{
			name:   "all runs ordered by start",
			filter: RunFilter{},
			want:   []time.Time{epoch, epoch.Add(24 * time.Hour), epoch.Add(48 * time.Hour), epoch.Add(72 * time.Hour)},
		},
		{
			name:   "host filter",
			filter: RunFilter{Host: "beta"},
			want:   []time.Time{epoch.Add(48 * time.Hour)},
		},
		{
			name:   "window overlaps run end",
			filter: RunFilter{NotBefore: epoch.Add(30 * time.Minute), NotAfter: epoch.Add(12 * time.Hour)},
			want:   []time.Time{epoch},
		},
		{
			name:   "unfinished run extends to now",
			filter: RunFilter{Host: "alpha", NotBefore: epoch.Add(100 * time.Hour)},
			want:   []time.Time{epoch.Add(72 * time.Hour)},
		},
		{
			name:   "window before every run",
			filter: RunFilter{NotAfter: epoch.Add(-time.Hour)},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, starts(tt.filter))
		})
	}
}

func TestListRunsIsRestartable(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalog(t)
	for i := range 3 {
		_, err := c.OpenRun(ctx, "alpha", epoch.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	seq := c.ListRuns(ctx, RunFilter{})
	first, err := Collect(seq)
	require.NoError(t, err)
	second, err := Collect(seq)
	require.NoError(t, err)
	assert.Len(t, first, 3)
	assert.Equal(t, first, second)

	// stopping early releases the cursor
	seen := 0
	for _, err := range seq {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestReadOnlyRunLedger(t *testing.T) {
	ctx := context.Background()
	c, path := newTestCatalog(t)
	runID, err := c.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)

	ro := openReadOnly(t, path)
	found, err := ro.OpenRun(ctx, "alpha", epoch)
	require.NoError(t, err)
	assert.Equal(t, runID, found)

	_, err = ro.OpenRun(ctx, "alpha", epoch.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ro.OpenRun(ctx, "gamma", epoch)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, ro.SetStatus(ctx, runID, "Complete"), ErrReadOnly)
	assert.ErrorIs(t, ro.SetEndTime(ctx, runID, epoch), ErrReadOnly)
	_, err = ro.Begin(ctx)
	assert.ErrorIs(t, err, ErrReadOnly)
}
