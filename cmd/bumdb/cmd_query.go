package main

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/ZanzyTHEbar/bumdb/bumdb/db"
	"github.com/ZanzyTHEbar/bumdb/bumdb/restore"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "2006-01-02 15:04:05"

// parseTime accepts RFC 3339 or a bare local date. Empty is the zero time.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", value)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

type cmdRuns struct {
	catalogFlag
	Host  string `long:"host" description:"Only list runs of this host"`
	Since string `long:"since" description:"Only list runs still going at or after this time"`
	Until string `long:"until" description:"Only list runs started at or before this time"`
}

func (cmd *cmdRuns) Execute([]string) error {
	s, err := cmd.setup()
	if err != nil {
		return err
	}
	filter := db.RunFilter{Host: cmd.Host}
	if filter.NotBefore, err = parseTime(cmd.Since); err != nil {
		return err
	}
	if filter.NotAfter, err = parseTime(cmd.Until); err != nil {
		return err
	}

	c, err := s.open(true, false, false)
	if err != nil {
		return err
	}
	defer c.Close()

	table := tablewriter.NewWriter(stdout)
	table.Header("ID", "Host", "Started", "Ended", "Status", "Age")
	for run, err := range c.ListRuns(ctx, filter) {
		if err != nil {
			return err
		}
		if err := table.Append(
			fmt.Sprint(run.ID),
			run.Host,
			formatTime(run.Start),
			formatTime(run.End),
			run.Status,
			humanize.Time(run.Start),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

type cmdSearch struct {
	catalogFlag
	Args struct {
		Terms []string `positional-arg-name:"TERM" required:"1" description:"Path substrings to look for"`
	} `positional-args:"yes"`
}

func (cmd *cmdSearch) Execute([]string) error {
	s, err := cmd.setup()
	if err != nil {
		return err
	}
	c, err := s.open(true, false, false)
	if err != nil {
		return err
	}
	defer c.Close()

	table := tablewriter.NewWriter(stdout)
	table.Header("Kind", "Run", "Host", "Started", "Path")
	for r, err := range c.Search(ctx, cmd.Args.Terms...) {
		if err != nil {
			return err
		}
		if err := table.Append(r.Kind.String(), fmt.Sprint(r.RunID), r.Host, formatTime(r.Timestamp), r.Path); err != nil {
			return err
		}
	}
	return table.Render()
}

type cmdRestore struct {
	catalogFlag
	Run  int64 `long:"run" required:"true" description:"Run to restore from"`
	Args struct {
		Prefixes []string `positional-arg-name:"PREFIX" description:"Path prefixes to restore"`
	} `positional-args:"yes"`
}

func (cmd *cmdRestore) Execute([]string) error {
	s, err := cmd.setup()
	if err != nil {
		return err
	}
	c, err := s.open(true, false, false)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := c.Run(ctx, cmd.Run)
	if err != nil {
		return err
	}
	plan, err := restore.Build(s.log.WithContext(ctx), c, run.ID, cmd.Args.Prefixes...)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(stdout)
	table.Header("Kind", "Path", "Mode", "Owner", "Size", "Modified", "Content")
	if err := appendPlan(table, plan); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	st := plan.Stats()
	fmt.Fprintf(stdout, "run %d of %s at %s: %d directories, %d links, %d files, %s\n",
		run.ID, run.Host, formatTime(run.Start),
		st.Directories, st.Links, st.Files, humanize.IBytes(uint64(st.Bytes)))
	return nil
}

type rowAppender interface {
	Append(rows ...any) error
}

// appendPlan adds one row per planned entry, in path order. It stops at the
// first rejected row.
func appendPlan(table rowAppender, plan *restore.Plan) error {
	var err error
	plan.Walk(func(e db.Entry) bool {
		row := []string{e.Kind.String(), e.Path, "", "", "", "", ""}
		switch e.Kind {
		case db.KindLink:
			row[6] = "-> " + e.Target
		case db.KindFile:
			row[4] = humanize.IBytes(uint64(e.Size))
			row[6] = e.Hash
			fallthrough
		default:
			row[2] = fs.FileMode(e.Mode & 0o7777).String()
			row[3] = fmt.Sprintf("%d:%d", e.Owner, e.Group)
			row[5] = formatTime(time.Unix(e.ModTime, 0))
		}
		err = table.Append(row)
		return err == nil
	})
	return err
}
