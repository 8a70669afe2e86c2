package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/bumdb/bumdb/db"
	"github.com/ZanzyTHEbar/bumdb/bumdb/restore"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CLITestSuite struct {
	suite.Suite
	dir     string
	catalog string
	out     *bytes.Buffer
}

func TestCLITestSuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func (s *CLITestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.catalog = filepath.Join(s.dir, "catalog.db")

	cfg := fmt.Sprintf("catalog:\n  path: %s\n  backupDir: %s\nlog:\n  level: error\n",
		s.catalog, filepath.Join(s.dir, "backups"))
	path := filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(cfg), 0o644))
	Globals.Config = path
	Globals.LogLevel = ""

	s.out = new(bytes.Buffer)
	stdout = s.out
}

func (s *CLITestSuite) TearDownTest() {
	Globals.Config = ""
	stdout = os.Stdout
}

// seed records one finished run of host on the catalog at path.
func (s *CLITestSuite) seed(path, host string, start time.Time) int64 {
	c, err := db.Open(context.Background(), path, db.Options{Create: true, BusyTimeout: time.Second})
	s.Require().NoError(err)
	defer c.Close()

	ctx := context.Background()
	runID, err := c.OpenRun(ctx, host, start)
	s.Require().NoError(err)
	_, err = c.RecordDirectory(ctx, runID, db.Directory{Path: "/etc", Mode: 0o755})
	s.Require().NoError(err)
	_, err = c.RecordLink(ctx, runID, db.Link{Path: "/etc/localtime", Target: "/usr/share/zoneinfo/UTC"})
	s.Require().NoError(err)
	_, err = c.RecordFile(ctx, runID, db.File{Path: "/etc/passwd", Mode: 0o644, Size: 2048, Hash: "a1b2c3"})
	s.Require().NoError(err)
	s.Require().NoError(c.SetStatus(ctx, runID, "Complete"))
	s.Require().NoError(c.SetEndTime(ctx, runID, start.Add(time.Minute)))
	return runID
}

func (s *CLITestSuite) TestInit() {
	s.Require().NoError((&cmdInit{}).Execute(nil))
	id := strings.TrimSpace(s.out.String())
	s.Len(id, 36)
	s.FileExists(s.catalog)

	// init again keeps the identity
	s.out.Reset()
	s.Require().NoError((&cmdInit{}).Execute(nil))
	s.Equal(id, strings.TrimSpace(s.out.String()))

	s.out.Reset()
	s.Require().NoError((&cmdInit{Reset: true}).Execute(nil))
	s.NotEqual(id, strings.TrimSpace(s.out.String()))
}

func (s *CLITestSuite) TestRunsAndSearch() {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.seed(s.catalog, "alpha", start)
	s.seed(s.catalog, "beta", start.Add(48*time.Hour))

	s.Require().NoError((&cmdRuns{}).Execute(nil))
	s.Contains(s.out.String(), "alpha")
	s.Contains(s.out.String(), "beta")
	s.Contains(s.out.String(), "Complete")

	s.out.Reset()
	s.Require().NoError((&cmdRuns{Host: "beta"}).Execute(nil))
	s.NotContains(s.out.String(), "alpha")
	s.Contains(s.out.String(), "beta")

	s.out.Reset()
	s.Require().NoError((&cmdRuns{Until: "2024-03-02T00:00:00Z"}).Execute(nil))
	s.Contains(s.out.String(), "alpha")
	s.NotContains(s.out.String(), "beta")

	s.Error((&cmdRuns{Since: "last tuesday"}).Execute(nil))

	s.out.Reset()
	search := &cmdSearch{}
	search.Args.Terms = []string{"passwd"}
	s.Require().NoError(search.Execute(nil))
	s.Equal(2, strings.Count(s.out.String(), "/etc/passwd"))
}

func (s *CLITestSuite) TestRestore() {
	runID := s.seed(s.catalog, "alpha", time.Unix(1700000000, 0))

	cmd := &cmdRestore{Run: runID}
	cmd.Args.Prefixes = []string{"/etc/p", "/etc/passwd"}
	s.Require().NoError(cmd.Execute(nil))

	out := s.out.String()
	s.Equal(1, strings.Count(out, "/etc/passwd"), "overlapping prefixes collapse")
	s.NotContains(out, "/etc/localtime")
	s.Contains(out, "2.0 KiB")
	s.Contains(out, "0 directories, 0 links, 1 files")

	s.ErrorIs((&cmdRestore{Run: runID + 100}).Execute(nil), db.ErrNotFound)
}

func (s *CLITestSuite) TestIntegrateAndBackup() {
	agent := filepath.Join(s.dir, "agent.db")
	s.seed(agent, "alpha", time.Unix(1700000000, 0))
	s.seed(agent, "alpha", time.Unix(1700086400, 0))

	cmd := &cmdIntegrate{}
	cmd.Args.Sources = []string{agent}
	s.Require().NoError(cmd.Execute(nil))

	c, err := db.Open(context.Background(), s.catalog, db.Options{ReadOnly: true})
	s.Require().NoError(err)
	n, err := c.CountRuns(context.Background())
	s.Require().NoError(err)
	s.EqualValues(2, n)
	s.Require().NoError(c.Close())

	s.out.Reset()
	s.Require().NoError((&cmdBackup{}).Execute(nil))
	backup := strings.TrimSpace(s.out.String())
	s.Equal(filepath.Join(s.dir, "backups"), filepath.Dir(backup))
	s.FileExists(backup)
}

// rejectingTable accepts limit rows and then fails.
type rejectingTable struct {
	limit int
	rows  [][]string
}

var errRejected = errors.New("row rejected")

func (t *rejectingTable) Append(rows ...any) error {
	if len(t.rows) == t.limit {
		return errRejected
	}
	t.rows = append(t.rows, rows[0].([]string))
	return nil
}

func TestAppendPlan(t *testing.T) {
	plan := restore.New(1)
	plan.Add(db.Directory{Path: "/etc", Mode: 0o755}.Entry())
	plan.Add(db.Link{Path: "/etc/localtime", Target: "/usr/share/zoneinfo/UTC"}.Entry())
	plan.Add(db.File{Path: "/etc/passwd", Mode: 0o644, Size: 2048, Hash: "a1b2c3"}.Entry())

	all := &rejectingTable{limit: 3}
	require.NoError(t, appendPlan(all, plan))
	require.Len(t, all.rows, 3)
	assert.Equal(t, "-> /usr/share/zoneinfo/UTC", all.rows[1][6])
	assert.Equal(t, "2.0 KiB", all.rows[2][4])

	short := &rejectingTable{limit: 1}
	assert.ErrorIs(t, appendPlan(short, plan), errRejected)
	assert.Len(t, short.rows, 1, "walk stops at the first rejected row")
}

func TestMustAddCmd(t *testing.T) {
	parser := flags.NewParser(&struct{}{}, flags.Default)
	sub := mustAddCmd(parser.Command, "runs", "List runs", "", &cmdRuns{})
	require.NotNil(t, sub)
	assert.Equal(t, "runs", sub.Name)
	assert.Same(t, sub, parser.Find("runs"))
}

func TestParseTime(t *testing.T) {
	zero, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	rfc, err := parseTime("2024-03-01T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1709294400), rfc.Unix())

	day, err := parseTime("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local), day)

	_, err = parseTime("03/01/2024")
	assert.Error(t, err)
}
