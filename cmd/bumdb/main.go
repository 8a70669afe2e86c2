package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	internal "github.com/ZanzyTHEbar/bumdb/bumdb"
	"github.com/ZanzyTHEbar/bumdb/bumdb/config"
	"github.com/ZanzyTHEbar/bumdb/bumdb/db"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
)

// Globals are accepted before or after any sub-command.
var Globals = new(struct {
	Config   string `long:"config" env:"BUMDB_CONFIG" description:"Path to a YAML config file"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error). Overrides log.level"`
})

// ctx is canceled on SIGINT or SIGTERM.
var ctx = context.Background()

// catalogFlag is embedded by every sub-command that opens a catalog.
type catalogFlag struct {
	Catalog string `long:"catalog" short:"c" description:"Catalog file or libSQL URL. Overrides catalog.path"`
}

// session is the resolved configuration of one sub-command invocation.
type session struct {
	cfg *config.Config
	log zerolog.Logger
	dsn string
}

func (f catalogFlag) setup() (*session, error) {
	cfg, err := config.LoadConfig(Globals.Config)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if Globals.LogLevel != "" {
		level = Globals.LogLevel
	}

	path := cfg.Catalog.Path
	if f.Catalog != "" {
		path = f.Catalog
	}
	s := &session{cfg: cfg, log: internal.NewLogger(level), dsn: db.DSN(path)}
	return s, nil
}

func (s *session) open(readOnly, create, reset bool) (*db.Catalog, error) {
	return openCatalog(s, s.dsn, db.Options{ReadOnly: readOnly, Create: create, Reset: reset})
}

func openCatalog(s *session, dsn string, opts db.Options) (*db.Catalog, error) {
	opts.BusyTimeout = s.cfg.Catalog.BusyTimeout()
	opts.Logger = &s.log
	c, err := db.Open(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("catalog", dsn).Str("id", c.Identity().String()).Bool("readOnly", opts.ReadOnly).Msg("catalog opened")
	return c, nil
}

func main() {
	var stop context.CancelFunc
	ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parser := flags.NewParser(Globals, flags.Default)
	parser.LongDescription = `bumdb maintains backup metadata catalogs: runs, and the directories,
links and files observed during each run.

Configure it with a config.yaml in the working directory or in ~/.config/bumdb,
with BUMDB_* environment variables, or with --config.`

	mustAddCmd(parser.Command, "init", "Create a catalog", `
Create the catalog schema. Existing data is kept unless --reset is given.
`, &cmdInit{})
	mustAddCmd(parser.Command, "integrate", "Merge catalogs into this one", `
Merge every run of each SOURCE catalog into the catalog. Merging is idempotent
and order independent. Each source run is committed as one transaction.
`, &cmdIntegrate{})
	mustAddCmd(parser.Command, "runs", "List runs", `
List runs overlapping the --since/--until window, optionally for one host.
Times are RFC 3339 or YYYY-MM-DD.
`, &cmdRuns{})
	mustAddCmd(parser.Command, "search", "Search paths", `
List every observation whose path contains a TERM. Matching is case sensitive.
`, &cmdSearch{})
	mustAddCmd(parser.Command, "restore", "Show the restore set of a run", `
List the directories, links and files of a run under each PREFIX, or all of
them when no prefix is given.
`, &cmdRestore{})
	mustAddCmd(parser.Command, "backup", "Copy the catalog", `
Write a consistent copy of the catalog into --dir, or catalog.backupDir.
`, &cmdBackup{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func mustAddCmd(cmd *flags.Command, name, short, long string, data any) *flags.Command {
	sub, err := cmd.AddCommand(name, short, long, data)
	if err != nil {
		log := internal.GetLogger()
		log.Fatal().Err(err).Str("command", name).Msg("failed to add command")
	}
	return sub
}
