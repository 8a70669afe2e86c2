package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ZanzyTHEbar/bumdb/bumdb/db"
	"github.com/ZanzyTHEbar/bumdb/bumdb/integrate"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

var stdout io.Writer = os.Stdout

type cmdInit struct {
	catalogFlag
	Reset bool `long:"reset" description:"Drop every table before creating it"`
}

func (cmd *cmdInit) Execute([]string) error {
	s, err := cmd.setup()
	if err != nil {
		return err
	}
	c, err := s.open(false, true, cmd.Reset)
	if err != nil {
		return err
	}
	defer c.Close()

	s.log.Info().Str("catalog", c.Name()).Str("id", c.Identity().String()).Bool("reset", cmd.Reset).Msg("catalog ready")
	fmt.Fprintln(stdout, c.Identity())
	return nil
}

type cmdBackup struct {
	catalogFlag
	Dir string `long:"dir" description:"Directory to write the copy into. Overrides catalog.backupDir"`
}

func (cmd *cmdBackup) Execute([]string) error {
	s, err := cmd.setup()
	if err != nil {
		return err
	}
	dir := s.cfg.Catalog.BackupDir
	if cmd.Dir != "" {
		dir = cmd.Dir
	}

	c, err := s.open(false, false, false)
	if err != nil {
		return err
	}
	defer c.Close()

	path, err := c.Backup(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, path)
	return nil
}

type cmdIntegrate struct {
	catalogFlag
	Args struct {
		Sources []string `positional-arg-name:"SOURCE" required:"1" description:"Catalogs to merge"`
	} `positional-args:"yes"`
}

func (cmd *cmdIntegrate) Execute([]string) error {
	s, err := cmd.setup()
	if err != nil {
		return err
	}
	dest, err := s.open(false, true, false)
	if err != nil {
		return err
	}
	defer dest.Close()

	sources := make([]integrate.Source, 0, len(cmd.Args.Sources))
	for _, path := range cmd.Args.Sources {
		src, err := openCatalog(s, db.DSN(path), db.Options{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("failed to open source %s: %w", path, err)
		}
		defer src.Close()
		sources = append(sources, src)
	}

	in := integrate.New(dest,
		integrate.WithLogger(s.log),
		integrate.WithProgressInterval(s.cfg.Integrate.ProgressInterval),
	)
	report, err := in.Integrate(ctx, sources...)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(stdout)
	table.Header("Sources", "Runs", "Directories", "Links", "Files")
	if err := table.Append(
		fmt.Sprint(report.Sources),
		humanize.Comma(int64(report.Runs.GetCardinality())),
		humanize.Comma(report.Directories),
		humanize.Comma(report.Links),
		humanize.Comma(report.Files),
	); err != nil {
		return err
	}
	return table.Render()
}
