package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mattjoyce/paratest/internal/doctor"
	"github.com/mattjoyce/paratest/internal/exitcodes"
	"github.com/mattjoyce/paratest/internal/history"
	"github.com/mattjoyce/paratest/internal/report"
	"github.com/mattjoyce/paratest/internal/storage"
	"github.com/mattjoyce/paratest/internal/workspace"
)

func showAction(c *cli.Context, flags *flagSet) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	setupLogging(cfg, flags.verbosity, c.App.ErrWriter)

	if !storage.Exists(cfg.History.Path) {
		fmt.Fprintf(c.App.ErrWriter, "No database was found at %s\n", cfg.History.Path)
		return cli.Exit("", exitcodes.ConfigError)
	}
	db, err := storage.OpenSQLite(c.Context, cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer db.Close()
	store := history.NewStore(db)

	if c.Bool(flagList) {
		runs, err := store.ListRuns(c.Context, 0)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(c.App.Writer, report.BuildRuns(runs))
		return err
	}

	var run *history.Run
	if id := c.String(flagRun); id != "" {
		run, err = store.GetRun(c.Context, id)
	} else {
		run, err = store.LatestRun(c.Context)
	}
	if errors.Is(err, history.ErrRunNotFound) {
		fmt.Fprintln(c.App.ErrWriter, "No recorded run was found")
		return cli.Exit("", exitcodes.ConfigError)
	}
	if err != nil {
		return err
	}

	tests, err := store.TestsForRun(c.Context, run.ID)
	if err != nil {
		return err
	}
	r := report.New(run, tests)

	if c.Bool(flagJSON) {
		out, err := report.BuildJSON(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, out)
		return err
	}
	_, err = fmt.Fprint(c.App.Writer, report.Build(r, report.WithColor(c.Bool(flagColor))))
	return err
}

func doctorAction(c *cli.Context, flags *flagSet) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg, flags.verbosity, c.App.ErrWriter)
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	result := doctor.New(cfg, reg).Validate()
	if c.Bool(flagJSON) {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, out)
	} else {
		fmt.Fprint(c.App.Writer, doctor.FormatHuman(result))
	}
	if !result.Valid {
		return cli.Exit("", exitcodes.ConfigError)
	}
	return nil
}

func cleanAction(c *cli.Context, flags *flagSet) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg, flags.verbosity, c.App.ErrWriter)

	ws, err := workspace.NewFSManager(cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	rep, err := ws.Cleanup(c.Context, c.Duration(flagOlderThan))
	if err != nil {
		return err
	}
	logger.Info("workspaces cleaned", "root", ws.Root(), "deleted", rep.DeletedDirs)
	_, err = fmt.Fprintf(c.App.Writer, "Removed %d run workspace(s) from %s\n", rep.DeletedDirs, ws.Root())
	return err
}
