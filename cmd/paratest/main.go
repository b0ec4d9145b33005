package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v2"

	"github.com/mattjoyce/paratest/internal/exitcodes"
	"github.com/mattjoyce/paratest/internal/orchestrator"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(context.Background(), os.Args, os.Stdout, os.Stderr))
}

// runCLI runs the app and maps its error onto a process exit code.
func runCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, args)
	code := exitCode(err)
	if err != nil && err.Error() != "" {
		fmt.Fprintf(stderr, "paratest: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if orchestrator.IsAbort(err) {
		return exitcodes.Abort
	}
	return exitcodes.ConfigError
}

func newApp(stdout, stderr io.Writer) *cli.App {
	flags := &flagSet{}
	return &cli.App{
		Name:                   "paratest",
		Usage:                  "Run a test plugin's tests across parallel workers",
		Version:                version,
		HideVersion:            true,
		Writer:                 stdout,
		ErrWriter:              stderr,
		UseShortOptionHandling: true,
		// Exit codes are mapped by runCLI; never let the library call os.Exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:   "plugins",
				Usage:  "List resolvable plugin names",
				Flags:  append(flags.common(), flags.plugins()...),
				Action: func(c *cli.Context) error { return pluginsAction(c, flags) },
			},
			{
				Name:                   "run",
				Usage:                  "Discover tests with a plugin and run them in parallel",
				Flags:                  flags.run(),
				UseShortOptionHandling: true,
				Action:                 func(c *cli.Context) error { return runAction(c, flags) },
			},
			{
				Name:                   "show",
				Usage:                  "Print the report of a recorded run",
				Flags:                  flags.show(),
				UseShortOptionHandling: true,
				Action:                 func(c *cli.Context) error { return showAction(c, flags) },
			},
			{
				Name:                   "doctor",
				Usage:                  "Validate the effective configuration without running anything",
				Flags:                  flags.doctor(),
				UseShortOptionHandling: true,
				Action:                 func(c *cli.Context) error { return doctorAction(c, flags) },
			},
			{
				Name:                   "clean",
				Usage:                  "Remove old run workspaces",
				Flags:                  flags.clean(),
				UseShortOptionHandling: true,
				Action:                 func(c *cli.Context) error { return cleanAction(c, flags) },
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagJSON, Usage: "Output version metadata as JSON"},
				},
				Action: versionAction,
			},
		},
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func currentVersion() versionInfo {
	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "unknown" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	return info
}

func versionAction(c *cli.Context) error {
	info := currentVersion()
	if c.Bool(flagJSON) {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, string(data))
		return err
	}
	_, err := fmt.Fprintf(c.App.Writer, "paratest %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
	return err
}
