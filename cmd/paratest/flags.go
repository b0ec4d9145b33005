package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mattjoyce/paratest/internal/config"
)

// EnvVarPrefix namespaces the environment variables every flag also reads.
const EnvVarPrefix = "PARATEST"

func envVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

// Flag names, shared by the definitions and the config overlay.
const (
	flagConfig            = "config"
	flagVerbose           = "verbose"
	flagPath              = "path"
	flagPathPlugins       = "path-plugins"
	flagPlugin            = "plugin"
	flagPattern           = "pattern"
	flagOutput            = "output"
	flagWorkers           = "workers"
	flagSetup             = "setup"
	flagSetupWorkspace    = "setup-workspace"
	flagSetupTest         = "setup-test"
	flagTeardownTest      = "teardown-test"
	flagTeardownWorkspace = "teardown-workspace"
	flagTeardown          = "teardown"
	flagPathDB            = "path-db"
	flagNoDB              = "no-db"
	flagWorkspaceRoot     = "workspace-root"
	flagListen            = "listen"
	flagMetricsFile       = "metrics-file"
	flagTUI               = "tui"
	flagJSON              = "json"
	flagColor             = "color"
	flagRun               = "run"
	flagList              = "list"
	flagOlderThan         = "older-than"
)

// flagSet builds fresh flag definitions. -v is counted into verbosity.
type flagSet struct {
	verbosity int
}

func (f *flagSet) common() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			EnvVars: envVar("CONFIG"),
			Usage:   "Path to a YAML config file; explicit flags override it",
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			Count:   &f.verbosity,
			Usage:   "Increase log verbosity (repeatable: error, warn, info, debug)",
		},
	}
}

func (f *flagSet) plugins() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    flagPathPlugins,
			EnvVars: envVar("PATH_PLUGINS"),
			Usage:   "Directory searched for plugin manifests (repeatable)",
		},
	}
}

func (f *flagSet) discovery() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagPath,
			EnvVars: envVar("PATH"),
			Usage:   "Source path handed to the plugin for test discovery",
		},
		&cli.StringFlag{
			Name:    flagPlugin,
			EnvVars: envVar("PLUGIN"),
			Usage:   "Name of the test plugin to run",
		},
		&cli.StringFlag{
			Name:    flagPattern,
			EnvVars: envVar("PATTERN"),
			Usage:   "Pattern forwarded to the plugin's test discovery",
		},
	}
}

func (f *flagSet) history() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagPathDB,
			EnvVars: envVar("PATH_DB"),
			Usage:   "Run history database",
		},
	}
}

func (f *flagSet) run() []cli.Flag {
	flags := append(f.common(), f.plugins()...)
	flags = append(flags, f.discovery()...)
	flags = append(flags, f.history()...)
	return append(flags,
		&cli.StringFlag{
			Name:    flagOutput,
			EnvVars: envVar("OUTPUT"),
			Usage:   "Directory plugins write test artifacts to",
		},
		&cli.IntFlag{
			Name:    flagWorkers,
			Aliases: []string{"w", "n"},
			Value:   config.DefaultWorkers,
			EnvVars: envVar("WORKERS"),
			Usage:   "Number of parallel workers",
		},
		&cli.StringFlag{Name: flagSetup, Usage: "Script run once before discovery"},
		&cli.StringFlag{Name: flagSetupWorkspace, Usage: "Script run by each worker after its workspace is created"},
		&cli.StringFlag{Name: flagSetupTest, Usage: "Script run before each test"},
		&cli.StringFlag{Name: flagTeardownTest, Usage: "Script run after each test"},
		&cli.StringFlag{Name: flagTeardownWorkspace, Usage: "Script run by each worker once the queue is drained"},
		&cli.StringFlag{Name: flagTeardown, Usage: "Script run once after all workers finish"},
		&cli.BoolFlag{
			Name:  flagNoDB,
			Usage: "Do not record the run in the history database",
		},
		&cli.StringFlag{
			Name:    flagWorkspaceRoot,
			EnvVars: envVar("WORKSPACE_ROOT"),
			Usage:   "Directory under which per-worker workspaces are created",
		},
		&cli.StringFlag{
			Name:    flagListen,
			EnvVars: envVar("LISTEN"),
			Usage:   "Serve run status, events and metrics on this address (e.g. 127.0.0.1:8089)",
		},
		&cli.StringFlag{
			Name:    flagMetricsFile,
			EnvVars: envVar("METRICS_FILE"),
			Usage:   "Write Prometheus metrics to this file when the run ends",
		},
		&cli.BoolFlag{
			Name:  flagTUI,
			Usage: "Show a live terminal view of the run",
		},
		&cli.BoolFlag{
			Name:  flagColor,
			Usage: "Colorize the final report",
		},
	)
}

func (f *flagSet) show() []cli.Flag {
	flags := append(f.common(), f.history()...)
	return append(flags,
		&cli.StringFlag{
			Name:  flagRun,
			Usage: "Run id or unique id prefix (default: latest run)",
		},
		&cli.BoolFlag{
			Name:  flagList,
			Usage: "List recorded runs instead of showing one",
		},
		&cli.BoolFlag{
			Name:  flagJSON,
			Usage: "Print the report as JSON",
		},
		&cli.BoolFlag{
			Name:  flagColor,
			Usage: "Colorize the report",
		},
	)
}

func (f *flagSet) doctor() []cli.Flag {
	flags := append(f.common(), f.plugins()...)
	flags = append(flags, f.discovery()...)
	flags = append(flags, f.history()...)
	return append(flags,
		&cli.StringFlag{
			Name:    flagWorkspaceRoot,
			EnvVars: envVar("WORKSPACE_ROOT"),
			Usage:   "Directory under which per-worker workspaces are created",
		},
		&cli.BoolFlag{
			Name:  flagJSON,
			Usage: "Print the result as JSON",
		},
	)
}

func (f *flagSet) clean() []cli.Flag {
	return append(f.common(),
		&cli.StringFlag{
			Name:    flagWorkspaceRoot,
			EnvVars: envVar("WORKSPACE_ROOT"),
			Usage:   "Directory under which per-worker workspaces are created",
		},
		&cli.DurationFlag{
			Name:  flagOlderThan,
			Value: 24 * time.Hour,
			Usage: "Remove run workspaces last modified longer ago than this",
		},
	)
}
