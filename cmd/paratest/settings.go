package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/mattjoyce/paratest/internal/config"
	"github.com/mattjoyce/paratest/internal/log"
	"github.com/mattjoyce/paratest/internal/plugin"
)

// loadSettings builds the effective configuration: defaults, then the
// --config file when given, then every flag that was set explicitly.
func loadSettings(c *cli.Context) (*config.Config, error) {
	cfg := config.Defaults()
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overlayString(c, flagPath, &cfg.Source)
	overlayString(c, flagPlugin, &cfg.Plugin)
	overlayString(c, flagPattern, &cfg.Pattern)
	overlayString(c, flagOutput, &cfg.Output)
	overlayString(c, flagWorkspaceRoot, &cfg.WorkspaceRoot)
	overlayString(c, flagPathDB, &cfg.History.Path)
	overlayString(c, flagListen, &cfg.API.Listen)
	overlayString(c, flagMetricsFile, &cfg.Metrics.File)

	overlayString(c, flagSetup, &cfg.Scripts.Setup)
	overlayString(c, flagSetupWorkspace, &cfg.Scripts.SetupWorkspace)
	overlayString(c, flagSetupTest, &cfg.Scripts.SetupTest)
	overlayString(c, flagTeardownTest, &cfg.Scripts.TeardownTest)
	overlayString(c, flagTeardownWorkspace, &cfg.Scripts.TeardownWorkspace)
	overlayString(c, flagTeardown, &cfg.Scripts.Teardown)

	if c.IsSet(flagPathPlugins) {
		cfg.PluginRoots = c.StringSlice(flagPathPlugins)
	}
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagNoDB) && c.Bool(flagNoDB) {
		cfg.History.Enabled = false
	}
	if c.IsSet(flagTUI) {
		cfg.TUI = c.Bool(flagTUI)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overlayString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

// setupLogging installs the global logger. -v wins over log.level; with
// neither, only errors are shown.
func setupLogging(cfg *config.Config, verbosity int, w io.Writer) *slog.Logger {
	level := log.LevelForVerbosity(verbosity)
	if verbosity == 0 && cfg.Log.Level != "" {
		level = log.ParseLevel(cfg.Log.Level)
	}
	return log.Setup(log.Options{Level: level, Format: cfg.Log.Format, Writer: w})
}

// buildRegistry registers the built-in plugins, then whatever the plugin
// roots provide.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := plugin.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if _, err := plugin.DiscoverMany(cfg.PluginRoots, reg, logger.With("component", "discovery")); err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}
	return reg, nil
}
