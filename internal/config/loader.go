package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/paratest/internal/script"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 5

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults returns the configuration used when no file and no flags are given.
func Defaults() *Config {
	return &Config{
		Source:        ".",
		Output:        "output",
		Workers:       DefaultWorkers,
		PluginRoots:   []string{"plugins"},
		WorkspaceRoot: filepath.Join(os.TempDir(), "paratest"),
		History: HistoryConfig{
			Enabled: true,
			Path:    ".paratest.db",
		},
		Log: LogConfig{
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file on top of Defaults. ${VAR}
// references are replaced from the environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML %s: %w", absPath, err)
	}
	cfg.SourceFile = absPath
	if cfg.SourceHash, err = ComputeBlake3Hash(absPath); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyConfigDefaults fills fields an explicit file value left empty.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if strings.TrimSpace(cfg.Source) == "" {
		cfg.Source = defaults.Source
	}
	if strings.TrimSpace(cfg.Output) == "" {
		cfg.Output = defaults.Output
	}
	if len(cfg.PluginRoots) == 0 {
		cfg.PluginRoots = defaults.PluginRoots
	}
	if strings.TrimSpace(cfg.WorkspaceRoot) == "" {
		cfg.WorkspaceRoot = defaults.WorkspaceRoot
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaults.History.Path
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	return cfg
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// Left as-is so the problem is visible in the rendered value.
		return match
	})
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", cfg.Workers)
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", cfg.Log.Format)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error (got %q)", cfg.Log.Level)
	}

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	return nil
}

// Warnings reports non-fatal problems, such as script templates that use a
// placeholder the orchestrator never binds.
func (c *Config) Warnings() []string {
	var out []string
	for _, s := range c.Scripts.Named() {
		for _, name := range script.UnknownPlaceholders(s.Template) {
			out = append(out, fmt.Sprintf("script %s: unknown placeholder {%s} will be left literal", s.Name, name))
		}
	}
	return out
}
