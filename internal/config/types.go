package config

// Config represents the complete paratest configuration.
//
// Every field can also be set from the command line; flags that are set
// explicitly override the file.
type Config struct {
	Plugin        string        `yaml:"plugin"`
	Source        string        `yaml:"source"`
	Pattern       string        `yaml:"pattern,omitempty"`
	Output        string        `yaml:"output"`
	Workers       int           `yaml:"workers"`
	PluginRoots   []string      `yaml:"plugin_roots"`
	WorkspaceRoot string        `yaml:"workspace_root"`
	Scripts       ScriptSet     `yaml:"scripts"`
	History       HistoryConfig `yaml:"history"`
	Log           LogConfig     `yaml:"log"`
	API           APIConfig     `yaml:"api,omitempty"`
	Metrics       MetricsConfig `yaml:"metrics,omitempty"`
	TUI           bool          `yaml:"tui,omitempty"`

	// SourceFile is the path the config was loaded from, if any.
	SourceFile string `yaml:"-"`
	// SourceHash is the BLAKE3 hash of SourceFile's contents.
	SourceHash string `yaml:"-"`
}

// ScriptSet holds the six optional lifecycle command templates.
type ScriptSet struct {
	Setup             string `yaml:"setup,omitempty"`
	SetupWorkspace    string `yaml:"setup_workspace,omitempty"`
	SetupTest         string `yaml:"setup_test,omitempty"`
	TeardownTest      string `yaml:"teardown_test,omitempty"`
	TeardownWorkspace string `yaml:"teardown_workspace,omitempty"`
	Teardown          string `yaml:"teardown,omitempty"`
}

// Named returns the templates keyed by their CLI flag name, in lifecycle order.
func (s ScriptSet) Named() []NamedScript {
	return []NamedScript{
		{Name: "setup", Template: s.Setup},
		{Name: "setup-workspace", Template: s.SetupWorkspace},
		{Name: "setup-test", Template: s.SetupTest},
		{Name: "teardown-test", Template: s.TeardownTest},
		{Name: "teardown-workspace", Template: s.TeardownWorkspace},
		{Name: "teardown", Template: s.Teardown},
	}
}

// NamedScript pairs a lifecycle stage with its template.
type NamedScript struct {
	Name     string
	Template string
}

// HistoryConfig controls the run-history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig defines logging settings. Level is overridden by -v.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format"`
}

// APIConfig defines the optional status server.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// MetricsConfig defines where run metrics are exported.
type MetricsConfig struct {
	File string `yaml:"file"`
}
