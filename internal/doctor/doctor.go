// Package doctor validates a paratest configuration before a run.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/paratest/internal/config"
	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/script"
	"github.com/mattjoyce/paratest/internal/storage"
)

var unresolvedEnvVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid      bool    `json:"valid"`
	ConfigFile string  `json:"config_file,omitempty"`
	ConfigHash string  `json:"config_blake3,omitempty"`
	HistoryFS  string  `json:"history_filesystem,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Registry is the plugin lookup the doctor needs.
type Registry interface {
	Lookup(name string) (plugin.Entry, bool)
	Names() []string
}

// Doctor validates an effective configuration against the plugin registry.
type Doctor struct {
	cfg      *config.Config
	registry Registry
}

// New creates a Doctor from a loaded config and a populated registry.
func New(cfg *config.Config, registry Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, ConfigFile: d.cfg.SourceFile, ConfigHash: d.cfg.SourceHash}

	d.validateWorkers(r)
	d.validatePlugin(r)
	d.validateSource(r)
	d.validatePluginRoots(r)
	d.validateWorkspaceRoot(r)
	d.validateHistory(r)
	d.warnUnknownPlaceholders(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateWorkers(r *Result) {
	switch {
	case d.cfg.Workers < 0:
		d.addError(r, "run", "workers", fmt.Sprintf("workers must be >= 0 (got %d)", d.cfg.Workers))
	case d.cfg.Workers == 0:
		d.addWarning(r, "run", "workers", "workers is 0; any discovered test will be left unprocessed and abort the run")
	}
}

// validatePlugin checks that the selected plugin resolves.
func (d *Doctor) validatePlugin(r *Result) {
	name := strings.TrimSpace(d.cfg.Plugin)
	if name == "" {
		d.addError(r, "plugin", "plugin", "no plugin selected (use --plugin)")
		return
	}
	if _, ok := d.registry.Lookup(name); !ok {
		d.addError(r, "plugin", "plugin",
			fmt.Sprintf("plugin %q not found (available: %s)", name, strings.Join(d.registry.Names(), ", ")))
	}
}

func (d *Doctor) validateSource(r *Result) {
	info, err := os.Stat(d.cfg.Source)
	if err != nil {
		d.addError(r, "source", "source", fmt.Sprintf("source path %q: %v", d.cfg.Source, err))
		return
	}
	if !info.IsDir() {
		d.addWarning(r, "source", "source", fmt.Sprintf("source path %q is a file, not a directory", d.cfg.Source))
	}
}

func (d *Doctor) validatePluginRoots(r *Result) {
	for i, root := range d.cfg.PluginRoots {
		info, err := os.Stat(root)
		field := fmt.Sprintf("plugin_roots[%d]", i)
		switch {
		case err != nil:
			d.addWarning(r, "plugins", field, fmt.Sprintf("plugin root %q does not exist", root))
		case !info.IsDir():
			d.addWarning(r, "plugins", field, fmt.Sprintf("plugin root %q is not a directory", root))
		}
	}
}

func (d *Doctor) validateWorkspaceRoot(r *Result) {
	root := d.cfg.WorkspaceRoot
	if _, err := filepath.Abs(root); err != nil {
		d.addError(r, "workspace", "workspace_root", fmt.Sprintf("cannot resolve workspace root %q: %v", root, err))
		return
	}
	info, err := os.Stat(root)
	if err == nil && !info.IsDir() {
		d.addError(r, "workspace", "workspace_root", fmt.Sprintf("workspace root %q exists and is not a directory", root))
	}
}

// validateHistory refuses database paths on network filesystems.
func (d *Doctor) validateHistory(r *Result) {
	if !d.cfg.History.Enabled {
		return
	}
	fs, err := storage.CheckPath(d.cfg.History.Path)
	r.HistoryFS = fs.Type
	if err != nil {
		d.addError(r, "history", "history.path", err.Error())
	}
}

func (d *Doctor) warnUnknownPlaceholders(r *Result) {
	for _, s := range d.cfg.Scripts.Named() {
		for _, name := range script.UnknownPlaceholders(s.Template) {
			d.addWarning(r, "scripts", "scripts."+s.Name,
				fmt.Sprintf("unknown placeholder {%s} will be left literal (known: %s)", name, strings.Join(script.KnownPlaceholders, ", ")))
		}
	}
}

// warnMissingEnvVars reports ${VAR} references the loader could not resolve.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"source":         d.cfg.Source,
		"pattern":        d.cfg.Pattern,
		"output":         d.cfg.Output,
		"workspace_root": d.cfg.WorkspaceRoot,
		"history.path":   d.cfg.History.Path,
	}
	for _, s := range d.cfg.Scripts.Named() {
		fields["scripts."+s.Name] = s.Template
	}
	for _, field := range sortedKeys(fields) {
		for _, m := range unresolvedEnvVar.FindAllStringSubmatch(fields[field], -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.ConfigFile != "" {
		fmt.Fprintf(&b, "Config: %s (blake3 %s)\n", r.ConfigFile, shortHash(r.ConfigHash))
	}
	if r.HistoryFS != "" {
		fmt.Fprintf(&b, "History filesystem: %s\n", r.HistoryFS)
	}

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
