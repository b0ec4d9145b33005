package plugin

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/paratest/internal/protocol"
)

const manifestFilename = "manifest.yaml"

// DiscoverMany scans plugin roots for manifest.yaml files, validates each
// plugin and registers an External factory for it in reg.
//
// Roots are processed in input order. A plugin whose name is already
// registered (a built-in, or one found in an earlier root) is ignored with a
// warning. Missing roots are skipped with a warning. Invalid plugins are
// logged but not fatal.
func DiscoverMany(pluginRoots []string, reg *Registry, logger *slog.Logger) ([]*Descriptor, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	absRoots := make([]string, 0, len(pluginRoots))
	seenRoots := make(map[string]struct{}, len(pluginRoots))
	for _, root := range pluginRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("plugin root does not exist", "root", absRoot)
				continue
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			logger.Warn("plugin root is not a directory", "root", absRoot)
			continue
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}

	var found []*Descriptor
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			pluginPath := filepath.Dir(path)
			desc, err := loadDescriptor(pluginPath, root)
			if err != nil {
				logger.Warn("failed to load plugin", "root", root, "path", pluginPath, "error", err.Error())
				return nil
			}

			if existing, ok := reg.Get(desc.Name); ok {
				logger.Warn(
					"duplicate plugin ignored (keeping first registered)",
					"plugin", desc.Name,
					"ignored_path", desc.Path,
					"kept_source", existing.Source,
				)
				return nil
			}

			entry := Entry{
				Name:        desc.Name,
				Description: desc.Description,
				Source:      desc.Path,
				Factory: func() (Plugin, error) {
					return NewExternal(desc, logger), nil
				},
			}
			if err := reg.Register(entry); err != nil {
				logger.Warn("failed to register plugin", "plugin", desc.Name, "error", err.Error())
				return nil
			}

			found = append(found, desc)
			logger.Debug("loaded plugin", "plugin", desc.Name, "path", desc.Path, "version", desc.Version, "protocol", desc.Protocol)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	return found, nil
}

// LoadDescriptor reads and validates the plugin in pluginPath without
// registering it. Trust is checked against the plugin directory itself.
func LoadDescriptor(pluginPath string) (*Descriptor, error) {
	abs, err := filepath.Abs(pluginPath)
	if err != nil {
		return nil, err
	}
	return loadDescriptor(abs, filepath.Dir(abs))
}

// loadDescriptor reads and validates a single plugin.
func loadDescriptor(pluginPath, pluginsDir string) (*Descriptor, error) {
	manifestPath := filepath.Join(pluginPath, manifestFilename)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if manifest.Protocol != protocol.Version {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, protocol.Version)
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)

	if err := validateTrustInRoots(entrypointPath, pluginPath, []string{pluginsDir}); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Descriptor{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Description: manifest.Description,
		Commands:    manifest.Commands,
		Timeouts:    manifest.Timeouts,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	validCommands := map[string]bool{
		protocol.CommandFind: true,
		protocol.CommandInit: true,
		protocol.CommandRun:  true,
	}
	declared := make(map[string]bool, len(m.Commands))
	for _, cmd := range m.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("command name is required")
		}
		if !validCommands[cmd.Name] {
			return fmt.Errorf("invalid command %q (valid: find, init, run)", cmd.Name)
		}
		declared[cmd.Name] = true
	}
	// find and run are the whole Plugin contract; init is optional.
	for _, required := range []string{protocol.CommandFind, protocol.CommandRun} {
		if !declared[required] {
			return fmt.Errorf("command %q must be declared", required)
		}
	}

	if m.Timeouts.Find < 0 || m.Timeouts.Init < 0 || m.Timeouts.Run < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

func validateTrustInRoots(entrypointPath, pluginPath string, pluginRoots []string) error {
	if len(pluginRoots) == 0 {
		return fmt.Errorf("no plugin roots configured")
	}

	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	inApprovedRoot := false
	for _, root := range pluginRoots {
		resolvedRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
		}
		if strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
			inApprovedRoot = true
			break
		}
	}
	if !inApprovedRoot {
		return fmt.Errorf("entrypoint %s is not under any configured plugin root", resolvedEntrypoint)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}

	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}

	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}
