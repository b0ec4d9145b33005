package plugin

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/paratest/internal/protocol"
)

// Command declares a command an external plugin answers.
type Command struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Commands is a list of supported commands.
//
// Accepted formats:
//   - string array: commands: [find, run]
//   - object array: commands: [{name: find}, {name: run, description: "..."}]
type Commands []Command

func (c *Commands) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("commands must be a sequence")
	}

	out := make([]Command, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, Command{Name: strings.TrimSpace(item.Value)})
		case yaml.MappingNode:
			var tmp Command
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid command object: %w", err)
			}
			tmp.Name = strings.TrimSpace(tmp.Name)
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid command entry (must be string or object)")
		}
	}

	*c = out
	return nil
}

// Timeouts bounds each external command. Zero means no limit beyond the run context.
type Timeouts struct {
	Find time.Duration `yaml:"find,omitempty"`
	Init time.Duration `yaml:"init,omitempty"`
	Run  time.Duration `yaml:"run,omitempty"`
}

// For returns the timeout configured for cmd.
func (t Timeouts) For(cmd string) time.Duration {
	switch cmd {
	case protocol.CommandFind:
		return t.Find
	case protocol.CommandInit:
		return t.Init
	case protocol.CommandRun:
		return t.Run
	default:
		return 0
	}
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Protocol    int      `yaml:"protocol"`
	Entrypoint  string   `yaml:"entrypoint"`
	Description string   `yaml:"description,omitempty"`
	Commands    Commands `yaml:"commands"`
	Timeouts    Timeouts `yaml:"timeouts,omitempty"`
}

// Descriptor represents a discovered and validated external plugin.
type Descriptor struct {
	Name        string   // Plugin name from manifest
	Path        string   // Absolute path to plugin directory
	Entrypoint  string   // Absolute path to entrypoint executable
	Protocol    int      // Protocol version
	Version     string   // Plugin version
	Description string   // Human-readable description
	Commands    Commands // Supported commands (find, init, run)
	Timeouts    Timeouts
}

// SupportsCommand checks if the plugin supports a given command.
func (d *Descriptor) SupportsCommand(cmd string) bool {
	for _, c := range d.Commands {
		if c.Name == cmd {
			return true
		}
	}
	return false
}

// CommandNames returns the declared command names in manifest order.
func (d *Descriptor) CommandNames() []string {
	out := make([]string, 0, len(d.Commands))
	for _, c := range d.Commands {
		out = append(out, c.Name)
	}
	return out
}
