package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint hashes the settings that determine what a run executes: the
// plugin, where and what it finds, the worker count and every script. Two runs
// with the same fingerprint ran the same way. Cosmetic settings (logging,
// history, API) are excluded.
func (c *Config) Fingerprint() string {
	h := blake3.New()
	write := func(key, value string) {
		// Length-prefixed so adjacent fields cannot run together.
		fmt.Fprintf(h, "%s:%d:%s\n", key, len(value), value)
	}

	write("plugin", c.Plugin)
	write("source", c.Source)
	write("pattern", c.Pattern)
	write("output", c.Output)
	write("workers", strconv.Itoa(c.Workers))
	for _, s := range c.Scripts.Named() {
		write("script."+s.Name, strings.TrimSpace(s.Template))
	}

	return hex.EncodeToString(h.Sum(nil))
}
