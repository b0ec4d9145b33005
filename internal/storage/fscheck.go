package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a history database would sit on a
// filesystem whose locking SQLite cannot rely on.
var ErrNetworkFilesystem = errors.New("history database is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// Filesystem is what CheckPath learned about a database location.
type Filesystem struct {
	// Inspected is the nearest existing ancestor of the database path.
	Inspected string
	Type      string
	Network   bool
}

// CheckPath reports the filesystem a database at dbPath would live on and
// refuses network filesystems. The file and its parents need not exist yet.
func CheckPath(dbPath string) (Filesystem, error) {
	return checkWith(dbPath, filesystemType)
}

func checkWith(dbPath string, statfs func(string) (string, error)) (Filesystem, error) {
	fs, err := inspectWith(dbPath, statfs)
	if err != nil {
		return fs, err
	}
	if fs.Network {
		return fs, fmt.Errorf("%w: %q is on %s and SQLite locking is unreliable there; point --path-db at local disk or run with --no-db",
			ErrNetworkFilesystem, dbPath, fs.Type)
	}
	return fs, nil
}

func inspectWith(dbPath string, statfs func(string) (string, error)) (Filesystem, error) {
	if dbPath == "" {
		return Filesystem{}, fmt.Errorf("history database path is empty")
	}
	existing, err := nearestExistingPath(dbPath)
	if err != nil {
		return Filesystem{}, fmt.Errorf("resolve history database path %q: %w", dbPath, err)
	}
	fsType, err := statfs(existing)
	if err != nil {
		return Filesystem{Inspected: existing}, fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	_, network := networkFilesystems[fsType]
	return Filesystem{Inspected: existing, Type: fsType, Network: network}, nil
}

// nearestExistingPath walks up from path until something exists.
func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		candidate = parent
	}
}
