package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/fsutil"
)

// ProjectDir holds the project config and, by default, the run ledger.
const ProjectDir = ".nodeflow"

// ErrConfigExists is returned by Scaffold when a config is already present.
var ErrConfigExists = errors.New("configuration already exists")

// ProjectConfigPath returns the config file Scaffold writes under root.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, ProjectDir, "config.yaml")
}

// Scaffold writes DefaultConfigYAML into root's project directory and
// returns the file path. An existing file is replaced only with force.
func Scaffold(root string, force bool) (string, error) {
	path := ProjectConfigPath(root)
	if _, err := os.Stat(path); err == nil && !force {
		return path, ErrConfigExists
	}
	if err := writeConfigFile(path, []byte(DefaultConfigYAML)); err != nil {
		return path, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// writeConfigFile replaces path atomically. A new file is private; an
// existing one keeps its mode.
func writeConfigFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return fsutil.WriteFileAtomic(path, data, perm)
}
