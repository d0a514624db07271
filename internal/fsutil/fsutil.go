// Package fsutil holds file helpers shared by the CLI, the config loader and
// the JSON ledger.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxScopedRead bounds ReadFileScoped. Workflow documents may embed media as
// data URLs, so the limit is generous.
const MaxScopedRead = 256 << 20

// ReadFileScoped reads the regular file at path through a root opened at its
// directory, so that the base name cannot escape it.
func ReadFileScoped(path string) ([]byte, error) {
	return ReadFileScopedLimit(path, MaxScopedRead)
}

// ReadFileScopedLimit is ReadFileScoped with an explicit size limit.
func ReadFileScopedLimit(path string, limit int64) ([]byte, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if path == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), limit)
	}

	// Guard against files growing between Stat and read.
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, limit)
	}
	return data, nil
}
