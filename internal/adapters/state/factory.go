package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// Ledger backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendMemory = "memory"
)

// NewLedger opens the ledger for backend, defaulting to SQLite. The path
// extension is forced to match the backend (.db or .json) so switching
// backends never reopens the other format's file. The memory backend
// ignores path.
func NewLedger(backend, path string) (core.Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		return NewSQLiteLedger(withExt(path, ".db"))
	case BackendJSON:
		return NewJSONLedger(withExt(path, ".json"))
	case BackendMemory:
		return NewMemoryLedger(), nil
	}
	return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown ledger backend %q", backend))
}

func withExt(path, ext string) string {
	if filepath.Ext(path) == ext {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
