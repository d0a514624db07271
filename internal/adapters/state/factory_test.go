package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

func TestNewLedger(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		file     string
		wantType string
		wantFile string
		wantErr  bool
	}{
		{name: "empty backend defaults to sqlite", backend: "", file: "ledger.db", wantType: "*state.SQLiteLedger", wantFile: "ledger.db"},
		{name: "sqlite adds extension", backend: "sqlite", file: "ledger", wantType: "*state.SQLiteLedger", wantFile: "ledger.db"},
		{name: "SQLite mixed case", backend: "SQLite", file: "ledger.db", wantType: "*state.SQLiteLedger", wantFile: "ledger.db"},
		{name: "json swaps extension", backend: "json", file: "ledger.db", wantType: "*state.JSONLedger", wantFile: "ledger.json"},
		{name: "memory", backend: "memory", file: "unused", wantType: "*state.MemoryLedger"},
		{name: "unknown backend", backend: "postgres", file: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			l, err := NewLedger(tt.backend, filepath.Join(dir, tt.file))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if core.GetCode(err) != core.CodeInvalidConfig {
					t.Errorf("code = %s, want %s", core.GetCode(err), core.CodeInvalidConfig)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLedger() error = %v", err)
			}
			defer l.Close()

			if got := fmt.Sprintf("%T", l); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
			if tt.wantFile == "" {
				return
			}
			// JSON files appear on first write
			if err := l.CreateRun(context.Background(), newTestRun("r", "local", time.Now())); err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, tt.wantFile)); err != nil {
				t.Errorf("expected file %s: %v", tt.wantFile, err)
			}
		})
	}
}

func TestJSONLedger_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := NewJSONLedger(path)
	if err != nil {
		t.Fatalf("NewJSONLedger() error = %v", err)
	}
	if err := l.CreateRun(ctx, newTestRun("run-1", "local", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	exec := &core.NodeExecution{ID: "e1", RunID: "run-1", NodeID: "a", NodeType: core.NodeKindText, Status: core.NodeStatusSuccess, ExecutedAt: time.Now()}
	if err := l.FinishNode(ctx, exec); err != nil {
		t.Fatalf("FinishNode() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewJSONLedger(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	execs, err := reopened.ListNodeExecutions(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListNodeExecutions() error = %v", err)
	}
	if len(execs) != 1 || execs[0].NodeID != "a" {
		t.Errorf("execs = %+v", execs)
	}
}

func TestJSONLedger_CorruptFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := NewJSONLedger(path)
	if err != nil {
		t.Fatalf("NewJSONLedger() error = %v", err)
	}
	if err := l.CreateRun(ctx, newTestRun("run-1", "local", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	// second write rotates the first into the backup
	if err := l.FinishRun(ctx, "run-1", core.RunStatusSuccess, time.Now(), 10, ""); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(data), `"success"`, `"failed"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reopened, err := NewJSONLedger(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	run, err := reopened.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != core.RunStatusRunning {
		t.Errorf("Status = %s, want running from backup", run.Status)
	}
}

func TestJSONLedger_Lock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := NewJSONLedger(path)
	if err != nil {
		t.Fatalf("NewJSONLedger() error = %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	// a lock held by a live foreign process blocks opening
	other := fmt.Sprintf(`{"pid":1,"hostname":"h","acquired_at":%q}`, time.Now().Format(time.RFC3339Nano))
	second := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(second+".lock", []byte(other), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	if processExists(1) {
		if _, err := NewJSONLedger(second); !core.IsCategory(err, core.ErrCatConflict) {
			t.Errorf("NewJSONLedger() error = %v, want conflict", err)
		}
	}

	// stale locks are replaced
	stale := fmt.Sprintf(`{"pid":1,"hostname":"h","acquired_at":%q}`, time.Now().Add(-2*time.Hour).Format(time.RFC3339Nano))
	third := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(third+".lock", []byte(stale), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	l3, err := NewJSONLedger(third)
	if err != nil {
		t.Fatalf("NewJSONLedger() with stale lock error = %v", err)
	}
	_ = l3.Close()
}
