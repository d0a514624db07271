package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileScoped_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("ReadFileScoped error: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestReadFileScoped_RejectsInvalidPath(t *testing.T) {
	for _, p := range []string{"", ".", string(filepath.Separator)} {
		if _, err := ReadFileScoped(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestReadFileScoped_Missing(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{
		filepath.Join(dir, "missing.json"),
		filepath.Join(dir, "nodir", "workflow.json"),
	} {
		if _, err := ReadFileScoped(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

func TestReadFileScoped_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "flows"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := ReadFileScoped(filepath.Join(dir, "flows")); err == nil {
		t.Fatal("expected error for a directory")
	}
}

func TestReadFileScopedLimit(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "big.json")
	if err := os.WriteFile(p, make([]byte, 64), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := ReadFileScopedLimit(p, 63); err == nil {
		t.Fatal("expected error above the limit")
	}
	b, err := ReadFileScopedLimit(p, 64)
	if err != nil {
		t.Fatalf("ReadFileScopedLimit error: %v", err)
	}
	if len(b) != 64 {
		t.Errorf("read %d bytes, want 64", len(b))
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.json")

	if err := WriteFileAtomic(p, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic error: %v", err)
	}
	if err := WriteFileAtomic(p, []byte(`{"a":2}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic overwrite error: %v", err)
	}

	b, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != `{"a":2}` {
		t.Errorf("content = %q", b)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("found %d entries, want only the target file", len(entries))
	}
}
