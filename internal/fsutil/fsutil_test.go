package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileScoped(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "intake.yaml")
	if err := os.WriteFile(p, []byte("main_complain: knee pain\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	data, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("ReadFileScoped() error = %v", err)
	}
	if string(data) != "main_complain: knee pain\n" {
		t.Errorf("got %q", data)
	}

	for _, bad := range []string{filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "nodir", "x"), "/"} {
		if _, err := ReadFileScoped(bad); err == nil {
			t.Errorf("ReadFileScoped(%q) expected error", bad)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "dir", "report.md")
	if err := WriteFileAtomic(p, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(p, []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the target", len(entries))
	}
}
