package bootstrap

import (
	"path/filepath"
	"testing"
)

func TestIsIDEDatabaseAccessible_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.vscdb")

	if IsIDEDatabaseAccessible(path) {
		t.Fatalf("expected missing database to be reported inaccessible")
	}
}

func TestReadIDESession_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.vscdb")

	if _, err := ReadIDESession(path); err == nil {
		t.Fatalf("expected error for missing database file")
	}
}
