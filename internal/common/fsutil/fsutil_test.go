package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := ExpandHome("~/models")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !strings.HasPrefix(got, home) {
		t.Fatalf("expected prefix %q, got %q", home, got)
	}
	if got, _ := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path changed: %q", got)
	}
	if got, _ := ExpandHome(""); got != "" {
		t.Fatalf("empty path changed: %q", got)
	}
}

func TestPathExistsAndEnsureDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if PathExists(nested) {
		t.Fatal("nested dir should not exist yet")
	}
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !PathExists(nested) {
		t.Fatal("nested dir should exist after EnsureDir")
	}
}
