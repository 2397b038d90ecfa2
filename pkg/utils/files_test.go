package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if !FileExists(path) {
		t.Error("FileExists should report an existing file")
	}
	if FileExists(filepath.Join(dir, "absent.txt")) {
		t.Error("FileExists should not report a missing file")
	}
	if FileExists(dir) {
		t.Error("FileExists should not report a directory")
	}
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	if !DirExists(dir) {
		t.Error("DirExists should report an existing directory")
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if DirExists(file) {
		t.Error("DirExists should not report a regular file")
	}
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := EnsureDir(path); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if !DirExists(path) {
		t.Error("EnsureDir did not create the directory")
	}
	if err := EnsureDir(path); err != nil {
		t.Errorf("EnsureDir on existing directory: %v", err)
	}
}

func TestComputeSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	sum, err := ComputeSHA256(path)
	if err != nil {
		t.Fatalf("ComputeSHA256: %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Errorf("ComputeSHA256 = %s, want %s", sum, want)
	}

	if _, err := ComputeSHA256(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, make([]byte, 42), 0o600); err != nil {
		t.Fatal(err)
	}
	size, err := GetFileSize(path)
	if err != nil {
		t.Fatalf("GetFileSize: %v", err)
	}
	if size != 42 {
		t.Errorf("GetFileSize = %d, want 42", size)
	}
}
