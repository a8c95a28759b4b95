package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

// CreateFile creates a file with the given content in the specified directory.
// It fails the test if the file cannot be created.
func CreateFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create parent directories for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create file %s: %v", path, err)
	}
	return path
}

// CreateExecutable is CreateFile with mode 0755.
func CreateExecutable(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := CreateFile(t, dir, name, content)
	if err := os.Chmod(path, 0755); err != nil {
		t.Fatalf("Failed to chmod %s: %v", path, err)
	}
	return path
}

// CreateDir creates a directory in the specified parent directory.
func CreateDir(t *testing.T, parent, name string) string {
	t.Helper()

	path := filepath.Join(parent, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create directory %s: %v", path, err)
	}
	return path
}

// CreateSymlink creates a symbolic link pointing to target.
func CreateSymlink(t *testing.T, target, link string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		t.Fatalf("Failed to create parent directory for symlink %s: %v", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Failed to create symlink %s -> %s: %v", link, target, err)
	}
}

// ReadFile reads a file and fails the test if it cannot be read.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

// AssertFileContent checks that a file exists with the expected content.
func AssertFileContent(t *testing.T, path, expected string) {
	t.Helper()

	if actual := ReadFile(t, path); actual != expected {
		t.Errorf("File %s content mismatch:\nExpected: %q\nActual: %q", path, expected, actual)
	}
}

// AssertSymlink checks that link is a symlink pointing to expectedTarget.
func AssertSymlink(t *testing.T, link, expectedTarget string) {
	t.Helper()

	target, err := os.Readlink(link)
	if err != nil {
		t.Errorf("Expected %s to be a symlink: %v", link, err)
		return
	}
	if target != expectedTarget {
		t.Errorf("Symlink %s points to %s, expected %s", link, target, expectedTarget)
	}
}

// AssertNoPath checks that nothing exists at path, not even a dangling
// symlink.
func AssertNoPath(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Lstat(path); err == nil {
		t.Errorf("Expected %s not to exist", path)
	} else if !os.IsNotExist(err) {
		t.Errorf("Error checking %s: %v", path, err)
	}
}

// Digest returns the sha256 digest of content in "sha256:<hex>" form.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}
