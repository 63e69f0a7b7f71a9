// Package testutil provides testing utilities for autopilot tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// SetupWorkspace creates a temporary workspace containing files, keyed by
// slash-separated relative path. The workspace is removed when the test
// completes.
func SetupWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for path, content := range files {
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(path)), content)
	}
	return dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ReadFile returns the contents of path, or "" if it does not exist.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// WaitFor polls cond in real time until it holds, failing the test after
// timeout. Use it for effects of child processes, which a fake clock cannot
// drive.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// SkipIfNoShell skips the test if sh is not installed.
func SkipIfNoShell(t *testing.T) {
	t.Helper()
	SkipIfMissing(t, "sh")
}

// SkipIfMissing skips the test if binary is not in PATH.
func SkipIfMissing(t *testing.T, binary string) {
	t.Helper()

	if _, err := exec.LookPath(binary); err != nil {
		t.Skipf("%s not found in PATH, skipping test", binary)
	}
}
