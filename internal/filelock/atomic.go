package filelock

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempSuffix ends the name of every temporary file WriteAtomic creates.
const TempSuffix = ".tmp"

// TempPrefix is the name prefix of the temporary files WriteAtomic creates
// next to path: a dot, the base name and a dot, followed by a random part
// and TempSuffix.
func TempPrefix(path string) string {
	return "." + filepath.Base(path) + "."
}

// LockPath is the sidecar lock file guarding path.
func LockPath(path string) string {
	return path + ".lock"
}

// WriteAtomic replaces the contents of path with data. The data is written to
// a temporary file in the same directory, synced, and renamed over path, so
// readers observe either the old or the new contents and never a mix.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, TempPrefix(path)+"*"+TempSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Not every filesystem supports it; failure is ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
