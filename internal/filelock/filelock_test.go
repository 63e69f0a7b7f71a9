package filelock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileLock_LockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "progress.lock")
	fl := New(path)

	if err := fl.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file should exist: %v", err)
	}
	if err := fl.Lock(); err == nil {
		t.Error("second Lock on the same FileLock should fail")
	}
	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := fl.Unlock(); err != nil {
		t.Errorf("Unlock when not held should be a no-op: %v", err)
	}
}

func TestFileLock_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.lock")

	first := New(path)
	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v; want true, nil", ok, err)
	}

	// flock locks belong to the open file description, so a second
	// descriptor in the same process contends like another process would.
	second := New(path)
	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if ok {
		t.Error("second TryLock should fail while the first holds the lock")
	}

	_ = first.Unlock()
	ok, err = second.TryLock()
	if err != nil || !ok {
		t.Errorf("TryLock after release = %v, %v; want true, nil", ok, err)
	}
	_ = second.Unlock()
}

func TestWith_SerializesCriticalSections(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "counter.lock")
	counter := filepath.Join(dir, "counter")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := With(lockPath, func() error {
				data, _ := os.ReadFile(counter)
				return WriteAtomic(counter, append(data, 'x'), 0644)
			})
			if err != nil {
				t.Errorf("With: %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(counter)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 20 {
		t.Errorf("counter has %d increments, want 20", len(data))
	}
}

func TestWith_PropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	err := With(filepath.Join(t.TempDir(), "x.lock"), func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("With() = %v, want %v", err, sentinel)
	}
}

func TestWriteAtomic(t *testing.T) {
	t.Run("creates parent and replaces contents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "leases", "1.lease")

		if err := WriteAtomic(path, []byte("inprogress"), 0644); err != nil {
			t.Fatalf("WriteAtomic: %v", err)
		}
		if err := WriteAtomic(path, []byte("completed"), 0644); err != nil {
			t.Fatalf("WriteAtomic: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "completed" {
			t.Errorf("contents = %q, want %q", data, "completed")
		}
	})

	t.Run("leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "PROGRESS.md")
		for i := 0; i < 3; i++ {
			if err := WriteAtomic(path, []byte("row"), 0644); err != nil {
				t.Fatal(err)
			}
		}
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".tmp") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
		if len(entries) != 1 {
			t.Errorf("dir has %d entries, want 1", len(entries))
		}
	})

	t.Run("applies permissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "secret")
		if err := WriteAtomic(path, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("rejects empty path", func(t *testing.T) {
		if err := WriteAtomic("", nil, 0644); err == nil {
			t.Error("expected error for empty path")
		}
	})
}
