// Package filelock provides cross-process file locking and atomic file
// replacement for the durable state autopilot keeps on disk.
//
// [FileLock] wraps flock(2) on a sidecar lock file so that read-modify-write
// cycles on a shared document (the progress record) are serialized across
// processes. [WriteAtomic] replaces a file's contents by writing a temporary
// file in the same directory, syncing it, and renaming it into place, so a
// crash never leaves a torn file behind.
//
// # Basic Usage
//
//	err := filelock.With(path+".lock", func() error {
//	    data, err := os.ReadFile(path)
//	    // ... modify ...
//	    return filelock.WriteAtomic(path, data, 0644)
//	})
package filelock
