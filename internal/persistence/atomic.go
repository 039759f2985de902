// Package persistence implements crash-safe reads and writes of the
// supervisor's on-disk state: the pid map, the service state map, cron
// execution history, the supervisor's own singleton lock, and the
// config-hint file recording the last-loaded configuration path.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by creating a temp file in the same
// directory, fsyncing it, and renaming it over path. A crash mid-write
// can never leave path holding partial content: readers either see the
// old file or the fully-written new one, never a torn mix of both.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	fsyncDir(dir)
	return nil
}

// fsyncDir best-effort fsyncs a directory so the rename above survives a
// crash, not just a process exit. Ignored on filesystems that reject
// directory fsync (e.g. some overlayfs configurations) since the rename
// itself is still atomic without it.
func fsyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
