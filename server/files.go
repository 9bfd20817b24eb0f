package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// saveUpload copies src to path and returns the number of bytes written.
func saveUpload(src io.Reader, path string) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		os.Remove(path)
		return 0, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

// cleanupOlderThan removes entries in dirs last modified before now-retention.
func cleanupOlderThan(retention time.Duration, dirs ...string) (int, error) {
	cutoff := time.Now().Add(-retention)
	removed := 0
	var errs []error

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("read %s: %w", dir, err))
			continue
		}

		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
