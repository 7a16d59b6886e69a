package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// WriteFileAtomic writes data to a temp file in the destination directory
// and renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := replaceFile(tmpPath, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// replaceFile renames src over dst. A running executable cannot be
// overwritten on Windows, so the old file is moved aside first.
func replaceFile(src, dst string) error {
	if runtime.GOOS == "windows" {
		if _, err := os.Stat(dst); err == nil {
			old := dst + ".old"
			_ = os.Remove(old)
			if err := os.Rename(dst, old); err != nil {
				return fmt.Errorf("move aside: %w", err)
			}
			if err := os.Rename(src, dst); err != nil {
				_ = os.Rename(old, dst)
				return fmt.Errorf("rename: %w", err)
			}
			return nil
		}
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadJSONFile decodes path into v. A missing file returns os.ErrNotExist.
func ReadJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSONFileOr returns the decoded content of path, or fallback when the
// file is missing or malformed.
func ReadJSONFileOr[T any](path string, fallback T) T {
	var out T
	if err := ReadJSONFile(path, &out); err != nil {
		return fallback
	}
	return out
}

// IsNotExist reports whether err means the file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
