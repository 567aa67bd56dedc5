package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archiveforge/docscrawler/pkg/failure"
)

// GetFileExtension extracts the file extension from a path, or empty string if none
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	// Remove the leading dot
	return strings.TrimPrefix(ext, ".")
}

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	assetsDir := filepath.Join(targetPath...)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// WithinBase reports whether target resolves to a path inside base after
// cleaning both. Fetchers must call this before writing a target path and
// refuse the write (rather than ever creating the file) when it is false.
func WithinBase(base, target string) bool {
	cleanBase := filepath.Clean(base)
	cleanTarget := filepath.Clean(target)
	rel, err := filepath.Rel(cleanBase, cleanTarget)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AtomicWrite writes data to a temporary sibling of path and renames it into
// place, so readers never observe a partially-written file. The temporary
// file lives on the same filesystem as path to guarantee the rename is atomic.
func AtomicWrite(path string, data []byte) failure.ClassifiedError {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &FileError{Message: fmt.Sprintf("%v", err), Retryable: true, Cause: ErrCausePathError}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FileError{Message: fmt.Sprintf("%v", err), Retryable: true, Cause: ErrCausePathError}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FileError{Message: fmt.Sprintf("%v", err), Retryable: true, Cause: ErrCausePathError}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &FileError{Message: fmt.Sprintf("%v", err), Retryable: false, Cause: ErrCausePathError}
	}
	return nil
}
