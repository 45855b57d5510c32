package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ExecutableMode is read/write/execute for owner and group, nothing for others.
const ExecutableMode fs.FileMode = 0770

// ErrWrite wraps every failure to put a script on disk.
var ErrWrite = errors.New("write job script")

// Writer persists job scripts.
type Writer interface {
	WriteExecutable(s JobScript) error
}

// FileWriter writes scripts to the local filesystem.
type FileWriter struct{}

// WriteExecutable replaces any script at s.Path with s.Content and marks it
// executable for owner and group.
//
// The previous file is removed first; a missing file is not an error. The
// new content is fully written to a temp file in the same directory before
// it is made executable and renamed into place.
func (FileWriter) WriteExecutable(s JobScript) error {
	if err := writeExecutable(s); err != nil {
		return fmt.Errorf("%w %s: %w", ErrWrite, s.Kind, err)
	}
	return nil
}

func writeExecutable(s JobScript) error {
	if s.Path == "" {
		return errors.New("path is required")
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale script: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp script: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(s.Content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp script: %w", err)
	}
	if err := os.Chmod(tmpName, ExecutableMode); err != nil {
		return fmt.Errorf("chmod script: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("rename script: %w", err)
	}
	return nil
}
