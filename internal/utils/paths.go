package utils

import "path/filepath"

// WithinDir reports whether path lies inside dir after both are made
// absolute and cleaned. Symlinks are not resolved.
func WithinDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && filepath.IsLocal(rel)
}
