package utils

import "path/filepath"

// CanonicalizePath returns an absolute, symlink-resolved form of path.
// It falls back to the absolute path, then to path itself, when resolution fails.
func CanonicalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if canonical, err := filepath.EvalSymlinks(abs); err == nil {
		return canonical
	}
	return abs
}
