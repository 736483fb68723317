package config

import (
	"os"
	"path/filepath"
)

// SamePath returns true if a and b refer to the same filesystem entry.
// It handles case-insensitive filesystems (e.g. macOS APFS) and symlinks
// by comparing device+inode via os.SameFile. Falls back to comparing the
// normalized strings when either path cannot be stat'd.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return NormalizePath(a) == NormalizePath(b)
	}
	return os.SameFile(infoA, infoB)
}

// NormalizePath makes path absolute, resolves symlinks where the path exists,
// and cleans it. Two spellings of one repository root normalize identically.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs)
}
