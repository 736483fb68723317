// Package paths provides centralized path resolution for wtm's data directories.
//
// wtm keeps no user configuration of its own (repository config lives in the
// repository), only machine-local state:
//
//   - State (XDG_STATE_HOME): logs/
//   - Cache (XDG_CACHE_HOME): events/<cache-key>.json discovery records
//
// Resolution order:
//  1. WTM_HOME set → everything under that directory
//  2. ~/.wtm/ exists → flat layout under ~/.wtm/
//  3. XDG vars set → XDG layout with proper separation
//  4. Otherwise → ~/.wtm/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	stateDir string
	cacheDir string
	flat     bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if home := os.Getenv("WTM_HOME"); home != "" {
		resolved = &resolvedPaths{stateDir: home, cacheDir: home, flat: true}
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	flatDir := filepath.Join(home, ".wtm")

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{stateDir: flatDir, cacheDir: flatDir, flat: true}
		return resolved, nil
	}

	xdgState := os.Getenv("XDG_STATE_HOME")
	xdgCache := os.Getenv("XDG_CACHE_HOME")

	if xdgState != "" || xdgCache != "" {
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		if xdgCache == "" {
			xdgCache = filepath.Join(home, ".cache")
		}
		resolved = &resolvedPaths{
			stateDir: filepath.Join(xdgState, "wtm"),
			cacheDir: filepath.Join(xdgCache, "wtm"),
		}
		return resolved, nil
	}

	resolved = &resolvedPaths{stateDir: flatDir, cacheDir: flatDir, flat: true}
	return resolved, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// CacheDir returns the directory for disposable machine-local records.
func CacheDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.cacheDir, nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// EventsDir returns the directory holding event server discovery records.
func EventsDir() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "events"), nil
}

// IsFlatLayout returns true if everything lives under a single directory.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
