package paths

import (
	"os"
	"path/filepath"
	"testing"
)

// setupTestHome creates a temp directory, sets HOME to it, and resets the path cache.
func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("WTM_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")
	Reset()
	t.Cleanup(Reset)
	return tmpDir
}

func TestFreshInstallNoXDG(t *testing.T) {
	home := setupTestHome(t)
	expected := filepath.Join(home, ".wtm")

	stateDir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if stateDir != expected {
		t.Errorf("StateDir = %q, want %q", stateDir, expected)
	}

	cacheDir, err := CacheDir()
	if err != nil {
		t.Fatalf("CacheDir: %v", err)
	}
	if cacheDir != expected {
		t.Errorf("CacheDir = %q, want %q", cacheDir, expected)
	}

	if !IsFlatLayout() {
		t.Error("IsFlatLayout should be true for fresh install without XDG")
	}
}

func TestWTMHomeOverride(t *testing.T) {
	setupTestHome(t)
	override := t.TempDir()
	t.Setenv("WTM_HOME", override)
	t.Setenv("XDG_STATE_HOME", "/should/not/be/used")
	Reset()

	eventsDir, err := EventsDir()
	if err != nil {
		t.Fatalf("EventsDir: %v", err)
	}
	if eventsDir != filepath.Join(override, "events") {
		t.Errorf("EventsDir = %q", eventsDir)
	}
}

func TestFlatDirExistsWinsOverXDG(t *testing.T) {
	home := setupTestHome(t)
	flatDir := filepath.Join(home, ".wtm")
	if err := os.MkdirAll(flatDir, 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, "xdg-state"))
	Reset()

	logsDir, err := LogsDir()
	if err != nil {
		t.Fatalf("LogsDir: %v", err)
	}
	if logsDir != filepath.Join(flatDir, "logs") {
		t.Errorf("LogsDir = %q, want under %q", logsDir, flatDir)
	}
}

func TestXDGLayout(t *testing.T) {
	home := setupTestHome(t)
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, "state"))
	Reset()

	stateDir, _ := StateDir()
	if stateDir != filepath.Join(home, "state", "wtm") {
		t.Errorf("StateDir = %q", stateDir)
	}
	cacheDir, _ := CacheDir()
	if cacheDir != filepath.Join(home, ".cache", "wtm") {
		t.Errorf("CacheDir should default to ~/.cache/wtm, got %q", cacheDir)
	}
	if IsFlatLayout() {
		t.Error("IsFlatLayout should be false for XDG layout")
	}
}
