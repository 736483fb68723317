// Package pkgmgr picks the dependency install command for a worktree by
// inspecting its lockfiles and package.json.
package pkgmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Name identifies a JavaScript package manager.
type Name string

const (
	Bun  Name = "bun"
	Pnpm Name = "pnpm"
	Yarn Name = "yarn"
	Npm  Name = "npm"
)

// ErrNotDetected means dir has neither a package.json nor a known lockfile.
var ErrNotDetected = errors.New("no package manager detected")

// lockfiles in priority order. The first one present wins when package.json
// does not name a manager.
var lockfiles = []struct {
	file string
	name Name
}{
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"pnpm-lock.yaml", Pnpm},
	{"yarn.lock", Yarn},
	{"package-lock.json", Npm},
	{"npm-shrinkwrap.json", Npm},
}

// Detection is the result of Detect.
type Detection struct {
	Name Name `json:"name"`
	// Lockfile is the file that decided the manager, empty when package.json did.
	Lockfile string `json:"lockfile,omitempty"`
	// Version is the pinned version from package.json's packageManager field.
	Version string `json:"version,omitempty"`
	// Command is the argv to run in the worktree.
	Command []string `json:"command"`
}

// String renders the install command for logs and results.
func (d *Detection) String() string {
	return strings.Join(d.Command, " ")
}

type packageJSON struct {
	PackageManager string `json:"packageManager"`
}

// Detect inspects dir. The packageManager field of package.json takes
// precedence, then lockfiles, then a bare package.json falls back to npm.
func Detect(dir string) (*Detection, error) {
	pkg, hasPackageJSON, err := readPackageJSON(dir)
	if err != nil {
		return nil, err
	}

	if pkg.PackageManager != "" {
		name, version, _ := strings.Cut(pkg.PackageManager, "@")
		// Corepack allows a "+sha..." integrity suffix after the version
		version, _, _ = strings.Cut(version, "+")
		switch n := Name(strings.TrimSpace(name)); n {
		case Bun, Pnpm, Yarn, Npm:
			return &Detection{Name: n, Version: version, Command: installCommand(n, lockfileFor(dir, n))}, nil
		}
	}

	for _, lf := range lockfiles {
		if exists(filepath.Join(dir, lf.file)) {
			return &Detection{Name: lf.name, Lockfile: lf.file, Command: installCommand(lf.name, lf.file)}, nil
		}
	}

	if hasPackageJSON {
		return &Detection{Name: Npm, Command: installCommand(Npm, "")}, nil
	}
	return nil, ErrNotDetected
}

func readPackageJSON(dir string) (packageJSON, bool, error) {
	var pkg packageJSON
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if errors.Is(err, os.ErrNotExist) {
		return pkg, false, nil
	}
	if err != nil {
		return pkg, false, fmt.Errorf("failed to read package.json: %w", err)
	}
	// Tolerate comments and trailing commas; plenty of hand-edited files have them
	if err := json.Unmarshal(jsonc.ToJSON(data), &pkg); err != nil {
		return pkg, true, fmt.Errorf("failed to parse package.json in %s: %w", dir, err)
	}
	return pkg, true, nil
}

func lockfileFor(dir string, name Name) string {
	for _, lf := range lockfiles {
		if lf.name == name && exists(filepath.Join(dir, lf.file)) {
			return lf.file
		}
	}
	return ""
}

// installCommand keeps installs reproducible when a lockfile is present.
func installCommand(name Name, lockfile string) []string {
	switch name {
	case Bun:
		return []string{"bun", "install"}
	case Pnpm:
		if lockfile != "" {
			return []string{"pnpm", "install", "--frozen-lockfile"}
		}
		return []string{"pnpm", "install"}
	case Yarn:
		return []string{"yarn", "install"}
	default:
		if lockfile != "" {
			return []string{"npm", "ci"}
		}
		return []string{"npm", "install"}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
