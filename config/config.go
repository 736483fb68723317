// Package config loads, writes, and auto-detects the per-repository worktree
// configuration stored in the repository root.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the repository root.
const FileName = ".wtm.yaml"

// DefaultDirectory is where new worktrees go, relative to the repository root.
const DefaultDirectory = ".worktrees"

// DefaultExcludes are never copied into or synced between worktrees.
var DefaultExcludes = []string{
	".git",
	"node_modules",
	"dist",
	"build",
	".next",
	".turbo",
	"coverage",
}

// detectCandidates are untracked-by-convention files worth carrying into a
// new worktree when present in the main one.
var detectCandidates = []string{
	".env",
	".env.*",
	".envrc",
	".claude/settings.local.json",
	".mcp.json",
}

var (
	// ErrMalformed wraps any decode or validation failure of the config file.
	ErrMalformed = errors.New("malformed worktree config")
	// ErrNotFound means the repository has no config file.
	ErrNotFound = errors.New("worktree config not found")
)

// Source says where a WorktreeConfig came from.
type Source string

const (
	SourceFile     Source = "file"
	SourceDetected Source = "detected"
)

// InstallConfig overrides dependency installation in new worktrees.
type InstallConfig struct {
	// Command runs through `sh -c` in the new worktree instead of the detected one.
	Command string `yaml:"command,omitempty"`
	// Skip disables installation entirely.
	Skip bool `yaml:"skip,omitempty"`
}

// WorktreeConfig holds one repository's worktree settings.
type WorktreeConfig struct {
	Directory string        `yaml:"directory,omitempty"`
	Copy      []string      `yaml:"copy,omitempty"`
	Exclude   []string      `yaml:"exclude,omitempty"`
	Install   InstallConfig `yaml:"install,omitempty"`

	Source Source `yaml:"-"`
}

// Path returns the config file location for a repository root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, FileName)
}

// Load reads the config file. It returns ErrNotFound when the file is absent
// and ErrMalformed for YAML errors, unknown keys, or invalid globs.
func Load(repoRoot string) (*WorktreeConfig, error) {
	data, err := os.ReadFile(Path(repoRoot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Path(repoRoot))
	}
	if err != nil {
		return nil, err
	}

	cfg := &WorktreeConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Source = SourceFile
	return cfg, nil
}

// LoadOrDetect loads the config file, falling back to AutoDetect when the
// repository has none. A malformed file is an error, never a fallback.
func LoadOrDetect(repoRoot string) (*WorktreeConfig, error) {
	cfg, err := Load(repoRoot)
	if errors.Is(err, ErrNotFound) {
		return AutoDetect(repoRoot)
	}
	return cfg, err
}

// AutoDetect builds a config from what exists in repoRoot without writing it.
func AutoDetect(repoRoot string) (*WorktreeConfig, error) {
	cfg := &WorktreeConfig{Source: SourceDetected}
	for _, pattern := range detectCandidates {
		matches, err := filepath.Glob(filepath.Join(repoRoot, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			cfg.Copy = append(cfg.Copy, pattern)
		}
	}
	return cfg, nil
}

// Write persists cfg to the repository root, replacing any existing file.
func Write(repoRoot string, cfg *WorktreeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial file
	tmp, err := os.CreateTemp(repoRoot, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp.Name(), Path(repoRoot))
}

// Validate rejects empty or unparseable patterns.
func (c *WorktreeConfig) Validate() error {
	for _, list := range [][]string{c.Copy, c.Exclude} {
		for _, p := range list {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("%w: empty pattern", ErrMalformed)
			}
			if _, err := compile(p); err != nil {
				return fmt.Errorf("%w: bad pattern %q: %v", ErrMalformed, p, err)
			}
		}
	}
	return nil
}

// WorktreeDir returns the configured worktree directory or the default.
func (c *WorktreeConfig) WorktreeDir() string {
	if c.Directory != "" {
		return c.Directory
	}
	return DefaultDirectory
}

// Excludes returns the default excludes followed by user excludes and the
// worktree directory itself when it sits inside the repository, deduplicated
// and in order.
func (c *WorktreeConfig) Excludes() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range DefaultExcludes {
		add(p)
	}
	for _, p := range c.Exclude {
		add(p)
	}
	if dir := filepath.ToSlash(filepath.Clean(c.WorktreeDir())); !filepath.IsAbs(dir) && !strings.HasPrefix(dir, "..") {
		add(dir)
	}
	return out
}

// IsExcluded reports whether a slash-separated path relative to the repository
// root falls under any exclude pattern.
func (c *WorktreeConfig) IsExcluded(rel string) bool {
	for _, p := range c.Excludes() {
		if MatchGlob(p, rel) {
			return true
		}
	}
	return false
}

// ShouldCopy reports whether rel matches a copy pattern and no exclude.
func (c *WorktreeConfig) ShouldCopy(rel string) bool {
	if c.IsExcluded(rel) {
		return false
	}
	for _, p := range c.Copy {
		if MatchGlob(p, rel) {
			return true
		}
	}
	return false
}

// MatchGlob matches a pattern against a slash-separated relative path.
// Patterns without a slash match any single path segment (so "node_modules"
// covers every nested node_modules). Patterns with a slash match the whole
// path or any leading directory of it. A trailing slash is ignored. "*" never
// crosses a slash, "**" does.
func MatchGlob(pattern, rel string) bool {
	g, err := compile(pattern)
	if err != nil {
		return false
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	segments := strings.Split(rel, "/")

	if !strings.Contains(normalizePattern(pattern), "/") {
		for _, seg := range segments {
			if g.Match(seg) {
				return true
			}
		}
		return false
	}

	for i := range segments {
		if g.Match(strings.Join(segments[:i+1], "/")) {
			return true
		}
	}
	return false
}

var globs sync.Map // normalized pattern -> glob.Glob

func normalizePattern(pattern string) string {
	return strings.TrimSuffix(filepath.ToSlash(pattern), "/")
}

func compile(pattern string) (glob.Glob, error) {
	key := normalizePattern(pattern)
	if g, ok := globs.Load(key); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(key, '/')
	if err != nil {
		return nil, err
	}
	globs.Store(key, g)
	return g, nil
}
