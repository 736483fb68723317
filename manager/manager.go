// Package manager composes the git, config, package-manager, and runner
// packages into the worktree lifecycle operations: create, delete, sync,
// clean, status, and watch. Every operation returns one structured result
// and never writes to a terminal.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nathanvale/side-quest-git-sub001/config"
	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/logger"
	"github.com/nathanvale/side-quest-git-sub001/runner"
)

var (
	// ErrWorktreeNotFound means no worktree matches the given path or branch.
	ErrWorktreeNotFound = errors.New("worktree not found")
	// ErrUnsafeDelete means a delete pre-flight check failed.
	ErrUnsafeDelete = errors.New("worktree is not safe to delete")
	// ErrMainWorktree is returned for any attempt to remove the main worktree.
	ErrMainWorktree = errors.New("refusing to remove the main worktree")
)

// Emitter receives lifecycle events. It must not block for long and has no
// failure outcome; *events.Emitter satisfies it.
type Emitter interface {
	Emit(ctx context.Context, typ events.Type, data any)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, events.Type, any) {}

// Options configures a Manager.
type Options struct {
	// Concurrency overrides the runner limit for every operation. Zero
	// defers to WTM_CONCURRENCY and then the default.
	Concurrency int
	// Emitter receives lifecycle events. Nil drops them.
	Emitter Emitter
	// Now replaces the clock used to stamp clean passes.
	Now func() time.Time
}

// Manager runs lifecycle operations against one repository.
type Manager struct {
	git     *git.GitService
	root    string
	cfg     *config.WorktreeConfig
	limit   int
	emitter Emitter
	now     func() time.Time
	log     *slog.Logger
}

// New validates the concurrency limit and loads the repository config before
// touching git, so configuration errors fail fast. repoRoot should be the
// main worktree.
func New(gitSvc *git.GitService, repoRoot string, opts Options) (*Manager, error) {
	limit, err := runner.ResolveLimit(opts.Concurrency)
	if err != nil {
		return nil, err
	}
	root := config.NormalizePath(repoRoot)
	cfg, err := config.LoadOrDetect(root)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		git:     gitSvc,
		root:    root,
		cfg:     cfg,
		limit:   limit,
		emitter: opts.Emitter,
		now:     opts.Now,
		log:     logger.WithRepo("manager", root),
	}
	if m.emitter == nil {
		m.emitter = nopEmitter{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.log.Debug("manager ready", "concurrency", limit, "configSource", cfg.Source)
	return m, nil
}

// Root returns the repository root the manager operates on.
func (m *Manager) Root() string {
	return m.root
}

// Config returns the loaded or detected worktree config.
func (m *Manager) Config() *config.WorktreeConfig {
	return m.cfg
}

// limitFor applies a per-call override on top of the manager's limit.
func (m *Manager) limitFor(override int) (int, error) {
	if override < 0 {
		return 0, fmt.Errorf("%w: %d", runner.ErrInvalidConcurrency, override)
	}
	if override > 0 {
		return override, nil
	}
	return m.limit, nil
}

// FindWorktree resolves a path or branch name to a registered worktree.
func (m *Manager) FindWorktree(ctx context.Context, target string) (*git.WorktreeInfo, error) {
	worktrees, err := m.git.ListWorktrees(ctx, m.root)
	if err != nil {
		return nil, err
	}
	return findIn(worktrees, m.root, target)
}

func findIn(worktrees []git.WorktreeInfo, root, target string) (*git.WorktreeInfo, error) {
	for i := range worktrees {
		if worktrees[i].Branch != "" && worktrees[i].Branch == target {
			return &worktrees[i], nil
		}
	}
	path := target
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	for i := range worktrees {
		if config.SamePath(worktrees[i].Path, path) {
			return &worktrees[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWorktreeNotFound, target)
}
