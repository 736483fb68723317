package manager

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/pkgmgr"
)

// Create adds a worktree for opts.Branch, copies config-selected files from
// the main worktree into it, and installs dependencies. The branch is created
// from opts.Base when it does not exist. Install failures are recorded in the
// result rather than returned.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	if opts.Branch == "" {
		return nil, fmt.Errorf("branch is required")
	}

	path := opts.Path
	if path == "" {
		path = git.WorktreePathForBranch(m.root, m.cfg.WorktreeDir(), opts.Branch)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("worktree path already exists: %s", path)
	}

	main, err := m.git.MainWorktree(ctx, m.root)
	if err != nil {
		return nil, err
	}

	newBranch := !m.git.BranchExists(ctx, m.root, opts.Branch)
	if err := m.git.AddWorktree(ctx, m.root, path, opts.Branch, newBranch, opts.Base); err != nil {
		return nil, err
	}
	head, err := m.git.ResolveCommit(ctx, path, "HEAD")
	if err != nil {
		return nil, err
	}

	result := &CreateResult{
		Path:          path,
		Branch:        opts.Branch,
		Head:          head,
		BranchCreated: newBranch,
		CopiedFiles:   []string{},
	}

	if !opts.NoCopy {
		files, err := m.copyCandidates(ctx, main.Path)
		if err != nil {
			return result, fmt.Errorf("worktree created at %s but file copy failed: %w", path, err)
		}
		copied, err := syncFiles(main.Path, path, files, false)
		result.CopiedFiles = copied
		if err != nil {
			return result, fmt.Errorf("worktree created at %s but file copy failed: %w", path, err)
		}
	}

	result.Install = m.install(ctx, path, opts.NoInstall)

	m.log.Info("created worktree", "path", path, "branch", opts.Branch, "newBranch", newBranch,
		"copied", len(result.CopiedFiles), "install", result.Install.Command)
	m.emitter.Emit(ctx, events.TypeWorktreeCreated, result)
	return result, nil
}

// install runs the configured override through `sh -c`, or the detected
// package manager's install command, inside the new worktree.
func (m *Manager) install(ctx context.Context, path string, disabled bool) *InstallResult {
	switch {
	case disabled:
		return &InstallResult{Skipped: true, SkipReason: "disabled"}
	case m.cfg.Install.Skip:
		return &InstallResult{Skipped: true, SkipReason: "config"}
	}

	exec := m.git.Executor()
	if cmd := m.cfg.Install.Command; cmd != "" {
		res := &InstallResult{Command: cmd}
		if _, err := exec.Output(ctx, path, "sh", "-c", cmd); err != nil {
			res.Error = err.Error()
			m.log.Warn("install command failed", "path", path, "command", cmd, "error", err)
		}
		return res
	}

	detected, err := pkgmgr.Detect(path)
	if errors.Is(err, pkgmgr.ErrNotDetected) {
		return &InstallResult{Skipped: true, SkipReason: "not-detected"}
	}
	if err != nil {
		return &InstallResult{Error: err.Error()}
	}

	res := &InstallResult{Command: detected.String(), Manager: detected.Name}
	if _, err := exec.Output(ctx, path, detected.Command[0], detected.Command[1:]...); err != nil {
		res.Error = err.Error()
		m.log.Warn("install failed", "path", path, "command", res.Command, "error", err)
	}
	return res
}
