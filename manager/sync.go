package manager

import (
	"context"
	"fmt"

	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/runner"
)

// Sync copies config-selected files from the main worktree into each target
// worktree. Targets sync independently: one failing never stops the others,
// and each reports its own outcome.
func (m *Manager) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	limit, err := m.limitFor(opts.Concurrency)
	if err != nil {
		return nil, err
	}

	worktrees, err := m.git.ListWorktrees(ctx, m.root)
	if err != nil {
		return nil, err
	}
	if len(worktrees) == 0 {
		return nil, fmt.Errorf("no worktrees reported for %s", m.root)
	}
	main := worktrees[0]

	var targets []git.WorktreeInfo
	if len(opts.Targets) == 0 {
		for _, wt := range worktrees {
			if !wt.IsMain && !wt.Bare && !wt.Prunable {
				targets = append(targets, wt)
			}
		}
	} else {
		for _, t := range opts.Targets {
			wt, err := findIn(worktrees, m.root, t)
			if err != nil {
				return nil, err
			}
			targets = append(targets, *wt)
		}
	}

	files, err := m.copyCandidates(ctx, main.Path)
	if err != nil {
		return nil, err
	}

	outcomes, err := runner.Run(ctx, limit, targets, func(ctx context.Context, wt git.WorktreeInfo) ([]string, error) {
		if wt.IsMain {
			return []string{}, nil
		}
		return syncFiles(main.Path, wt.Path, files, opts.DryRun)
	})
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Source: main.Path, Files: files, DryRun: opts.DryRun, Worktrees: make([]SyncWorktreeResult, len(targets))}
	for i, o := range outcomes {
		w := SyncWorktreeResult{Path: targets[i].Path, Branch: targets[i].Branch, Files: o.Value, OK: o.OK()}
		if w.Files == nil {
			w.Files = []string{}
		}
		if o.Err != nil {
			w.Error = o.Err.Error()
			m.log.Warn("sync failed", "path", w.Path, "error", o.Err)
		}
		result.Worktrees[i] = w
	}

	m.log.Info("synced worktrees", "targets", len(targets), "files", len(files), "failed", len(result.Failed()), "dryRun", opts.DryRun)
	if !opts.DryRun {
		m.emitter.Emit(ctx, events.TypeWorktreeSynced, result)
	}
	return result, nil
}
