package manager

import (
	"context"

	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/runner"
)

// Clean removes every linked worktree that is safe to remove, backing each
// one up first. With IncludeOrphans it also deletes merged or gone branches
// that have no worktree. Every candidate ends up in exactly one of
// result.Cleaned or result.Skipped.
//
// The pass runs in three phases. Checks run through the runner. Confirm is
// then asked about each surviving candidate in order. Backup and removal run
// through the runner last, and a candidate whose backup fails is skipped
// without being touched. DryRun stops after the checks: no confirmation, no
// writes, and the pass is not recorded.
func (m *Manager) Clean(ctx context.Context, opts CleanOptions) (*CleanResult, error) {
	limit, err := m.limitFor(opts.Concurrency)
	if err != nil {
		return nil, err
	}
	started := m.now()

	worktrees, err := m.git.ListWorktrees(ctx, m.root)
	if err != nil {
		return nil, err
	}
	defaultBranch := m.git.GetDefaultBranch(ctx, m.root)
	shallow, err := m.git.IsShallow(ctx, m.root)
	if err != nil {
		return nil, err
	}
	merged, err := m.git.MergedBranches(ctx, m.root, defaultBranch)
	if err != nil {
		return nil, err
	}

	result := &CleanResult{
		Cleaned:   []CleanedWorktree{},
		Skipped:   []SkippedWorktree{},
		Pruned:    []string{},
		DryRun:    opts.DryRun,
		StartedAt: started,
	}

	var units []*cleanUnit
	var prunable []string
	for _, wt := range worktrees {
		switch {
		case wt.IsMain || wt.Bare:
			continue
		case wt.Branch != "" && wt.Branch == defaultBranch:
			continue
		case wt.Prunable && !wt.Locked:
			prunable = append(prunable, wt.Path)
			continue
		}
		units = append(units, newWorktreeUnit(wt))
	}
	if opts.IncludeOrphans {
		orphans, err := m.git.DetectOrphans(ctx, m.root, git.OrphanOptions{DefaultBranch: defaultBranch, AllowShallow: opts.AllowShallow})
		if err != nil {
			return nil, err
		}
		for _, o := range orphans {
			units = append(units, newOrphanUnit(o))
		}
	}

	// Phase 1: checks
	if err := m.forEachUnit(ctx, limit, units, func(ctx context.Context, u *cleanUnit) {
		m.checkUnit(ctx, u, opts, defaultBranch, shallow, merged)
	}); err != nil {
		return nil, err
	}

	if !opts.DryRun {
		// Phase 2: confirmation
		if opts.Confirm != nil {
			for _, u := range units {
				if u.state == stateChecked && !opts.Confirm(u.candidate()) {
					u.skip(ReasonUserDeclined, nil)
				}
			}
		}

		// Phase 3: backup, then removal
		var removable []*cleanUnit
		for _, u := range units {
			if u.state == stateChecked {
				removable = append(removable, u)
			}
		}
		if err := m.forEachUnit(ctx, limit, removable, func(ctx context.Context, u *cleanUnit) {
			m.removeUnit(ctx, u, opts)
		}); err != nil {
			return nil, err
		}

		if len(prunable) > 0 {
			if err := m.git.PruneWorktrees(ctx, m.root); err != nil {
				m.log.Warn("prune failed", "error", err)
				prunable = nil
			}
		}
		if err := m.git.RecordCleanPass(ctx, m.root, started); err != nil {
			// Backups stay protected until a pass is recorded, so this only delays pruning
			m.log.Warn("failed to record clean pass", "error", err)
		}
	}
	result.Pruned = append(result.Pruned, prunable...)

	for _, u := range units {
		if u.state == stateSkipped {
			result.Skipped = append(result.Skipped, u.skipped())
		} else {
			result.Cleaned = append(result.Cleaned, u.cleaned())
		}
	}

	m.log.Info("clean pass finished", "cleaned", len(result.Cleaned), "skipped", len(result.Skipped),
		"pruned", len(result.Pruned), "dryRun", opts.DryRun)
	if !opts.DryRun {
		m.emitter.Emit(ctx, events.TypeWorktreeCleaned, result)
	}
	return result, nil
}

// forEachUnit runs fn over units through the runner. A unit the runner never
// started (the context was cancelled) is skipped with the context error.
func (m *Manager) forEachUnit(ctx context.Context, limit int, units []*cleanUnit, fn func(context.Context, *cleanUnit)) error {
	outcomes, err := runner.Run(ctx, limit, units, func(ctx context.Context, u *cleanUnit) (struct{}, error) {
		fn(ctx, u)
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	for i, o := range outcomes {
		if o.Err != nil && !units[i].terminal() {
			units[i].skip(ReasonError, o.Err)
		}
	}
	return nil
}

func (m *Manager) checkUnit(ctx context.Context, u *cleanUnit, opts CleanOptions, defaultBranch string, shallow bool, merged map[string]bool) {
	if u.orphan != nil {
		_ = u.advance(stateChecked)
		switch u.orphan.Status {
		case git.OrphanUnmerged:
			u.skip(ReasonUnmerged, nil)
		case git.OrphanUnknown:
			u.skip(ReasonShallowUnsafe, nil)
		}
		return
	}

	check, err := m.checkDelete(ctx, u.wt, defaultBranch)
	if err != nil {
		u.skip(ReasonError, err)
		return
	}
	u.check = check
	_ = u.advance(stateChecked)

	if blocking := check.Blocking(opts.Force); len(blocking) > 0 {
		u.skip(blocking[0], nil)
		return
	}
	// Truncated history makes "not ahead" unprovable unless the branch is
	// reachable from the default branch
	if shallow && !opts.AllowShallow && (u.wt.Branch == "" || !merged[u.wt.Branch]) {
		u.skip(ReasonShallowUnsafe, nil)
	}
}

func (m *Manager) removeUnit(ctx context.Context, u *cleanUnit, opts CleanOptions) {
	backup, err := m.git.CreateBackupRef(ctx, m.root, u.wt, u.wt.Head)
	if err != nil {
		u.skip(ReasonBackupFailed, err)
		return
	}
	u.backup = backup
	_ = u.advance(stateBackedUp)

	if u.orphan != nil {
		if err := m.git.DeleteBranch(ctx, m.root, u.wt.Branch); err != nil {
			u.skip(ReasonError, err)
			return
		}
		u.branchDeleted = true
		_ = u.advance(stateRemoved)
		return
	}

	if err := m.git.RemoveWorktree(ctx, m.root, u.wt.Path, opts.Force && u.check.Has(ReasonDirty)); err != nil {
		u.skip(ReasonError, err)
		return
	}
	_ = u.advance(stateRemoved)

	if opts.DeleteBranches && u.wt.Branch != "" {
		if err := m.git.DeleteBranch(ctx, m.root, u.wt.Branch); err != nil {
			u.branchErr = err
			m.log.Warn("worktree removed but branch deletion failed", "branch", u.wt.Branch, "error", err)
		} else {
			u.branchDeleted = true
		}
	}
}
