package manager

import (
	"context"
	"fmt"

	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
)

// CheckDelete runs the pre-flight checks for removing wt and returns every
// reason that applies. A git failure is returned as an error, never folded
// into a verdict.
func (m *Manager) CheckDelete(ctx context.Context, wt git.WorktreeInfo) (DeleteCheck, error) {
	return m.checkDelete(ctx, wt, m.git.GetDefaultBranch(ctx, m.root))
}

func (m *Manager) checkDelete(ctx context.Context, wt git.WorktreeInfo, defaultBranch string) (DeleteCheck, error) {
	check := DeleteCheck{Worktree: wt, Reasons: []Reason{}}
	if wt.IsMain {
		check.Reasons = append(check.Reasons, ReasonMain)
	}
	if wt.Locked {
		check.Reasons = append(check.Reasons, ReasonLocked)
	}

	// A prunable worktree has no directory left to be dirty
	if !wt.Prunable {
		files, err := m.git.GetFileCounts(ctx, wt.Path)
		if err != nil {
			return check, err
		}
		check.Files = files
		if files.Dirty() {
			check.Reasons = append(check.Reasons, ReasonDirty)
		}
	}

	div, err := m.git.InspectDivergence(ctx, m.root, wt, defaultBranch)
	if err != nil {
		return check, err
	}
	check.Divergence = div
	if div.Ahead > 0 {
		check.Reasons = append(check.Reasons, ReasonAhead)
	}
	return check, nil
}

// Delete removes one worktree after a successful backup. It refuses the main
// worktree and locked worktrees outright, and dirty or ahead ones unless
// opts.Force is set. If the backup cannot be written nothing is removed.
func (m *Manager) Delete(ctx context.Context, opts DeleteOptions) (*DeleteResult, error) {
	wt, err := m.FindWorktree(ctx, opts.Target)
	if err != nil {
		return nil, err
	}
	if wt.IsMain {
		return nil, ErrMainWorktree
	}

	check, err := m.CheckDelete(ctx, *wt)
	if err != nil {
		return nil, err
	}
	if blocking := check.Blocking(opts.Force); len(blocking) > 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsafeDelete, wt.Path, blocking)
	}

	backup, err := m.git.CreateBackupRef(ctx, m.root, *wt, wt.Head)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{Path: wt.Path, Branch: wt.Branch, Commit: backup.Commit, Backup: backup}
	for _, r := range check.Reasons {
		if r.Overridable() {
			result.Forced = append(result.Forced, r)
		}
	}

	if wt.Prunable {
		if err := m.git.PruneWorktrees(ctx, m.root); err != nil {
			return result, err
		}
		result.Pruned = true
	} else if err := m.git.RemoveWorktree(ctx, m.root, wt.Path, check.Has(ReasonDirty)); err != nil {
		return result, err
	}

	if opts.DeleteBranch && wt.Branch != "" {
		if err := m.git.DeleteBranch(ctx, m.root, wt.Branch); err != nil {
			return result, fmt.Errorf("worktree removed but %w", err)
		}
		result.BranchDeleted = true
	}

	m.log.Info("deleted worktree", "path", wt.Path, "branch", wt.Branch, "backup", backup.Ref, "forced", result.Forced)
	m.emitter.Emit(ctx, events.TypeWorktreeDeleted, result)
	return result, nil
}
