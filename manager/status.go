package manager

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/runner"
)

// GetWorktreeStatus computes one worktree's status snapshot.
func (m *Manager) GetWorktreeStatus(ctx context.Context, wt git.WorktreeInfo) (*WorktreeStatus, error) {
	return m.worktreeStatus(ctx, wt, m.git.GetDefaultBranch(ctx, m.root))
}

func (m *Manager) worktreeStatus(ctx context.Context, wt git.WorktreeInfo, defaultBranch string) (*WorktreeStatus, error) {
	st := &WorktreeStatus{WorktreeInfo: wt}
	if wt.Bare {
		return st, nil
	}

	if !wt.Prunable {
		files, err := m.git.GetFileCounts(ctx, wt.Path)
		if err != nil {
			return st, err
		}
		st.Staged = files.Staged
		st.Modified = files.Modified
		st.Untracked = files.Untracked
		st.Conflicted = files.Conflicted
		st.Dirty = files.Dirty()
	}

	div, err := m.git.InspectDivergence(ctx, m.root, wt, defaultBranch)
	if err != nil {
		return st, err
	}
	st.Ahead = div.Ahead
	st.Behind = div.Behind
	st.Upstream = div.Upstream.Name
	st.UpstreamGone = div.Upstream.Gone
	st.Base = div.Base
	st.Diverged = div.IsDiverged()
	st.FastForward = div.Behind > 0 && div.CanFastForward()
	return st, nil
}

// Status computes every worktree's status through the runner. A worktree
// whose git commands fail carries the failure in its Error field.
func (m *Manager) Status(ctx context.Context) ([]WorktreeStatus, error) {
	worktrees, err := m.git.ListWorktrees(ctx, m.root)
	if err != nil {
		return nil, err
	}
	defaultBranch := m.git.GetDefaultBranch(ctx, m.root)

	outcomes, err := runner.Run(ctx, m.limit, worktrees, func(ctx context.Context, wt git.WorktreeInfo) (*WorktreeStatus, error) {
		return m.worktreeStatus(ctx, wt, defaultBranch)
	})
	if err != nil {
		return nil, err
	}

	if errs := runner.Errors(outcomes); len(errs) > 0 {
		m.log.Warn("status failed for some worktrees", "failed", len(errs), "first", errs[0])
	}

	statuses := make([]WorktreeStatus, len(worktrees))
	for i, o := range outcomes {
		if o.Value != nil {
			statuses[i] = *o.Value
		} else {
			statuses[i] = WorktreeStatus{WorktreeInfo: worktrees[i]}
		}
		if o.Err != nil {
			statuses[i].Error = o.Err.Error()
		}
	}
	return statuses, nil
}

// Watch computes Status immediately and then once per interval, handing each
// result to sink. Ticks never overlap: when an interval elapses while the
// previous tick (sink included) is still running, that interval is dropped,
// not queued. A failed tick reaches the sink with Err set and the loop goes
// on. Watch returns nil once ctx is cancelled and any in-flight tick has
// finished.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, sink func(StatusTick)) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive: %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	inFlight := semaphore.NewWeighted(1)
	seq, skipped := 0, 0

	fire := func() {
		if !inFlight.TryAcquire(1) {
			skipped++
			m.log.Debug("watch tick skipped, previous still running", "skipped", skipped)
			return
		}
		seq++
		tick := StatusTick{Seq: seq, Skipped: skipped}
		skipped = 0
		go func() {
			defer inFlight.Release(1)
			tick.At = time.Now()
			tick.Statuses, tick.Err = m.Status(ctx)
			if ctx.Err() != nil {
				return
			}
			sink(tick)
		}()
	}

	fire()
	for {
		select {
		case <-ctx.Done():
			// Wait for the in-flight tick so no git subprocess outlives Watch
			_ = inFlight.Acquire(context.Background(), 1)
			return nil
		case <-ticker.C:
			fire()
		}
	}
}
