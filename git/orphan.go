package git

import (
	"context"
	"fmt"
)

// OrphanStatus classifies a branch that has no worktree.
type OrphanStatus string

const (
	// OrphanMerged: the tip is reachable from the default branch.
	OrphanMerged OrphanStatus = "merged"
	// OrphanGone: the tracked upstream ref no longer exists.
	OrphanGone OrphanStatus = "gone"
	// OrphanUnmerged: commits exist that the default branch lacks.
	OrphanUnmerged OrphanStatus = "unmerged"
	// OrphanUnknown: history is too shallow to tell merged from unmerged.
	OrphanUnknown OrphanStatus = "unknown"
)

// OrphanBranch is a local branch no worktree has checked out.
type OrphanBranch struct {
	Branch   string       `json:"branch"`
	Commit   string       `json:"commit"`
	Upstream string       `json:"upstream,omitempty"`
	Status   OrphanStatus `json:"status"`
}

// OrphanOptions controls DetectOrphans.
type OrphanOptions struct {
	// DefaultBranch is what "merged" is measured against. Detected if empty.
	DefaultBranch string
	// AllowShallow trusts merge checks in a shallow clone, reporting
	// unmerged instead of unknown.
	AllowShallow bool
}

// ClassifyOrphan decides an orphan's status. A reachable tip is merged even in
// a shallow clone; an unreachable one is only known to be unmerged when the
// full history is present, otherwise it is unknown.
func ClassifyOrphan(merged, upstreamGone, shallow, allowShallow bool) OrphanStatus {
	switch {
	case merged:
		return OrphanMerged
	case upstreamGone:
		return OrphanGone
	case shallow && !allowShallow:
		return OrphanUnknown
	default:
		return OrphanUnmerged
	}
}

// DetectOrphans returns every local branch without a worktree, other than the
// default branch, classified by merge state.
func (s *GitService) DetectOrphans(ctx context.Context, repoRoot string, opts OrphanOptions) ([]OrphanBranch, error) {
	defaultBranch := opts.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = s.GetDefaultBranch(ctx, repoRoot)
	}

	worktrees, err := s.ListWorktrees(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	checkedOut := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		if wt.Branch != "" {
			checkedOut[wt.Branch] = true
		}
	}

	branches, err := s.ListLocalBranches(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	merged, err := s.MergedBranches(ctx, repoRoot, defaultBranch)
	if err != nil {
		return nil, err
	}
	shallow, err := s.IsShallow(ctx, repoRoot)
	if err != nil {
		return nil, fmt.Errorf("orphan detection: %w", err)
	}

	orphans := []OrphanBranch{}
	for _, b := range branches {
		if checkedOut[b.Name] || b.Name == defaultBranch {
			continue
		}
		orphans = append(orphans, OrphanBranch{
			Branch:   b.Name,
			Commit:   b.Commit,
			Upstream: b.Upstream.Name,
			Status:   ClassifyOrphan(merged[b.Name], b.Upstream.Gone, shallow, opts.AllowShallow),
		})
	}
	return orphans, nil
}
