package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// BranchDivergence represents how far head has moved relative to a base.
type BranchDivergence struct {
	Behind int `json:"behind"` // Commits on base not on head
	Ahead  int `json:"ahead"`  // Commits on head not on base
}

// IsDiverged returns true if the branches have diverged (both ahead and behind).
func (d *BranchDivergence) IsDiverged() bool {
	return d.Behind > 0 && d.Ahead > 0
}

// CanFastForward returns true if head can fast-forward to base (not ahead).
func (d *BranchDivergence) CanFastForward() bool {
	return d.Ahead == 0
}

// Upstream describes a branch's configured remote-tracking branch.
type Upstream struct {
	Name string `json:"name,omitempty"` // e.g. "origin/feature/a"; empty when none configured
	Gone bool   `json:"gone"`           // Configured, but the remote-tracking ref no longer exists
}

// Divergence is the ahead/behind summary for one worktree's branch.
type Divergence struct {
	BranchDivergence
	Upstream Upstream `json:"upstream"`
	// Base is what Ahead/Behind were measured against: the upstream when it
	// exists, otherwise the default branch.
	Base string `json:"base,omitempty"`
}

// GetBranchDivergence returns how many commits head is behind and ahead of
// base. Uses git rev-list --count --left-right which outputs "behind\tahead".
func (s *GitService) GetBranchDivergence(ctx context.Context, repoPath, head, base string) (*BranchDivergence, error) {
	out, err := s.output(ctx, repoPath, "rev-list", "--count", "--left-right",
		fmt.Sprintf("%s...%s", base, head))
	if err != nil {
		return nil, fmt.Errorf("failed to get branch divergence: %w", err)
	}
	return parseLeftRight(out)
}

func parseLeftRight(out string) (*BranchDivergence, error) {
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected rev-list output format: %q", out)
	}

	behind, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse behind count: %w", err)
	}
	ahead, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ahead count: %w", err)
	}

	return &BranchDivergence{Behind: behind, Ahead: ahead}, nil
}

// GetUpstream reports the upstream of a local branch and whether it is gone.
func (s *GitService) GetUpstream(ctx context.Context, repoPath, branch string) (Upstream, error) {
	out, err := s.output(ctx, repoPath, "for-each-ref",
		"--format=%(upstream:short)%00%(upstream:track)", "refs/heads/"+branch)
	if err != nil {
		return Upstream{}, fmt.Errorf("failed to read upstream of %s: %w", branch, err)
	}
	name, track, _ := strings.Cut(out, "\x00")
	return Upstream{Name: name, Gone: isGoneTrack(track)}, nil
}

func isGoneTrack(track string) bool {
	return strings.Contains(track, "gone")
}

// InspectDivergence computes ahead/behind for a worktree. Branches with a live
// upstream are measured against it; branches without one (or whose upstream
// is gone) and detached heads are measured against the default branch, so
// "ahead" always means work that exists nowhere else.
func (s *GitService) InspectDivergence(ctx context.Context, repoPath string, wt WorktreeInfo, defaultBranch string) (*Divergence, error) {
	d := &Divergence{}

	head := wt.Head
	if wt.Branch != "" {
		head = "refs/heads/" + wt.Branch
		up, err := s.GetUpstream(ctx, repoPath, wt.Branch)
		if err != nil {
			return nil, err
		}
		d.Upstream = up
		if up.Name != "" && !up.Gone {
			d.Base = up.Name
		}
	}

	if d.Base == "" {
		if wt.Branch == defaultBranch || defaultBranch == "" {
			return d, nil
		}
		d.Base = "refs/heads/" + defaultBranch
	}

	counts, err := s.GetBranchDivergence(ctx, repoPath, head, d.Base)
	if err != nil {
		return nil, err
	}
	d.BranchDivergence = *counts
	return d, nil
}
