package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/nathanvale/side-quest-git-sub001/logger"
)

// WorktreeInfo describes one entry of `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path       string `json:"path"`             // Absolute worktree path
	Branch     string `json:"branch,omitempty"` // Short branch name, empty when detached
	Head       string `json:"head"`             // Commit the worktree's HEAD points at
	Detached   bool   `json:"detached"`
	Bare       bool   `json:"bare,omitempty"`
	Locked     bool   `json:"locked"`
	LockReason string `json:"lockReason,omitempty"`
	Prunable   bool   `json:"prunable"` // Worktree directory is gone; git would prune it
	IsMain     bool   `json:"isMain"`   // First entry: the repository's main working tree
}

// Name returns the branch name or a detached marker with the short head.
func (w WorktreeInfo) Name() string {
	if w.Branch != "" {
		return w.Branch
	}
	head := w.Head
	if len(head) > 7 {
		head = head[:7]
	}
	return "(detached " + head + ")"
}

// ListWorktrees returns every worktree registered in the repository that
// contains dir. The first entry is always the main worktree.
func (s *GitService) ListWorktrees(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	out, err := s.executor.Output(ctx, dir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return ParseWorktreePorcelain(string(out)), nil
}

// ParseWorktreePorcelain parses `git worktree list --porcelain` output.
//
// Blocks are separated by blank lines; each line is either "key value" or a
// bare marker:
//
//	worktree /path/to/main
//	HEAD abc123
//	branch refs/heads/main
//
//	worktree /path/to/feature
//	HEAD def456
//	detached
//	locked reason text
func ParseWorktreePorcelain(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current *WorktreeInfo

	flush := func() {
		if current != nil {
			current.IsMain = len(worktrees) == 0
			worktrees = append(worktrees, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line == "" {
			flush()
			continue
		}

		key, value, _ := strings.Cut(line, " ")
		if key == "worktree" {
			flush()
			current = &WorktreeInfo{Path: value}
			continue
		}
		if current == nil {
			continue
		}

		switch key {
		case "HEAD":
			current.Head = value
		case "branch":
			ref := plumbing.ReferenceName(value)
			if ref.IsBranch() {
				current.Branch = ref.Short()
			} else {
				current.Branch = value
			}
		case "detached":
			current.Detached = true
		case "bare":
			current.Bare = true
		case "locked":
			current.Locked = true
			current.LockReason = value
		case "prunable":
			current.Prunable = true
		}
	}
	flush()

	return worktrees
}

// MainWorktree returns the main worktree of the repository containing dir.
func (s *GitService) MainWorktree(ctx context.Context, dir string) (*WorktreeInfo, error) {
	worktrees, err := s.ListWorktrees(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(worktrees) == 0 {
		return nil, fmt.Errorf("no worktrees reported for %s", dir)
	}
	return &worktrees[0], nil
}

// AddWorktree creates a worktree at path. When newBranch is set the branch is
// created from base (HEAD if empty); otherwise the existing branch is checked out.
func (s *GitService) AddWorktree(ctx context.Context, repoRoot, path, branch string, newBranch bool, base string) error {
	args := []string{"worktree", "add"}
	if newBranch {
		args = append(args, "-b", branch, path)
		if base != "" {
			args = append(args, base)
		}
	} else {
		args = append(args, path, branch)
	}

	if _, err := s.executor.Output(ctx, repoRoot, "git", args...); err != nil {
		return fmt.Errorf("git worktree add failed: %w", err)
	}
	logger.WithComponent("git").Info("added worktree", "path", path, "branch", branch, "newBranch", newBranch)
	return nil
}

// AddDetachedWorktree creates a worktree at path with HEAD detached at commit.
func (s *GitService) AddDetachedWorktree(ctx context.Context, repoRoot, path, commit string) error {
	if _, err := s.executor.Output(ctx, repoRoot, "git", "worktree", "add", "--detach", path, commit); err != nil {
		return fmt.Errorf("git worktree add --detach failed: %w", err)
	}
	return nil
}

// RemoveWorktree removes the worktree at path. force discards uncommitted changes.
func (s *GitService) RemoveWorktree(ctx context.Context, repoRoot, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = []string{"worktree", "remove", "--force", path}
	}
	if _, err := s.executor.Output(ctx, repoRoot, "git", args...); err != nil {
		return fmt.Errorf("git worktree remove failed: %w", err)
	}
	logger.WithComponent("git").Info("removed worktree", "path", path, "force", force)
	return nil
}

// PruneWorktrees drops administrative data for worktrees whose directory is gone.
func (s *GitService) PruneWorktrees(ctx context.Context, repoRoot string) error {
	if _, err := s.executor.Output(ctx, repoRoot, "git", "worktree", "prune"); err != nil {
		return fmt.Errorf("git worktree prune failed: %w", err)
	}
	return nil
}

// WorktreePathForBranch returns the conventional location of a branch's
// worktree below dir (e.g. ".worktrees/feature-login").
func WorktreePathForBranch(repoRoot, dir, branch string) string {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoRoot, dir)
	}
	return filepath.Join(dir, SanitizeBranchForPath(branch))
}
