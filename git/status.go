package git

import (
	"context"
	"fmt"
	"strings"
)

// FileCounts summarizes `git status --porcelain` for one worktree.
type FileCounts struct {
	Staged     int `json:"staged"`
	Modified   int `json:"modified"`
	Untracked  int `json:"untracked"`
	Conflicted int `json:"conflicted"`
}

// Dirty reports whether any tracked or untracked change is present.
func (c FileCounts) Dirty() bool {
	return c.Staged+c.Modified+c.Untracked+c.Conflicted > 0
}

// Total returns the number of changed paths.
func (c FileCounts) Total() int {
	return c.Staged + c.Modified + c.Untracked + c.Conflicted
}

// GetFileCounts returns staged/modified/untracked counts for a worktree. It
// skips the opportunistic index refresh so read-only callers never write.
func (s *GitService) GetFileCounts(ctx context.Context, worktreePath string) (FileCounts, error) {
	out, err := s.executor.Output(ctx, worktreePath, "git", "--no-optional-locks", "status", "--porcelain=v1", "--untracked-files=normal")
	if err != nil {
		return FileCounts{}, fmt.Errorf("git status failed: %w", err)
	}
	return ParseStatusCounts(string(out)), nil
}

// ParseStatusCounts counts porcelain v1 lines. A path staged and then modified
// again counts once in each column.
func ParseStatusCounts(output string) FileCounts {
	var c FileCounts
	// Only trim trailing whitespace - the leading space of " M" is significant
	for _, line := range strings.Split(strings.TrimRight(output, "\n\r"), "\n") {
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		switch {
		case x == '?' && y == '?':
			c.Untracked++
		case x == '!' && y == '!':
			// ignored files are not reported without --ignored
		case isConflict(x, y):
			c.Conflicted++
		default:
			if x != ' ' {
				c.Staged++
			}
			if y != ' ' {
				c.Modified++
			}
		}
	}
	return c
}

func isConflict(x, y byte) bool {
	if x == 'U' || y == 'U' {
		return true
	}
	return (x == 'A' && y == 'A') || (x == 'D' && y == 'D')
}

// UntrackedPaths lists untracked and ignored paths in a worktree, relative to
// its root and slash-separated. A directory holding nothing tracked is
// collapsed into a single "dir/" entry.
func (s *GitService) UntrackedPaths(ctx context.Context, worktreePath string) ([]string, error) {
	out, err := s.executor.Output(ctx, worktreePath, "git", "ls-files", "-z", "--others", "--directory")
	if err != nil {
		return nil, fmt.Errorf("failed to list untracked files: %w", err)
	}
	var paths []string
	for _, p := range strings.Split(string(out), "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
