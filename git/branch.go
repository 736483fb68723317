package git

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/nathanvale/side-quest-git-sub001/logger"
)

// MaxBranchPathLength bounds the directory name derived from a branch.
const MaxBranchPathLength = 80

// GetDefaultBranch returns the branch that "merged" is measured against:
// origin's HEAD when known, else a local main or master, else whatever the
// main worktree has checked out.
func (s *GitService) GetDefaultBranch(ctx context.Context, repoPath string) string {
	if ref, err := s.output(ctx, repoPath, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		// Output is like "refs/remotes/origin/main"
		if name := strings.TrimPrefix(ref, "refs/remotes/origin/"); name != ref && s.BranchExists(ctx, repoPath, name) {
			return name
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if s.BranchExists(ctx, repoPath, candidate) {
			return candidate
		}
	}

	if head, err := s.output(ctx, repoPath, "symbolic-ref", "--short", "HEAD"); err == nil && head != "" {
		return head
	}
	return "main"
}

// BranchExists checks whether a local branch exists.
func (s *GitService) BranchExists(ctx context.Context, repoPath, branch string) bool {
	return s.succeeds(ctx, repoPath, "rev-parse", "--verify", "--quiet", plumbing.NewBranchReferenceName(branch).String())
}

// ResolveCommit returns the full commit id a revision points at.
func (s *GitService) ResolveCommit(ctx context.Context, repoPath, rev string) (string, error) {
	out, err := s.output(ctx, repoPath, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("cannot resolve %s: %w", rev, err)
	}
	if !isObjectID(out) {
		return "", fmt.Errorf("unexpected rev-parse output for %s: %q", rev, out)
	}
	return out, nil
}

// isObjectID accepts SHA-1 ids and the 64-char ids of SHA-256 repositories.
func isObjectID(s string) bool {
	if plumbing.IsHash(s) {
		return true
	}
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// CreateBranch creates branch at commit without checking it out.
func (s *GitService) CreateBranch(ctx context.Context, repoPath, branch, commit string) error {
	if _, err := s.executor.Output(ctx, repoPath, "git", "branch", branch, commit); err != nil {
		return fmt.Errorf("git branch %s failed: %w", branch, err)
	}
	return nil
}

// DeleteBranch deletes a local branch. Callers are expected to have taken a
// backup first, so deletion is always forced (-D).
func (s *GitService) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	if _, err := s.executor.Output(ctx, repoPath, "git", "branch", "-D", branch); err != nil {
		return fmt.Errorf("git branch -D %s failed: %w", branch, err)
	}
	logger.WithComponent("git").Info("deleted branch", "branch", branch, "repoPath", repoPath)
	return nil
}

// IsShallow reports whether the repository is a shallow clone.
func (s *GitService) IsShallow(ctx context.Context, repoPath string) (bool, error) {
	out, err := s.output(ctx, repoPath, "rev-parse", "--is-shallow-repository")
	if err != nil {
		return false, fmt.Errorf("failed to check shallow state: %w", err)
	}
	return out == "true", nil
}

// MergedBranches returns local branches whose tips are reachable from base.
func (s *GitService) MergedBranches(ctx context.Context, repoPath, base string) (map[string]bool, error) {
	out, err := s.output(ctx, repoPath, "branch", "--format=%(refname:short)", "--merged", plumbing.NewBranchReferenceName(base).String())
	if err != nil {
		return nil, fmt.Errorf("failed to list branches merged into %s: %w", base, err)
	}
	merged := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			merged[line] = true
		}
	}
	return merged, nil
}

// LocalBranch is one entry of the local branch listing.
type LocalBranch struct {
	Name     string
	Commit   string
	Upstream Upstream
}

// ListLocalBranches lists refs/heads with upstream tracking state.
func (s *GitService) ListLocalBranches(ctx context.Context, repoPath string) ([]LocalBranch, error) {
	out, err := s.output(ctx, repoPath, "for-each-ref",
		"--format=%(refname:short)%00%(objectname)%00%(upstream:short)%00%(upstream:track)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	var branches []LocalBranch
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, "\x00")
		if len(fields) != 4 || fields[0] == "" {
			continue
		}
		branches = append(branches, LocalBranch{
			Name:     fields[0],
			Commit:   fields[1],
			Upstream: Upstream{Name: fields[2], Gone: isGoneTrack(fields[3])},
		})
	}
	return branches, nil
}

// SanitizeBranchForPath turns a branch name into a single directory name
// ("feature/login" -> "feature-login").
func SanitizeBranchForPath(name string) string {
	var result strings.Builder
	for _, c := range name {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'), c == '.', c == '_', c == '-':
			result.WriteRune(c)
		default:
			result.WriteRune('-')
		}
	}
	name = result.String()

	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	name = strings.Trim(name, "-.")

	if len(name) > MaxBranchPathLength {
		name = strings.TrimRight(name[:MaxBranchPathLength], "-.")
	}
	if name == "" {
		name = "worktree"
	}
	return name
}
