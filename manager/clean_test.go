package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/side-quest-git-sub001/events"
	pexec "github.com/nathanvale/side-quest-git-sub001/exec"
	"github.com/nathanvale/side-quest-git-sub001/git"
)

func skippedByBranch(result *CleanResult) map[string]SkippedWorktree {
	out := make(map[string]SkippedWorktree)
	for _, s := range result.Skipped {
		out[s.Branch] = s
	}
	return out
}

func cleanedByBranch(result *CleanResult) map[string]CleanedWorktree {
	out := make(map[string]CleanedWorktree)
	for _, c := range result.Cleaned {
		out[c.Branch] = c
	}
	return out
}

func TestClean_DirtySkippedCleanRemoved(t *testing.T) {
	repo := createTestRepo(t)
	dirty := addWorktree(t, repo, "feature/a")
	clean := addWorktree(t, repo, "feature/b")
	writeFile(t, filepath.Join(dirty, "test.txt"), "changed")
	writeFile(t, filepath.Join(dirty, "notes.txt"), "new")

	rec := &recordingEmitter{}
	m := newManager(t, repo, Options{Emitter: rec})

	result, err := m.Clean(ctx, CleanOptions{DeleteBranches: true})
	require.NoError(t, err)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "feature/a", result.Skipped[0].Branch)
	assert.Equal(t, ReasonDirty, result.Skipped[0].Reason)
	assert.DirExists(t, dirty)

	require.Len(t, result.Cleaned, 1)
	cleaned := result.Cleaned[0]
	assert.Equal(t, "feature/b", cleaned.Branch)
	assert.Equal(t, clean, cleaned.Path)
	assert.True(t, cleaned.BranchDeleted)
	require.NotNil(t, cleaned.Backup)
	assert.NoDirExists(t, clean)
	assert.False(t, branchExists(t, repo, "feature/b"))

	refs := runGit(t, repo, "for-each-ref", "--format=%(refname)", git.BackupRefPrefix+"feature/b/")
	assert.Equal(t, cleaned.Backup.Ref, refs)

	last, err := git.NewGitService().LastCleanPass(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, result.StartedAt.Unix(), last.Unix())

	assert.Equal(t, []events.Type{events.TypeWorktreeCleaned}, rec.types())
}

func TestClean_DryRunChangesNothing(t *testing.T) {
	repo := createTestRepo(t)
	addWorktree(t, repo, "feature/a")
	addWorktree(t, repo, "feature/b")
	runGit(t, repo, "branch", "merged-orphan")

	refsBefore := runGit(t, repo, "for-each-ref")
	worktreesBefore := runGit(t, repo, "worktree", "list", "--porcelain")
	configBefore := runGit(t, repo, "config", "--local", "--list")

	rec := &recordingEmitter{}
	m := newManager(t, repo, Options{Emitter: rec})
	confirmCalled := false
	result, err := m.Clean(ctx, CleanOptions{
		DryRun:         true,
		DeleteBranches: true,
		IncludeOrphans: true,
		Confirm: func(CleanCandidate) bool {
			confirmCalled = true
			return true
		},
	})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Len(t, result.Cleaned, 3)
	for _, c := range result.Cleaned {
		assert.Nil(t, c.Backup)
		assert.False(t, c.BranchDeleted)
	}
	assert.False(t, confirmCalled)
	assert.Empty(t, rec.types())

	assert.Equal(t, refsBefore, runGit(t, repo, "for-each-ref"))
	assert.Equal(t, worktreesBefore, runGit(t, repo, "worktree", "list", "--porcelain"))
	assert.Equal(t, configBefore, runGit(t, repo, "config", "--local", "--list"))
}

func TestClean_AheadAndLocked(t *testing.T) {
	repo := createTestRepo(t)
	ahead := addWorktree(t, repo, "feature/ahead")
	writeFile(t, filepath.Join(ahead, "work.txt"), "work")
	runGit(t, ahead, "add", ".")
	runGit(t, ahead, "commit", "-q", "-m", "work")
	locked := addWorktree(t, repo, "feature/locked")
	runGit(t, repo, "worktree", "lock", locked)

	m := newManager(t, repo, Options{})

	result, err := m.Clean(ctx, CleanOptions{})
	require.NoError(t, err)
	skipped := skippedByBranch(result)
	assert.Equal(t, ReasonAhead, skipped["feature/ahead"].Reason)
	assert.Equal(t, ReasonLocked, skipped["feature/locked"].Reason)
	assert.Empty(t, result.Cleaned)

	// Force lifts ahead but never locked
	result, err = m.Clean(ctx, CleanOptions{Force: true})
	require.NoError(t, err)
	assert.Contains(t, cleanedByBranch(result), "feature/ahead")
	assert.Equal(t, ReasonLocked, skippedByBranch(result)["feature/locked"].Reason)
	assert.NoDirExists(t, ahead)
	assert.DirExists(t, locked)
	assert.True(t, branchExists(t, repo, "feature/ahead"), "branch kept without DeleteBranches")
}

func TestClean_UserDeclined(t *testing.T) {
	repo := createTestRepo(t)
	keep := addWorktree(t, repo, "feature/keep")
	drop := addWorktree(t, repo, "feature/drop")

	m := newManager(t, repo, Options{})
	var asked []string
	result, err := m.Clean(ctx, CleanOptions{Confirm: func(c CleanCandidate) bool {
		asked = append(asked, c.Branch)
		return c.Branch == "feature/drop"
	}})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"feature/keep", "feature/drop"}, asked)
	assert.Equal(t, ReasonUserDeclined, skippedByBranch(result)["feature/keep"].Reason)
	assert.Contains(t, cleanedByBranch(result), "feature/drop")
	assert.DirExists(t, keep)
	assert.NoDirExists(t, drop)
}

func TestClean_Orphans(t *testing.T) {
	repo := createTestRepo(t)
	runGit(t, repo, "branch", "old-merged")
	runGit(t, repo, "checkout", "-q", "-b", "wip")
	writeFile(t, filepath.Join(repo, "wip.txt"), "wip")
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "-q", "-m", "wip")
	runGit(t, repo, "checkout", "-q", "main")

	m := newManager(t, repo, Options{})

	result, err := m.Clean(ctx, CleanOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Cleaned, "orphans are ignored unless included")
	assert.Empty(t, result.Skipped)

	result, err = m.Clean(ctx, CleanOptions{IncludeOrphans: true})
	require.NoError(t, err)

	cleaned := cleanedByBranch(result)
	require.Contains(t, cleaned, "old-merged")
	assert.True(t, cleaned["old-merged"].Orphan)
	assert.True(t, cleaned["old-merged"].BranchDeleted)
	require.NotNil(t, cleaned["old-merged"].Backup)
	assert.False(t, branchExists(t, repo, "old-merged"))

	skipped := skippedByBranch(result)
	assert.Equal(t, ReasonUnmerged, skipped["wip"].Reason)
	assert.True(t, branchExists(t, repo, "wip"))
}

func TestClean_BackupFailureLeavesWorktree(t *testing.T) {
	repo := createTestRepo(t)
	path := addWorktree(t, repo, "feature/b")

	mock := pexec.NewMockExecutor(pexec.NewRealExecutor())
	mock.AddPrefixMatch("git", []string{"mktag"}, pexec.MockResponse{Err: assert.AnError})
	m, err := New(git.NewGitServiceWithExecutor(mock), repo, Options{})
	require.NoError(t, err)

	result, err := m.Clean(ctx, CleanOptions{DeleteBranches: true})
	require.NoError(t, err)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, ReasonBackupFailed, result.Skipped[0].Reason)
	assert.NotEmpty(t, result.Skipped[0].Error)
	assert.Empty(t, result.Cleaned)
	assert.DirExists(t, path)
	assert.True(t, branchExists(t, repo, "feature/b"))
}

func TestClean_PrunesMissingWorktree(t *testing.T) {
	repo := createTestRepo(t)
	path := addWorktree(t, repo, "feature/gone")
	require.NoError(t, os.RemoveAll(path))

	m := newManager(t, repo, Options{})
	result, err := m.Clean(ctx, CleanOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{path}, result.Pruned)
	assert.NotContains(t, runGit(t, repo, "worktree", "list", "--porcelain"), path)
}

func TestClean_EveryCandidateAccountedFor(t *testing.T) {
	repo := createTestRepo(t)
	for _, b := range []string{"f/1", "f/2", "f/3", "f/4", "f/5"} {
		addWorktree(t, repo, b)
	}
	writeFile(t, filepath.Join(repo, ".worktrees", "f-2", "x.txt"), "dirty")
	writeFile(t, filepath.Join(repo, ".worktrees", "f-4", "x.txt"), "dirty")

	m := newManager(t, repo, Options{Concurrency: 2})
	result, err := m.Clean(ctx, CleanOptions{DryRun: true})
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, c := range result.Cleaned {
		seen[c.Branch]++
	}
	for _, s := range result.Skipped {
		seen[s.Branch]++
		assert.True(t, s.Reason.Valid())
	}
	assert.Equal(t, map[string]int{"f/1": 1, "f/2": 1, "f/3": 1, "f/4": 1, "f/5": 1}, seen)
	assert.Len(t, result.Skipped, 2)
}

func TestCleanUnit_Transitions(t *testing.T) {
	u := newWorktreeUnit(git.WorktreeInfo{Path: "/x", Branch: "b"})
	require.Error(t, u.advance(stateRemoved), "cannot remove before backup")
	require.NoError(t, u.advance(stateChecked))
	require.Error(t, u.advance(stateRemoved))
	require.NoError(t, u.advance(stateBackedUp))
	require.NoError(t, u.advance(stateRemoved))
	assert.True(t, u.terminal())

	// Terminal states accept nothing, including skip
	u.skip(ReasonError, assert.AnError)
	assert.Equal(t, stateRemoved, u.state)
	assert.Empty(t, u.reason)

	s := newWorktreeUnit(git.WorktreeInfo{Path: "/y"})
	s.skip(ReasonDirty, nil)
	assert.Equal(t, stateSkipped, s.state)
	require.Error(t, s.advance(stateChecked))
	s.skip(ReasonError, nil)
	assert.Equal(t, ReasonDirty, s.reason, "first skip wins")
}

func TestClean_RecordsPassStart(t *testing.T) {
	repo := createTestRepo(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newManager(t, repo, Options{Now: func() time.Time { return fixed }})

	result, err := m.Clean(ctx, CleanOptions{})
	require.NoError(t, err)
	assert.Equal(t, fixed, result.StartedAt)

	last, err := git.NewGitService().LastCleanPass(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, fixed.Unix(), last.Unix())
}

func TestRestore_BranchOnlyBackup(t *testing.T) {
	repo := createTestRepo(t)
	runGit(t, repo, "branch", "old-merged")
	head := runGit(t, repo, "rev-parse", "old-merged")
	worktreesBefore := runGit(t, repo, "worktree", "list", "--porcelain")

	m := newManager(t, repo, Options{})
	result, err := m.Clean(ctx, CleanOptions{IncludeOrphans: true})
	require.NoError(t, err)
	cleaned := cleanedByBranch(result)
	require.Contains(t, cleaned, "old-merged")
	require.NotNil(t, cleaned["old-merged"].Backup)
	ref := cleaned["old-merged"].Backup.Ref
	require.False(t, branchExists(t, repo, "old-merged"))

	restored, err := m.Restore(ctx, ref, "")
	require.NoError(t, err)
	assert.True(t, restored.BranchCreated)
	assert.False(t, restored.WorktreeCreated, "branch never had a worktree")
	assert.Empty(t, restored.Path)
	assert.Equal(t, head, runGit(t, repo, "rev-parse", "old-merged"))
	assert.Equal(t, worktreesBefore, runGit(t, repo, "worktree", "list", "--porcelain"))

	again, err := m.Restore(ctx, ref, "")
	require.NoError(t, err)
	assert.False(t, again.BranchCreated)

	writeFile(t, filepath.Join(repo, "moved.txt"), "moved")
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "-q", "-m", "moved")
	runGit(t, repo, "branch", "-f", "old-merged", "main")
	_, err = m.Restore(ctx, ref, "")
	assert.ErrorIs(t, err, git.ErrRestoreConflict)
}
