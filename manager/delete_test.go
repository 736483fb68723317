package manager

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
)

func TestCheckDelete(t *testing.T) {
	repo := createTestRepo(t)
	path := addWorktree(t, repo, "feature/check")
	m := newManager(t, repo, Options{})

	wt, err := m.FindWorktree(ctx, "feature/check")
	require.NoError(t, err)

	check, err := m.CheckDelete(ctx, *wt)
	require.NoError(t, err)
	assert.True(t, check.Safe())

	writeFile(t, filepath.Join(path, "test.txt"), "edited")
	check, err = m.CheckDelete(ctx, *wt)
	require.NoError(t, err)
	assert.Equal(t, []Reason{ReasonDirty}, check.Reasons)
	assert.Equal(t, 1, check.Files.Modified)

	main, err := m.FindWorktree(ctx, repo)
	require.NoError(t, err)
	check, err = m.CheckDelete(ctx, *main)
	require.NoError(t, err)
	assert.True(t, check.Has(ReasonMain))
}

func TestDelete_RefusesMain(t *testing.T) {
	repo := createTestRepo(t)
	m := newManager(t, repo, Options{})

	_, err := m.Delete(ctx, DeleteOptions{Target: repo, Force: true})
	require.ErrorIs(t, err, ErrMainWorktree)
	_, err = m.Delete(ctx, DeleteOptions{Target: "main", Force: true})
	require.ErrorIs(t, err, ErrMainWorktree)
}

func TestDelete_DirtyNeedsForce(t *testing.T) {
	repo := createTestRepo(t)
	path := addWorktree(t, repo, "feature/dirty")
	writeFile(t, filepath.Join(path, "scratch.txt"), "wip")

	rec := &recordingEmitter{}
	m := newManager(t, repo, Options{Emitter: rec})

	_, err := m.Delete(ctx, DeleteOptions{Target: "feature/dirty"})
	require.ErrorIs(t, err, ErrUnsafeDelete)
	assert.DirExists(t, path)
	assert.Empty(t, runGit(t, repo, "for-each-ref", git.BackupRefPrefix), "no backup without removal")

	result, err := m.Delete(ctx, DeleteOptions{Target: "feature/dirty", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []Reason{ReasonDirty}, result.Forced)
	require.NotNil(t, result.Backup)
	assert.NoDirExists(t, path)
	assert.True(t, branchExists(t, repo, "feature/dirty"))
	assert.Equal(t, []events.Type{events.TypeWorktreeDeleted}, rec.types())
}

func TestDelete_LockedEvenWithForce(t *testing.T) {
	repo := createTestRepo(t)
	path := addWorktree(t, repo, "feature/locked")
	runGit(t, repo, "worktree", "lock", "--reason", "in use", path)
	m := newManager(t, repo, Options{})

	_, err := m.Delete(ctx, DeleteOptions{Target: path, Force: true})
	require.ErrorIs(t, err, ErrUnsafeDelete)
	assert.DirExists(t, path)
}

func TestDelete_BranchAndRestoreRoundTrip(t *testing.T) {
	repo := createTestRepo(t)
	path := addWorktree(t, repo, "feature/restore")
	writeFile(t, filepath.Join(path, "work.txt"), "work")
	runGit(t, path, "add", ".")
	runGit(t, path, "commit", "-q", "-m", "work")
	head := runGit(t, path, "rev-parse", "HEAD")

	rec := &recordingEmitter{}
	m := newManager(t, repo, Options{Emitter: rec})

	_, err := m.Delete(ctx, DeleteOptions{Target: "feature/restore", DeleteBranch: true})
	require.ErrorIs(t, err, ErrUnsafeDelete, "unpushed commits block removal")

	result, err := m.Delete(ctx, DeleteOptions{Target: "feature/restore", DeleteBranch: true, Force: true})
	require.NoError(t, err)
	assert.True(t, result.BranchDeleted)
	assert.Equal(t, head, result.Commit)
	assert.False(t, branchExists(t, repo, "feature/restore"))

	backups, err := m.Backups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, result.Backup.Ref, backups[0].Ref)

	restored, err := m.Restore(ctx, result.Backup.Ref, "")
	require.NoError(t, err)
	assert.True(t, restored.BranchCreated)
	assert.True(t, restored.WorktreeCreated)
	assert.Equal(t, path, restored.Path)
	assert.Equal(t, head, runGit(t, path, "rev-parse", "HEAD"))
	assert.Equal(t, []events.Type{events.TypeWorktreeDeleted, events.TypeBackupRestored}, rec.types())

	// Restoring again is a no-op
	again, err := m.Restore(ctx, result.Backup.Ref, "")
	require.NoError(t, err)
	assert.False(t, again.WorktreeCreated)
}

func TestPruneBackups_DefaultRetention(t *testing.T) {
	repo := createTestRepo(t)
	addWorktree(t, repo, "feature/old")

	svc := git.NewGitService()
	skew := -40 * 24 * time.Hour
	svc.SetClock(func() time.Time { return time.Now().Add(skew) })
	m, err := New(svc, repo, Options{})
	require.NoError(t, err)
	_, err = m.Delete(ctx, DeleteOptions{Target: "feature/old"})
	require.NoError(t, err)
	skew = 0

	// No clean pass since the backup, so it is kept
	pruned, err := m.PruneBackups(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pruned.Deleted)
	require.Len(t, pruned.Kept, 1)

	_, err = m.Clean(ctx, CleanOptions{})
	require.NoError(t, err)
	pruned, err = m.PruneBackups(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pruned.Deleted, 1)
	assert.Empty(t, runGit(t, repo, "for-each-ref", git.BackupRefPrefix))
}
