package manager

import (
	"context"
	"time"

	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
)

// Backups lists backup refs, newest first.
func (m *Manager) Backups(ctx context.Context) ([]git.BackupRef, error) {
	return m.git.ListBackupRefs(ctx, m.root)
}

// Restore recreates the branch and worktree preserved by ref. path overrides
// the recorded location.
func (m *Manager) Restore(ctx context.Context, ref, path string) (*git.RestoreResult, error) {
	result, err := m.git.RestoreBackupRef(ctx, m.root, ref, path)
	if err != nil {
		return nil, err
	}
	m.emitter.Emit(ctx, events.TypeBackupRestored, result)
	return result, nil
}

// PruneBackups deletes backups older than olderThan that a later clean pass
// has superseded. Zero means git.DefaultBackupRetention.
func (m *Manager) PruneBackups(ctx context.Context, olderThan time.Duration) (*git.PruneResult, error) {
	if olderThan == 0 {
		olderThan = git.DefaultBackupRetention
	}
	return m.git.PruneBackupRefs(ctx, m.root, olderThan)
}
