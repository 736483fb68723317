package git

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nathanvale/side-quest-git-sub001/config"
	"github.com/nathanvale/side-quest-git-sub001/logger"
)

// BackupRefPrefix is the namespace holding backup refs. Refs live in the
// shared object database, so they are visible from every worktree.
const BackupRefPrefix = "refs/wtm-backup/"

// detachedComponent stands in for the branch name of a detached worktree.
const detachedComponent = "_detached"

// lastCleanPassKey records when the most recent clean pass started.
const lastCleanPassKey = "wtm.lastcleanpass"

// DefaultBackupRetention is how old a backup must be before PruneBackupRefs
// considers it.
const DefaultBackupRetention = 30 * 24 * time.Hour

var (
	// ErrBackupFailed means no durable backup exists; the destructive step must not run.
	ErrBackupFailed = errors.New("backup ref creation failed")
	// ErrBackupNotFound is returned when a named backup ref does not exist.
	ErrBackupNotFound = errors.New("backup ref not found")
	// ErrRestoreConflict means the restore target exists at a different commit.
	ErrRestoreConflict = errors.New("restore target already exists at a different commit")
)

// BackupRef is a ref preserving a commit that a deletion would orphan.
type BackupRef struct {
	Ref       string    `json:"ref"`
	Branch    string    `json:"branch,omitempty"`
	Worktree  string    `json:"worktree,omitempty"`
	Commit    string    `json:"commit"`
	CreatedAt time.Time `json:"createdAt"`
	object    string    // tag object id the ref points at
}

// backupMeta is the single-line JSON carried in the tag message.
type backupMeta struct {
	Worktree string `json:"worktree,omitempty"`
	Branch   string `json:"branch,omitempty"`
}

// CreateBackupRef preserves commit under a new, uniquely named ref. The ref
// points at an annotated tag object holding the source worktree and branch,
// so one atomic ref write records everything a restore needs.
func (s *GitService) CreateBackupRef(ctx context.Context, repoRoot string, wt WorktreeInfo, commit string) (*BackupRef, error) {
	log := logger.WithComponent("git")

	full, err := s.ResolveCommit(ctx, repoRoot, commit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	created := s.now().UTC().Truncate(time.Second)
	id := created.Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	component := wt.Branch
	if component == "" {
		component = detachedComponent
	}
	ref := BackupRefPrefix + component + "/" + id

	meta, err := json.Marshal(backupMeta{Worktree: wt.Path, Branch: wt.Branch})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	tag := fmt.Sprintf("object %s\ntype commit\ntag wtm-backup-%s\ntagger wtm <wtm@localhost> %d +0000\n\n%s\n",
		full, id, created.Unix(), meta)
	out, err := s.executor.Input(ctx, repoRoot, []byte(tag), "git", "mktag")
	if err != nil {
		return nil, fmt.Errorf("%w: mktag: %v", ErrBackupFailed, err)
	}
	object := strings.TrimSpace(string(out))

	// Empty old value: refuse to overwrite an existing ref.
	if _, err := s.executor.Output(ctx, repoRoot, "git", "update-ref", ref, object, ""); err != nil {
		return nil, fmt.Errorf("%w: update-ref: %v", ErrBackupFailed, err)
	}

	// Read back through the ref so the caller only proceeds on a durable record.
	got, err := s.ResolveCommit(ctx, repoRoot, ref)
	if err != nil || got != full {
		return nil, fmt.Errorf("%w: %s does not resolve to %s", ErrBackupFailed, ref, full)
	}

	log.Info("created backup ref", "ref", ref, "commit", full, "worktree", wt.Path)
	return &BackupRef{
		Ref:       ref,
		Branch:    wt.Branch,
		Worktree:  wt.Path,
		Commit:    full,
		CreatedAt: created,
		object:    object,
	}, nil
}

// ListBackupRefs returns every backup ref, newest first.
func (s *GitService) ListBackupRefs(ctx context.Context, repoRoot string) ([]BackupRef, error) {
	out, err := s.output(ctx, repoRoot, "for-each-ref",
		"--format=%(refname)%00%(objectname)%00%(*objectname)%00%(taggerdate:unix)%00%(contents:subject)",
		strings.TrimSuffix(BackupRefPrefix, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to list backup refs: %w", err)
	}
	refs := parseBackupRefs(out)
	sort.SliceStable(refs, func(i, j int) bool {
		if !refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].CreatedAt.After(refs[j].CreatedAt)
		}
		return refs[i].Ref > refs[j].Ref
	})
	return refs, nil
}

func parseBackupRefs(out string) []BackupRef {
	var refs []BackupRef
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, "\x00")
		if len(fields) != 5 || !strings.HasPrefix(fields[0], BackupRefPrefix) {
			continue
		}
		b := BackupRef{Ref: fields[0], object: fields[1], Commit: fields[2]}
		if b.Commit == "" {
			// Ref written by hand straight at a commit
			b.Commit = fields[1]
		}

		var meta backupMeta
		if json.Unmarshal([]byte(fields[4]), &meta) == nil {
			b.Worktree = meta.Worktree
			b.Branch = meta.Branch
		}
		if b.Branch == "" {
			b.Branch = branchFromBackupRef(b.Ref)
		}

		if sec, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			b.CreatedAt = time.Unix(sec, 0).UTC()
		} else {
			b.CreatedAt = timeFromBackupRef(b.Ref)
		}
		refs = append(refs, b)
	}
	return refs
}

// branchFromBackupRef recovers the branch from refs/wtm-backup/<branch>/<id>.
func branchFromBackupRef(ref string) string {
	rest := strings.TrimPrefix(ref, BackupRefPrefix)
	i := strings.LastIndex(rest, "/")
	if i < 0 {
		return ""
	}
	if branch := rest[:i]; branch != detachedComponent {
		return branch
	}
	return ""
}

func timeFromBackupRef(ref string) time.Time {
	id := ref[strings.LastIndex(ref, "/")+1:]
	stamp, _, _ := strings.Cut(id, "-")
	t, err := time.Parse("20060102T150405Z", stamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetBackupRef finds one backup by full ref name or by the part after the prefix.
func (s *GitService) GetBackupRef(ctx context.Context, repoRoot, ref string) (*BackupRef, error) {
	if !strings.HasPrefix(ref, BackupRefPrefix) {
		ref = BackupRefPrefix + ref
	}
	refs, err := s.ListBackupRefs(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	for i := range refs {
		if refs[i].Ref == ref {
			return &refs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, ref)
}

// RestoreResult reports what RestoreBackupRef had to recreate.
type RestoreResult struct {
	Backup          BackupRef `json:"backup"`
	Path            string    `json:"path"`
	BranchCreated   bool      `json:"branchCreated"`
	WorktreeCreated bool      `json:"worktreeCreated"`
}

// RestoreBackupRef recreates the branch and worktree a backup was taken from.
// It is a no-op when both already exist at the preserved commit, and fails
// with ErrRestoreConflict rather than move anything that points elsewhere.
// path overrides the recorded worktree location when non-empty. A backup of a
// branch that had no worktree restores only the branch unless path is given.
func (s *GitService) RestoreBackupRef(ctx context.Context, repoRoot, ref, path string) (*RestoreResult, error) {
	b, err := s.GetBackupRef(ctx, repoRoot, ref)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = b.Worktree
	}
	if path == "" {
		if b.Branch == "" {
			return nil, fmt.Errorf("backup %s records no branch or worktree path; pass a path explicitly", b.Ref)
		}
		return s.restoreBranch(ctx, repoRoot, b)
	}
	result := &RestoreResult{Backup: *b, Path: path}

	worktrees, err := s.ListWorktrees(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	var existing *WorktreeInfo
	for i := range worktrees {
		wt := &worktrees[i]
		if config.SamePath(wt.Path, path) {
			existing = wt
			continue
		}
		if b.Branch != "" && wt.Branch == b.Branch {
			return nil, fmt.Errorf("%w: branch %s is checked out at %s", ErrRestoreConflict, b.Branch, wt.Path)
		}
	}

	if b.Branch != "" {
		if s.BranchExists(ctx, repoRoot, b.Branch) {
			tip, err := s.ResolveCommit(ctx, repoRoot, "refs/heads/"+b.Branch)
			if err != nil {
				return nil, err
			}
			if tip != b.Commit {
				return nil, fmt.Errorf("%w: branch %s is at %s", ErrRestoreConflict, b.Branch, tip)
			}
		} else if existing == nil {
			if err := s.CreateBranch(ctx, repoRoot, b.Branch, b.Commit); err != nil {
				return nil, err
			}
			result.BranchCreated = true
		}
	}

	if existing != nil {
		if existing.Head != b.Commit || existing.Branch != b.Branch {
			return nil, fmt.Errorf("%w: worktree %s is at %s", ErrRestoreConflict, path, existing.Name())
		}
		return result, nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s exists and is not a worktree", ErrRestoreConflict, path)
	}

	if b.Branch != "" {
		err = s.AddWorktree(ctx, repoRoot, path, b.Branch, false, "")
	} else {
		err = s.AddDetachedWorktree(ctx, repoRoot, path, b.Commit)
	}
	if err != nil {
		return nil, err
	}
	result.WorktreeCreated = true

	logger.WithComponent("git").Info("restored backup", "ref", b.Ref, "path", path, "branchCreated", result.BranchCreated)
	return result, nil
}

// restoreBranch recreates a branch-only backup without adding a worktree.
func (s *GitService) restoreBranch(ctx context.Context, repoRoot string, b *BackupRef) (*RestoreResult, error) {
	result := &RestoreResult{Backup: *b}
	if s.BranchExists(ctx, repoRoot, b.Branch) {
		tip, err := s.ResolveCommit(ctx, repoRoot, "refs/heads/"+b.Branch)
		if err != nil {
			return nil, err
		}
		if tip != b.Commit {
			return nil, fmt.Errorf("%w: branch %s is at %s", ErrRestoreConflict, b.Branch, tip)
		}
		return result, nil
	}
	if err := s.CreateBranch(ctx, repoRoot, b.Branch, b.Commit); err != nil {
		return nil, err
	}
	result.BranchCreated = true

	logger.WithComponent("git").Info("restored backup", "ref", b.Ref, "branch", b.Branch)
	return result, nil
}

// PruneResult partitions backups by whether PruneBackupRefs deleted them.
type PruneResult struct {
	Deleted []BackupRef `json:"deleted"`
	Kept    []BackupRef `json:"kept"`
}

// PruneBackupRefs deletes backups older than olderThan. A backup is only
// eligible once a clean pass has started after it was created; until then it
// may be the only recovery point for its commit.
func (s *GitService) PruneBackupRefs(ctx context.Context, repoRoot string, olderThan time.Duration) (*PruneResult, error) {
	if olderThan < 0 {
		return nil, fmt.Errorf("retention must not be negative: %s", olderThan)
	}
	refs, err := s.ListBackupRefs(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	lastPass, err := s.LastCleanPass(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-olderThan)

	result := &PruneResult{Deleted: []BackupRef{}, Kept: []BackupRef{}}
	for _, b := range refs {
		superseded := !lastPass.IsZero() && b.CreatedAt.Before(lastPass)
		if !superseded || !b.CreatedAt.Before(cutoff) {
			result.Kept = append(result.Kept, b)
			continue
		}
		args := []string{"update-ref", "-d", b.Ref}
		if b.object != "" {
			args = append(args, b.object)
		}
		if _, err := s.executor.Output(ctx, repoRoot, "git", args...); err != nil {
			return result, fmt.Errorf("failed to delete %s: %w", b.Ref, err)
		}
		result.Deleted = append(result.Deleted, b)
	}

	logger.WithComponent("git").Info("pruned backup refs", "deleted", len(result.Deleted), "kept", len(result.Kept))
	return result, nil
}

// RecordCleanPass stores the start time of a clean pass in local git config.
func (s *GitService) RecordCleanPass(ctx context.Context, repoRoot string, started time.Time) error {
	if _, err := s.executor.Output(ctx, repoRoot, "git", "config", "--local", lastCleanPassKey,
		strconv.FormatInt(started.Unix(), 10)); err != nil {
		return fmt.Errorf("failed to record clean pass: %w", err)
	}
	return nil
}

// LastCleanPass returns the start of the most recent clean pass, or the zero
// time if none was ever recorded.
func (s *GitService) LastCleanPass(ctx context.Context, repoRoot string) (time.Time, error) {
	stdout, _, err := s.executor.Run(ctx, repoRoot, "git", "config", "--local", "--get", lastCleanPassKey)
	if err != nil {
		// git config --get exits 1 when the key is unset
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(stdout)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed %s: %w", lastCleanPassKey, err)
	}
	return time.Unix(sec, 0), nil
}
