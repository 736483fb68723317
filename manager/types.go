package manager

import (
	"time"

	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/pkgmgr"
)

// Reason explains why a worktree or branch was not removed. The set is
// closed: every value a result can carry is listed in Reasons.
type Reason string

const (
	// ReasonMain: the main worktree is never removed.
	ReasonMain Reason = "main"
	// ReasonDirty: uncommitted or untracked changes.
	ReasonDirty Reason = "dirty"
	// ReasonAhead: commits that exist nowhere else.
	ReasonAhead Reason = "ahead"
	// ReasonLocked: `git worktree lock` is in effect.
	ReasonLocked Reason = "locked"
	// ReasonShallowUnsafe: a shallow clone hides whether the work is merged.
	ReasonShallowUnsafe Reason = "shallow-unsafe"
	// ReasonUserDeclined: the confirm callback said no.
	ReasonUserDeclined Reason = "user-declined"
	// ReasonUnmerged: an orphan branch carries commits the default branch lacks.
	ReasonUnmerged Reason = "unmerged"
	// ReasonBackupFailed: no backup could be written, so nothing was removed.
	ReasonBackupFailed Reason = "backup-failed"
	// ReasonError: a git command failed while checking or removing.
	ReasonError Reason = "error"
)

// Reasons lists every Reason.
var Reasons = []Reason{
	ReasonMain,
	ReasonDirty,
	ReasonAhead,
	ReasonLocked,
	ReasonShallowUnsafe,
	ReasonUserDeclined,
	ReasonUnmerged,
	ReasonBackupFailed,
	ReasonError,
}

// Valid reports whether r is one of Reasons.
func (r Reason) Valid() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

// Overridable reports whether Force lifts this reason.
func (r Reason) Overridable() bool {
	return r == ReasonDirty || r == ReasonAhead
}

// DeleteCheck is the pre-flight verdict for removing one worktree.
type DeleteCheck struct {
	Worktree   git.WorktreeInfo `json:"worktree"`
	Reasons    []Reason         `json:"reasons"`
	Files      git.FileCounts   `json:"files"`
	Divergence *git.Divergence  `json:"divergence,omitempty"`
}

// Safe reports whether the worktree can be removed without Force.
func (c DeleteCheck) Safe() bool {
	return len(c.Reasons) == 0
}

// Has reports whether the check produced reason r.
func (c DeleteCheck) Has(r Reason) bool {
	for _, got := range c.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// Blocking returns the reasons that still stop removal under force.
func (c DeleteCheck) Blocking(force bool) []Reason {
	var out []Reason
	for _, r := range c.Reasons {
		if force && r.Overridable() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// CreateOptions controls Create.
type CreateOptions struct {
	// Branch to check out. Created from Base when it does not exist yet.
	Branch string
	// Base is the start point for a new branch; HEAD of the main worktree when empty.
	Base string
	// Path overrides the conventional <directory>/<sanitized-branch> location.
	Path string
	// NoCopy skips copying config-selected files from the main worktree.
	NoCopy bool
	// NoInstall skips dependency installation.
	NoInstall bool
}

// InstallResult records what dependency installation did. A failed install
// does not fail Create.
type InstallResult struct {
	Command string      `json:"command,omitempty"`
	Manager pkgmgr.Name `json:"manager,omitempty"`
	Skipped bool        `json:"skipped"`
	// SkipReason is "disabled", "config", or "not-detected" when Skipped.
	SkipReason string `json:"skipReason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CreateResult describes a new worktree.
type CreateResult struct {
	Path          string         `json:"path"`
	Branch        string         `json:"branch"`
	Head          string         `json:"head"`
	BranchCreated bool           `json:"branchCreated"`
	CopiedFiles   []string       `json:"copiedFiles"`
	Install       *InstallResult `json:"install,omitempty"`
}

// DeleteOptions controls Delete.
type DeleteOptions struct {
	// Target is a worktree path or branch name.
	Target string
	// Force overrides dirty and ahead. It never overrides main or locked.
	Force bool
	// DeleteBranch removes the local branch after the worktree.
	DeleteBranch bool
}

// DeleteResult describes a removed worktree.
type DeleteResult struct {
	Path          string         `json:"path"`
	Branch        string         `json:"branch,omitempty"`
	Commit        string         `json:"commit"`
	Backup        *git.BackupRef `json:"backup"`
	BranchDeleted bool           `json:"branchDeleted"`
	Pruned        bool           `json:"pruned"`
	Forced        []Reason       `json:"forced,omitempty"`
}

// SyncOptions controls Sync.
type SyncOptions struct {
	// Targets limits the sync to these worktree paths or branches. All linked
	// worktrees when empty.
	Targets     []string
	DryRun      bool
	Concurrency int
}

// SyncWorktreeResult is one target's outcome.
type SyncWorktreeResult struct {
	Path   string   `json:"path"`
	Branch string   `json:"branch,omitempty"`
	Files  []string `json:"files"`
	OK     bool     `json:"ok"`
	Error  string   `json:"error,omitempty"`
}

// SyncResult is partial by nature: some worktrees may sync while others fail.
type SyncResult struct {
	Source    string               `json:"source"`
	Files     []string             `json:"files"`
	Worktrees []SyncWorktreeResult `json:"worktrees"`
	DryRun    bool                 `json:"dryRun"`
}

// Failed returns the targets that did not sync.
func (r *SyncResult) Failed() []SyncWorktreeResult {
	var out []SyncWorktreeResult
	for _, w := range r.Worktrees {
		if !w.OK {
			out = append(out, w)
		}
	}
	return out
}

// CleanCandidate is what the Confirm callback is asked about.
type CleanCandidate struct {
	Path   string           `json:"path,omitempty"`
	Branch string           `json:"branch,omitempty"`
	Commit string           `json:"commit"`
	Orphan bool             `json:"orphan"`
	Status git.OrphanStatus `json:"status,omitempty"`
}

// CleanOptions controls Clean.
type CleanOptions struct {
	// Force overrides dirty and ahead.
	Force bool
	// DeleteBranches removes each cleaned worktree's branch too.
	DeleteBranches bool
	// IncludeOrphans also deletes merged or gone branches with no worktree.
	IncludeOrphans bool
	// DryRun runs every check and reports the classification without writing.
	DryRun bool
	// AllowShallow trusts merge checks in a shallow clone.
	AllowShallow bool
	Concurrency  int
	// Confirm is asked once per candidate that passed every check. Nil means yes.
	Confirm func(CleanCandidate) bool
}

// CleanedWorktree is a worktree or orphan branch that was (or in a dry run,
// would be) removed.
type CleanedWorktree struct {
	Path          string         `json:"path,omitempty"`
	Branch        string         `json:"branch,omitempty"`
	Commit        string         `json:"commit"`
	Orphan        bool           `json:"orphan"`
	Backup        *git.BackupRef `json:"backup,omitempty"`
	BranchDeleted bool           `json:"branchDeleted"`
	BranchError   string         `json:"branchError,omitempty"`
}

// SkippedWorktree is a candidate left in place.
type SkippedWorktree struct {
	Path   string `json:"path,omitempty"`
	Branch string `json:"branch,omitempty"`
	Orphan bool   `json:"orphan"`
	Reason Reason `json:"reason"`
	Error  string `json:"error,omitempty"`
	// Backup is set when removal failed after the backup was written.
	Backup *git.BackupRef `json:"backup,omitempty"`
}

// CleanResult partitions every considered candidate into Cleaned or Skipped.
type CleanResult struct {
	Cleaned   []CleanedWorktree `json:"cleaned"`
	Skipped   []SkippedWorktree `json:"skipped"`
	Pruned    []string          `json:"pruned"`
	DryRun    bool              `json:"dryRun"`
	StartedAt time.Time         `json:"startedAt"`
}

// WorktreeStatus is a point-in-time summary of one worktree.
type WorktreeStatus struct {
	git.WorktreeInfo
	Ahead        int    `json:"ahead"`
	Behind       int    `json:"behind"`
	Staged       int    `json:"staged"`
	Modified     int    `json:"modified"`
	Untracked    int    `json:"untracked"`
	Conflicted   int    `json:"conflicted"`
	Dirty        bool   `json:"dirty"`
	Upstream     string `json:"upstream,omitempty"`
	UpstreamGone bool   `json:"upstreamGone"`
	// Diverged means the branch is both ahead of and behind Base.
	Diverged bool `json:"diverged"`
	// FastForward means the branch only trails Base and can catch up without a merge.
	FastForward bool `json:"fastForward"`
	// Base is what Ahead/Behind count against.
	Base  string `json:"base,omitempty"`
	Error string `json:"error,omitempty"`
}

// StatusTick is one Watch iteration handed to the sink.
type StatusTick struct {
	Seq      int              `json:"seq"`
	At       time.Time        `json:"at"`
	Statuses []WorktreeStatus `json:"statuses,omitempty"`
	Err      error            `json:"-"`
	// Skipped counts intervals dropped since the previous tick because it
	// was still running.
	Skipped int `json:"skipped"`
}
