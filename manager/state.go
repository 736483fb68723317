package manager

import (
	"fmt"

	"github.com/nathanvale/side-quest-git-sub001/git"
)

// cleanState is where one candidate is in a clean pass.
//
//	registered -> checked -> backedUp -> removed
//	     |           |           |
//	     +-----------+-----------+----> skipped
//
// removed and skipped are terminal.
type cleanState int

const (
	stateRegistered cleanState = iota
	stateChecked
	stateBackedUp
	stateRemoved
	stateSkipped
)

func (s cleanState) String() string {
	switch s {
	case stateRegistered:
		return "registered"
	case stateChecked:
		return "checked"
	case stateBackedUp:
		return "backed-up"
	case stateRemoved:
		return "removed"
	case stateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

var cleanTransitions = map[cleanState][]cleanState{
	stateRegistered: {stateChecked, stateSkipped},
	stateChecked:    {stateBackedUp, stateSkipped},
	stateBackedUp:   {stateRemoved, stateSkipped},
}

// cleanUnit tracks one worktree, or one orphan branch, through a clean pass.
// Each unit is owned by exactly one goroutine at a time.
type cleanUnit struct {
	wt     git.WorktreeInfo
	orphan *git.OrphanBranch

	state  cleanState
	reason Reason
	err    error

	check         DeleteCheck
	backup        *git.BackupRef
	branchDeleted bool
	branchErr     error
}

func newWorktreeUnit(wt git.WorktreeInfo) *cleanUnit {
	return &cleanUnit{wt: wt}
}

func newOrphanUnit(o git.OrphanBranch) *cleanUnit {
	return &cleanUnit{wt: git.WorktreeInfo{Branch: o.Branch, Head: o.Commit}, orphan: &o}
}

func (u *cleanUnit) advance(to cleanState) error {
	for _, next := range cleanTransitions[u.state] {
		if next == to {
			u.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid clean transition %s -> %s for %s", u.state, to, u.wt.Name())
}

// skip moves the unit to skipped from any non-terminal state.
func (u *cleanUnit) skip(reason Reason, err error) {
	if u.advance(stateSkipped) != nil {
		return
	}
	u.reason = reason
	u.err = err
}

func (u *cleanUnit) terminal() bool {
	return u.state == stateRemoved || u.state == stateSkipped
}

func (u *cleanUnit) candidate() CleanCandidate {
	c := CleanCandidate{Path: u.wt.Path, Branch: u.wt.Branch, Commit: u.wt.Head}
	if u.orphan != nil {
		c.Orphan = true
		c.Status = u.orphan.Status
	}
	return c
}

// cleaned reports the unit as removed, or as would-be removed in a dry run
// where it stops at checked.
func (u *cleanUnit) cleaned() CleanedWorktree {
	out := CleanedWorktree{
		Path:          u.wt.Path,
		Branch:        u.wt.Branch,
		Commit:        u.wt.Head,
		Orphan:        u.orphan != nil,
		Backup:        u.backup,
		BranchDeleted: u.branchDeleted,
	}
	if u.branchErr != nil {
		out.BranchError = u.branchErr.Error()
	}
	return out
}

func (u *cleanUnit) skipped() SkippedWorktree {
	out := SkippedWorktree{
		Path:   u.wt.Path,
		Branch: u.wt.Branch,
		Orphan: u.orphan != nil,
		Reason: u.reason,
		Backup: u.backup,
	}
	if u.err != nil {
		out.Error = u.err.Error()
	}
	return out
}
