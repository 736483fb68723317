package cli

import (
	"errors"

	"github.com/nathanvale/side-quest-git-sub001/config"
	"github.com/nathanvale/side-quest-git-sub001/events"
	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/manager"
	"github.com/nathanvale/side-quest-git-sub001/runner"
)

// ExitCode is the process status wtm exits with.
type ExitCode int

const (
	ExitOK ExitCode = 0
	// ExitFailure covers git failures and anything unclassified.
	ExitFailure ExitCode = 1
	// ExitConfig means bad flags, a malformed .wtm.yaml, or a bad WTM_CONCURRENCY.
	ExitConfig ExitCode = 2
	// ExitUnsafe means a safety check refused the operation.
	ExitUnsafe ExitCode = 3
	// ExitNotFound means the named worktree, backup, or event server does not exist.
	ExitNotFound ExitCode = 4
	// ExitPartial means a batch finished but some units failed.
	ExitPartial ExitCode = 5
	// ExitCancelled means the user declined a prompt.
	ExitCancelled ExitCode = 6
)

// ExitError carries an explicit exit code for errors the sentinel mapping
// cannot classify.
type ExitError struct {
	Code ExitCode
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func withCode(code ExitCode, err error) error {
	return &ExitError{Code: code, Err: err}
}

// errPartial is returned after printing a result that contains failed units.
var errPartial = errors.New("some worktrees failed")

// codeFor maps an error to an exit code.
func codeFor(err error) ExitCode {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, errPartial):
		return ExitPartial
	case errors.Is(err, runner.ErrInvalidConcurrency), errors.Is(err, config.ErrMalformed):
		return ExitConfig
	case errors.Is(err, manager.ErrUnsafeDelete), errors.Is(err, manager.ErrMainWorktree),
		errors.Is(err, git.ErrRestoreConflict), errors.Is(err, git.ErrBackupFailed),
		errors.Is(err, events.ErrServerRunning):
		return ExitUnsafe
	case errors.Is(err, manager.ErrWorktreeNotFound), errors.Is(err, git.ErrBackupNotFound),
		errors.Is(err, events.ErrNoServer):
		return ExitNotFound
	default:
		return ExitFailure
	}
}
