package git

import (
	"context"
	"strings"
	"time"

	pexec "github.com/nathanvale/side-quest-git-sub001/exec"
)

// GitService provides git operations with explicit dependency injection.
// Each GitService instance holds its own executor, enabling proper testing
// and avoiding global state.
type GitService struct {
	executor pexec.CommandExecutor
	now      func() time.Time
}

// NewGitService creates a new GitService with the default real executor.
func NewGitService() *GitService {
	return NewGitServiceWithExecutor(pexec.NewRealExecutor())
}

// NewGitServiceWithExecutor creates a new GitService with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewGitServiceWithExecutor(exec pexec.CommandExecutor) *GitService {
	return &GitService{executor: exec, now: time.Now}
}

// SetClock replaces the time source used for backup timestamps.
func (s *GitService) SetClock(now func() time.Time) {
	s.now = now
}

// Executor returns the underlying command executor.
func (s *GitService) Executor() pexec.CommandExecutor {
	return s.executor
}

// output runs git in dir and returns trimmed stdout.
func (s *GitService) output(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := s.executor.Output(ctx, dir, "git", args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// succeeds reports whether git exits zero, discarding output.
func (s *GitService) succeeds(ctx context.Context, dir string, args ...string) bool {
	_, _, err := s.executor.Run(ctx, dir, "git", args...)
	return err == nil
}
