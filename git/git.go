// Package git provides the git operations behind worktree lifecycle management.
//
// The package is organized into focused modules:
//   - service.go: GitService struct and constructor
//   - worktree.go: worktree registry (porcelain listing), add/remove/prune
//   - upstream.go: ahead/behind counts and "upstream gone" detection
//   - status.go: staged/modified/untracked counts
//   - branch.go: default branch, branch existence/deletion, shallow detection
//   - backup.go: backup refs preserving commits before destructive operations
//   - orphan.go: merged/gone/unmerged/unknown classification of orphan branches
//
// Every operation shells out through an exec.CommandExecutor. Nothing here is
// cached: git state may change between any two calls.
package git
