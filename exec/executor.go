// Package exec provides an abstraction over command execution for testability.
// Production code runs the real git binary through RealExecutor while tests
// inject a MockExecutor that returns pre-recorded responses.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns stdout, stderr, and any error.
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)

	// Output executes a command and returns stdout, or a *CommandError with stderr context.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// CombinedOutput executes a command and returns combined stdout+stderr.
	CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// Input executes a command with stdin attached and returns stdout.
	Input(ctx context.Context, dir string, stdin []byte, name string, args ...string) ([]byte, error)
}

// CommandError is returned when a command exits non-zero.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Name, strings.Join(e.Args, " "))
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode returns 0 for a nil error, the process exit code when err wraps an
// *exec.ExitError, and -1 for anything else (spawn failure, cancellation).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct {
	env []string
}

// NewRealExecutor returns a new RealExecutor. Git is forced into a
// non-interactive, locale-stable mode so its output can be parsed.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{
		env: []string{"GIT_TERMINAL_PROMPT=0", "LC_ALL=C"},
	}
}

func (e *RealExecutor) command(ctx context.Context, dir, name string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.env...)
	// Let a cancelled context reap the child instead of hanging on inherited pipes.
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := e.command(ctx, dir, name, args)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Output executes a command and returns stdout, or error with stderr context.
func (e *RealExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	stdout, stderr, err := e.Run(ctx, dir, name, args...)
	if err != nil {
		return stdout, wrapError(name, args, stderr, err)
	}
	return stdout, nil
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := e.command(ctx, dir, name, args)
	return cmd.CombinedOutput()
}

// Input executes a command with stdin attached.
func (e *RealExecutor) Input(ctx context.Context, dir string, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := e.command(ctx, dir, name, args)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		return stdoutBuf.Bytes(), wrapError(name, args, stderrBuf.Bytes(), err)
	}
	return stdoutBuf.Bytes(), nil
}

func wrapError(name string, args []string, stderr []byte, err error) error {
	return &CommandError{
		Name:   name,
		Args:   append([]string(nil), args...),
		Stderr: strings.TrimSpace(string(stderr)),
		Err:    err,
	}
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
	// Delay blocks the call (honoring ctx) before responding.
	Delay time.Duration
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(dir, name string, args []string) bool

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockExecutor returns pre-recorded responses for commands.
// Commands are matched in order of rule registration.
type MockExecutor struct {
	mu       sync.RWMutex
	rules    []MockRule
	calls    []MockCall
	fallback CommandExecutor
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Dir   string
	Name  string
	Args  []string
	Stdin []byte
}

// NewMockExecutor creates a new MockExecutor.
// If fallback is provided, unmatched commands will be delegated to it.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{
		fallback: fallback,
	}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(dir, n string, a []string) bool {
		return n == name && equalArgs(a, args)
	}, response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(dir, n string, a []string) bool {
		if n != name || len(a) < len(prefixArgs) {
			return false
		}
		return equalArgs(a[:len(prefixArgs)], prefixArgs)
	}, response)
}

// AddDirPrefixMatch is AddPrefixMatch restricted to one working directory.
func (e *MockExecutor) AddDirPrefixMatch(dir, name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(d, n string, a []string) bool {
		if d != dir || n != name || len(a) < len(prefixArgs) {
			return false
		}
		return equalArgs(a[:len(prefixArgs)], prefixArgs)
	}, response)
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *MockExecutor) findMatch(dir, name string, args []string) *MockResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if rule.Match(dir, name, args) {
			resp := rule.Response
			return &resp
		}
	}
	return nil
}

func (e *MockExecutor) recordCall(dir, name string, args []string, stdin []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockCall{Dir: dir, Name: name, Args: args, Stdin: stdin})
}

func (e *MockExecutor) respond(ctx context.Context, dir, name string, args []string, stdin []byte) (*MockResponse, error) {
	e.recordCall(dir, name, args, stdin)
	resp := e.findMatch(dir, name, args)
	if resp == nil || resp.Delay <= 0 {
		return resp, nil
	}
	timer := time.NewTimer(resp.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes a mocked command.
func (e *MockExecutor) Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error) {
	resp, err := e.respond(ctx, dir, name, args, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp != nil {
		return resp.Stdout, resp.Stderr, resp.Err
	}
	if e.fallback != nil {
		return e.fallback.Run(ctx, dir, name, args...)
	}

	// Default: return empty success
	return nil, nil, nil
}

// Output executes a mocked command.
func (e *MockExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	resp, err := e.respond(ctx, dir, name, args, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		if resp.Err != nil {
			return resp.Stdout, wrapError(name, args, resp.Stderr, resp.Err)
		}
		return resp.Stdout, nil
	}
	if e.fallback != nil {
		return e.fallback.Output(ctx, dir, name, args...)
	}
	return nil, nil
}

// CombinedOutput executes a mocked command.
func (e *MockExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	resp, err := e.respond(ctx, dir, name, args, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		combined := append(append([]byte(nil), resp.Stdout...), resp.Stderr...)
		return combined, resp.Err
	}
	if e.fallback != nil {
		return e.fallback.CombinedOutput(ctx, dir, name, args...)
	}
	return nil, nil
}

// Input executes a mocked command, recording stdin.
func (e *MockExecutor) Input(ctx context.Context, dir string, stdin []byte, name string, args ...string) ([]byte, error) {
	resp, err := e.respond(ctx, dir, name, args, stdin)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		if resp.Err != nil {
			return resp.Stdout, wrapError(name, args, resp.Stderr, resp.Err)
		}
		return resp.Stdout, nil
	}
	if e.fallback != nil {
		return e.fallback.Input(ctx, dir, stdin, name, args...)
	}
	return nil, nil
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
