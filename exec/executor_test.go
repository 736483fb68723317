package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRealExecutor_Run(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	stdout, stderr, err := executor.Run(ctx, "", "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}
}

func TestRealExecutor_OutputWrapsStderr(t *testing.T) {
	executor := NewRealExecutor()

	_, err := executor.Output(context.Background(), "", "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", err)
	}
	if cmdErr.Stderr != "boom" {
		t.Errorf("Stderr = %q, want 'boom'", cmdErr.Stderr)
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
}

func TestRealExecutor_Input(t *testing.T) {
	executor := NewRealExecutor()

	out, err := executor.Input(context.Background(), "", []byte("piped"), "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "piped" {
		t.Errorf("expected 'piped', got %q", string(out))
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("nil error should map to 0")
	}
	if ExitCode(errors.New("spawn failed")) != -1 {
		t.Error("non-exit error should map to -1")
	}
}

func TestMockExecutor_ExactMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"status"}, MockResponse{
		Stdout: []byte("On branch main"),
	})

	stdout, _, err := mock.Run(context.Background(), "/repo", "git", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "On branch main" {
		t.Errorf("got %q", string(stdout))
	}

	// Unmatched commands fall through to empty success.
	stdout, _, err = mock.Run(context.Background(), "/repo", "git", "log")
	if err != nil || stdout != nil {
		t.Errorf("unmatched command should be empty success, got %q, %v", stdout, err)
	}
}

func TestMockExecutor_PrefixAndDirMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddDirPrefixMatch("/wt/a", "git", []string{"status"}, MockResponse{Stdout: []byte("a")})
	mock.AddPrefixMatch("git", []string{"status"}, MockResponse{Stdout: []byte("any")})

	out, _ := mock.Output(context.Background(), "/wt/a", "git", "status", "--porcelain")
	if string(out) != "a" {
		t.Errorf("dir rule should win, got %q", out)
	}
	out, _ = mock.Output(context.Background(), "/wt/b", "git", "status", "--porcelain")
	if string(out) != "any" {
		t.Errorf("prefix rule should match other dirs, got %q", out)
	}
}

func TestMockExecutor_OutputError(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"fail"}, MockResponse{
		Stderr: []byte("fatal: nope\n"),
		Err:    errors.New("exit status 128"),
	})

	_, err := mock.Output(context.Background(), "", "git", "fail")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cmdErr.Stderr != "fatal: nope" {
		t.Errorf("Stderr = %q", cmdErr.Stderr)
	}
}

func TestMockExecutor_InputRecordsStdin(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"mktag"}, MockResponse{Stdout: []byte("abc\n")})

	out, err := mock.Input(context.Background(), "/repo", []byte("object x"), "git", "mktag")
	if err != nil || string(out) != "abc\n" {
		t.Fatalf("Input = %q, %v", out, err)
	}
	calls := mock.GetCalls()
	if len(calls) != 1 || string(calls[0].Stdin) != "object x" {
		t.Errorf("stdin not recorded: %+v", calls)
	}
}

func TestMockExecutor_DelayHonorsContext(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"slow"}, MockResponse{Delay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := mock.Run(ctx, "", "git", "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("delay did not honor cancellation")
	}
}

func TestMockExecutor_Fallback(t *testing.T) {
	inner := NewMockExecutor(nil)
	inner.AddExactMatch("git", []string{"version"}, MockResponse{Stdout: []byte("git version 2.45")})
	mock := NewMockExecutor(inner)

	out, err := mock.Output(context.Background(), "", "git", "version")
	if err != nil || string(out) != "git version 2.45" {
		t.Errorf("fallback not used: %q, %v", out, err)
	}
}

func TestMockExecutor_ConcurrentCalls(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", nil, MockResponse{Stdout: []byte("ok")})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mock.Run(context.Background(), "", "git", "status")
		}()
	}
	wg.Wait()

	if got := len(mock.GetCalls()); got != 20 {
		t.Errorf("expected 20 calls, got %d", got)
	}
	mock.ClearCalls()
	if len(mock.GetCalls()) != 0 {
		t.Error("ClearCalls should reset recorded calls")
	}
}
