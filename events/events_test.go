package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/side-quest-git-sub001/logger"
	"github.com/nathanvale/side-quest-git-sub001/process"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

func startServer(t *testing.T) (*Server, *Store, string) {
	t.Helper()
	store := NewStore(t.TempDir())
	root := t.TempDir()

	srv, err := Listen(context.Background(), store, root)
	require.NoError(t, err)
	srv.Start()
	srv.WaitReady()
	t.Cleanup(func() { srv.Close() })
	return srv, store, root
}

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		require.True(t, ok, "subscription ended early: %v", sub.Err())
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestCacheKey_Pure(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, CacheKey(root), CacheKey(root))
	assert.Equal(t, CacheKey(root), CacheKey(root+"/"))
	assert.Equal(t, CacheKey(root), CacheKey(filepath.Join(root, "sub", "..")))
}

func TestCacheKey_SameBasenameDiffers(t *testing.T) {
	a := filepath.Join(t.TempDir(), "app")
	b := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.Mkdir(a, 0755))
	require.NoError(t, os.Mkdir(b, 0755))

	ka, kb := CacheKey(a), CacheKey(b)
	assert.NotEqual(t, ka, kb)
	assert.Regexp(t, `^app-[0-9a-f]{12}$`, ka)
	assert.Regexp(t, `^app-[0-9a-f]{12}$`, kb)
}

func TestCacheKey_FollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(root, link))
	assert.Equal(t, CacheKey(root), CacheKey(link))
}

func TestSanitizeKeyName(t *testing.T) {
	tests := map[string]string{
		"my-repo":        "my-repo",
		"My Repo (copy)": "My-Repo-copy",
		"ünïcode":        "n-code",
		"...":            "repo",
		"":               "repo",
		"a/b\\c":         "a-b-c",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeKeyName(in), "sanitizeKeyName(%q)", in)
	}
	assert.LessOrEqual(t, len(sanitizeKeyName(string(make([]byte, 200)))), maxKeyNameLen)
}

func TestLookup_NoRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Lookup(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestLookup_DiscardsStaleRecords(t *testing.T) {
	// A port nothing listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := l.Addr().(*net.TCPAddr).Port
	l.Close()

	tests := []struct {
		name string
		pid  int
	}{
		{name: "dead process", pid: -1},
		{name: "live process, closed port", pid: process.Self()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(t.TempDir())
			root := t.TempDir()
			require.NoError(t, store.Write(Record{PID: tt.pid, Port: deadPort, ID: "stale", Root: root}))

			_, err := store.Lookup(context.Background(), root)
			assert.ErrorIs(t, err, ErrNoServer)

			_, statErr := os.Stat(store.Path(root))
			assert.True(t, os.IsNotExist(statErr), "stale record should be removed")
		})
	}
}

func TestLookup_CorruptRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(store.Dir(), 0700))
	require.NoError(t, os.WriteFile(store.Path(root), []byte("{nope"), 0600))

	_, err := store.Lookup(context.Background(), root)
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestSubscribe_NoServerDoesNotHang(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	_, err := Subscribe(ctx, store, t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNoServer)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestListen_RecordAndSecondServer(t *testing.T) {
	srv, store, root := startServer(t)

	rec, err := store.Lookup(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, srv.Port(), rec.Port)
	assert.Equal(t, process.Self(), rec.PID)
	assert.NotEmpty(t, rec.ID)

	_, err = Listen(context.Background(), store, root)
	assert.ErrorIs(t, err, ErrServerRunning)

	require.NoError(t, srv.Close())
	_, err = store.Read(root)
	assert.ErrorIs(t, err, ErrNoServer, "close removes our record")
}

func TestClose_KeepsForeignRecord(t *testing.T) {
	srv, store, root := startServer(t)

	// Another server took over the key
	other := srv.Record()
	other.ID = "someone-else"
	require.NoError(t, store.Write(other))

	require.NoError(t, srv.Close())
	rec, err := store.Read(root)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", rec.ID)
}

func TestPublishSubscribe_Filter(t *testing.T) {
	_, store, root := startServer(t)
	ctx := context.Background()

	all, err := Subscribe(ctx, store, root, "")
	require.NoError(t, err)
	defer all.Close()
	cleaned, err := Subscribe(ctx, store, root, TypeWorktreeCleaned)
	require.NoError(t, err)
	defer cleaned.Close()

	created, err := NewEnvelope(TypeWorktreeCreated, root, "", map[string]string{"branch": "feature/a"})
	require.NoError(t, err)
	require.NoError(t, Publish(ctx, store, created))

	clean, err := NewEnvelope(TypeWorktreeCleaned, root, "test", map[string]int{"cleaned": 1})
	require.NoError(t, err)
	require.NoError(t, Publish(ctx, store, clean))

	first := receive(t, all)
	assert.Equal(t, TypeWorktreeCreated, first.Type)
	assert.Equal(t, DefaultSource, first.Source)
	assert.Equal(t, filepath.Base(root), first.RepoName)
	assert.JSONEq(t, `{"branch":"feature/a"}`, string(first.Data))

	second := receive(t, all)
	assert.Equal(t, TypeWorktreeCleaned, second.Type)

	// The filtered tailer never sees the created event
	only := receive(t, cleaned)
	assert.Equal(t, TypeWorktreeCleaned, only.Type)
	assert.Equal(t, "test", only.Source)
}

func TestSubscriberDisconnectDoesNotAffectOthers(t *testing.T) {
	srv, store, root := startServer(t)
	ctx := context.Background()

	stays, err := Subscribe(ctx, store, root, "")
	require.NoError(t, err)
	defer stays.Close()
	leaves, err := Subscribe(ctx, store, root, "")
	require.NoError(t, err)

	require.NoError(t, leaves.Close())
	_, open := <-leaves.Events()
	assert.False(t, open, "events channel closes after Close")
	require.Eventually(t, func() bool { return srv.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	env, err := NewEnvelope(TypeWorktreeDeleted, root, "", nil)
	require.NoError(t, err)
	require.NoError(t, Publish(ctx, store, env))
	assert.Equal(t, TypeWorktreeDeleted, receive(t, stays).Type)
}

func TestSlowSubscriberIsDisconnectedAlone(t *testing.T) {
	srv, store, root := startServer(t)
	ctx := context.Background()

	fast, err := Subscribe(ctx, store, root, "")
	require.NoError(t, err)
	defer fast.Close()

	// A subscriber that completes the handshake and then never reads again.
	// net.Pipe has no buffering, so the server's writer blocks at once.
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	go srv.handleConn(serverSide)

	frame, _ := json.Marshal(request{Op: opSubscribe})
	_, err = clientSide.Write(append(frame, '\n'))
	require.NoError(t, err)
	ready, err := bufio.NewReader(clientSide).ReadBytes('\n')
	require.NoError(t, err)
	assert.Contains(t, string(ready), opReady)
	require.Equal(t, 2, srv.SubscriberCount())

	// Publish one at a time, waiting for the fast tailer each round, so only
	// the stalled subscriber can fall behind.
	const n = SubscriberBuffer + 6
	for i := 0; i < n; i++ {
		env, err := NewEnvelope(TypeWorktreeSynced, root, "", map[string]int{"seq": i})
		require.NoError(t, err)
		srv.Publish(env)
		got := receive(t, fast)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(got.Data))
	}

	assert.Equal(t, 1, srv.SubscriberCount(), "slow subscriber dropped")
}

func TestSubscription_ContextCancelReleasesConnection(t *testing.T) {
	srv, store, root := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := Subscribe(ctx, store, root, "")
	require.NoError(t, err)
	require.Equal(t, 1, srv.SubscriberCount())

	cancel()
	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end on cancel")
	}
	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Err())
	require.Eventually(t, func() bool { return srv.SubscriberCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServerCloseEndsSubscriptions(t *testing.T) {
	srv, store, root := startServer(t)

	sub, err := Subscribe(context.Background(), store, root, "")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, srv.Close())
	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription survived server close")
	}

	// Both goroutines exit without Close once the server ends the stream
	exited := make(chan struct{})
	go func() {
		sub.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription goroutines outlived the stream")
	}
	assert.Error(t, sub.Err(), "server-side end is reported")
}

func TestEmitter(t *testing.T) {
	t.Run("no server is silent and quick", func(t *testing.T) {
		e := NewEmitter(NewStore(t.TempDir()), t.TempDir(), "")
		start := time.Now()
		e.Emit(context.Background(), TypeWorktreeCreated, map[string]string{"a": "b"})
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("silent server bounds the call", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()
		go func() {
			for {
				conn, err := l.Accept()
				if err != nil {
					return
				}
				// Hold the connection open and never ack
				go func() {
					defer conn.Close()
					_, _ = bufio.NewReader(conn).ReadBytes(0)
				}()
			}
		}()

		store := NewStore(t.TempDir())
		root := t.TempDir()
		require.NoError(t, store.Write(Record{PID: process.Self(), Port: l.Addr().(*net.TCPAddr).Port, ID: "silent", Root: root}))

		e := NewEmitter(store, root, "")
		e.timeout = 100 * time.Millisecond
		start := time.Now()
		e.Emit(context.Background(), TypeWorktreeCreated, nil)
		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "waits for the ack")
		assert.Less(t, elapsed, 2*time.Second, "but never past the timeout")
	})

	t.Run("nil emitter", func(t *testing.T) {
		var e *Emitter
		e.Emit(context.Background(), TypeWorktreeCreated, nil)
		NewEmitter(nil, "/tmp", "").Emit(context.Background(), TypeWorktreeCreated, nil)
	})

	t.Run("delivers in order", func(t *testing.T) {
		_, store, root := startServer(t)
		sub, err := Subscribe(context.Background(), store, root, "")
		require.NoError(t, err)
		defer sub.Close()

		e := NewEmitter(store, root, "hook")
		e.Emit(context.Background(), TypeWorktreeCreated, nil)
		e.Emit(context.Background(), TypeWorktreeDeleted, nil)

		assert.Equal(t, TypeWorktreeCreated, receive(t, sub).Type)
		got := receive(t, sub)
		assert.Equal(t, TypeWorktreeDeleted, got.Type)
		assert.Equal(t, "hook", got.Source)
	})

	t.Run("cancelled caller context still emits", func(t *testing.T) {
		_, store, root := startServer(t)
		sub, err := Subscribe(context.Background(), store, root, TypeBackupRestored)
		require.NoError(t, err)
		defer sub.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		NewEmitter(store, root, "").Emit(ctx, TypeBackupRestored, nil)
		assert.Equal(t, TypeBackupRestored, receive(t, sub).Type)
	})
}
