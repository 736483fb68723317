package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nathanvale/side-quest-git-sub001/logger"
)

// ReadyTimeout bounds the wait for the server's ready frame.
const ReadyTimeout = 5 * time.Second

// Publish sends env to the live server for its repository and waits for the
// server to acknowledge the broadcast. It returns ErrNoServer when none is
// running.
func Publish(ctx context.Context, store *Store, env Envelope) error {
	rec, err := store.Lookup(ctx, env.RepoRoot)
	if err != nil {
		return err
	}
	conn, err := dial(ctx, rec.Addr())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoServer, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(WriteTimeout))
	}
	if err := writeFrame(conn, request{Op: opPublish, Event: &env}); err != nil {
		return err
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("no ack from event server: %w", err)
	}
	var r reply
	if err := json.Unmarshal(line, &r); err != nil || r.Op != opAck {
		return fmt.Errorf("unexpected reply from event server: %q", line)
	}
	return nil
}

func writeFrame(conn net.Conn, req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

// Subscription is a live tail of one repository's events.
type Subscription struct {
	conn   net.Conn
	events chan Envelope
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Subscribe connects to the repository's server and streams envelopes whose
// type equals filter (all types when filter is empty). It returns ErrNoServer
// without blocking when no live server is recorded. Cancelling ctx or calling
// Close ends the subscription and closes the connection.
func Subscribe(ctx context.Context, store *Store, repoRoot string, filter Type) (*Subscription, error) {
	rec, err := store.Lookup(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	conn, err := dial(ctx, rec.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoServer, err)
	}

	conn.SetDeadline(time.Now().Add(ReadyTimeout))
	if err := writeFrame(conn, request{Op: opSubscribe, Type: filter}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("no ready frame from event server: %w", err)
	}
	var r reply
	if err := json.Unmarshal(line, &r); err != nil || r.Op != opReady {
		conn.Close()
		return nil, fmt.Errorf("unexpected reply from event server: %q", line)
	}
	conn.SetDeadline(time.Time{})

	sub := &Subscription{
		conn:   conn,
		events: make(chan Envelope),
		done:   make(chan struct{}),
	}
	sub.wg.Add(2)
	go sub.read(reader)
	go func() {
		defer sub.wg.Done()
		select {
		case <-ctx.Done():
			sub.shutdown()
		case <-sub.done:
		}
	}()

	logger.WithRepo("events", repoRoot).Debug("subscribed", "filter", filter, "port", rec.Port)
	return sub, nil
}

// read pumps envelopes until the stream ends. It shuts the subscription down
// on exit so the context watcher returns too.
func (s *Subscription) read(reader *bufio.Reader) {
	defer s.wg.Done()
	defer close(s.events)
	defer s.shutdown()

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			logger.WithComponent("events").Warn("skipping malformed envelope", "error", err)
			continue
		}
		select {
		case s.events <- env:
		case <-s.done:
			return
		}
	}
}

// Events delivers envelopes until the subscription ends, then is closed.
func (s *Subscription) Events() <-chan Envelope {
	return s.events
}

// Err returns why the stream ended on its own (for example the server shut
// down). It is nil after Close or cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	if errors.Is(err, net.ErrClosed) {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Close ends the subscription and waits until its goroutines have exited
// and the connection is released.
func (s *Subscription) Close() error {
	s.shutdown()
	s.wg.Wait()
	return nil
}
