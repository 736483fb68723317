package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nathanvale/side-quest-git-sub001/config"
	"github.com/nathanvale/side-quest-git-sub001/logger"
	"github.com/nathanvale/side-quest-git-sub001/process"
)

const (
	// SubscriberBuffer is how many envelopes a subscriber may fall behind
	// before it is disconnected.
	SubscriberBuffer = 64

	// FrameReadTimeout bounds how long a new connection may take to send its
	// first frame.
	FrameReadTimeout = 10 * time.Second

	// WriteTimeout bounds a single envelope write to a subscriber.
	WriteTimeout = 5 * time.Second
)

type subscriber struct {
	conn   net.Conn
	filter Type
	ch     chan []byte
}

// Server is the broadcast hub for one repository.
type Server struct {
	root     string
	id       string
	started  time.Time
	store    *Store
	listener net.Listener
	log      *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	conns  map[net.Conn]struct{}
	closed bool

	wg      sync.WaitGroup
	readyCh chan struct{}
}

// Listen starts a server for repoRoot on an ephemeral loopback port and
// writes its discovery record. It fails with ErrServerRunning when a live
// server is already recorded. Call Start (or Serve) to accept connections.
func Listen(ctx context.Context, store *Store, repoRoot string) (*Server, error) {
	root := config.NormalizePath(repoRoot)
	if _, err := store.Lookup(ctx, root); err == nil {
		return nil, ErrServerRunning
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		root:     root,
		id:       uuid.NewString(),
		started:  time.Now().UTC(),
		store:    store,
		listener: listener,
		log:      logger.WithRepo("events", root),
		subs:     make(map[*subscriber]struct{}),
		conns:    make(map[net.Conn]struct{}),
		readyCh:  make(chan struct{}),
	}

	if err := store.Write(s.Record()); err != nil {
		listener.Close()
		return nil, err
	}
	s.log.Info("event server listening", "addr", listener.Addr().String(), "id", s.id)
	return s, nil
}

// Record returns the discovery record this server advertises.
func (s *Server) Record() Record {
	return Record{
		PID:       process.Self(),
		Port:      s.Port(),
		ID:        s.id,
		Root:      s.root,
		StartedAt: s.started,
	}
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start launches the accept loop in a goroutine.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.run()
}

// WaitReady blocks until the accept loop is running.
func (s *Server) WaitReady() {
	<-s.readyCh
}

// Serve runs the accept loop until ctx is cancelled, then closes the server.
func (s *Server) Serve(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	return s.Close()
}

func (s *Server) run() {
	defer s.wg.Done()
	close(s.readyCh)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Debug("listener closed, stopping accept loop")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(FrameReadTimeout))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		// Liveness probes connect and hang up without a frame
		if !errors.Is(err, io.EOF) {
			s.log.Debug("read error before first frame", "error", err)
		}
		return
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn("malformed request frame", "error", err)
		return
	}

	switch req.Op {
	case opPublish:
		conn.SetReadDeadline(time.Time{})
		s.handlePublisher(conn, reader, req)
	case opSubscribe:
		s.handleSubscriber(conn, reader, req.Type)
	default:
		s.log.Warn("unknown request op", "op", req.Op)
	}
}

// handlePublisher broadcasts the first frame and any that follow on the
// same connection, acknowledging each once it is queued to every subscriber.
// The ack lets a publisher order back-to-back events.
func (s *Server) handlePublisher(conn net.Conn, reader *bufio.Reader, first request) {
	ack, _ := json.Marshal(reply{Op: opAck})
	ack = append(ack, '\n')

	req := first
	for {
		if req.Op == opPublish && req.Event != nil {
			s.Publish(*req.Event)
		}
		conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := conn.Write(ack); err != nil {
			return
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		req = request{}
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("malformed publish frame", "error", err)
			return
		}
	}
}

func (s *Server) handleSubscriber(conn net.Conn, reader *bufio.Reader, filter Type) {
	sub := &subscriber{conn: conn, filter: filter, ch: make(chan []byte, SubscriberBuffer)}
	if !s.addSubscriber(sub) {
		return
	}
	defer s.removeSubscriber(sub)

	ready, _ := json.Marshal(reply{Op: opReady})
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := conn.Write(append(ready, '\n')); err != nil {
		s.log.Debug("subscriber gone before ready", "error", err)
		return
	}
	s.log.Debug("subscriber connected", "filter", filter)

	// Subscribers send nothing after the first frame; a read returning means
	// the peer hung up or the connection was closed under us.
	conn.SetReadDeadline(time.Time{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = io.Copy(io.Discard, reader)
		s.removeSubscriber(sub)
	}()

	for line := range sub.ch {
		conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := conn.Write(line); err != nil {
			s.log.Debug("subscriber write failed", "error", err)
			return
		}
	}
}

// Publish broadcasts env to every subscriber whose filter matches. A
// subscriber with a full buffer is disconnected; the rest are unaffected.
func (s *Server) Publish(env Envelope) {
	line, err := json.Marshal(env)
	if err != nil {
		s.log.Warn("dropping unencodable envelope", "type", env.Type, "error", err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	delivered := 0
	for sub := range s.subs {
		if !env.Matches(sub.filter) {
			continue
		}
		select {
		case sub.ch <- line:
			delivered++
		default:
			s.log.Warn("disconnecting slow subscriber", "filter", sub.filter)
			s.removeLocked(sub)
		}
	}
	s.log.Debug("broadcast", "type", env.Type, "delivered", delivered)
}

// SubscriberCount returns the number of connected subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) addSubscriber(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	return true
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sub)
}

// removeLocked ends the subscriber's writer loop and unblocks its reader.
func (s *Server) removeLocked(sub *subscriber) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
	sub.conn.Close()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, disconnects every client, waits for all handlers,
// and removes the discovery record if it is still ours.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		s.removeLocked(sub)
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()

	if rmErr := s.store.Remove(s.root, s.id); rmErr != nil {
		s.log.Warn("failed to remove discovery record", "error", rmErr)
	}
	s.log.Info("event server closed", "id", s.id)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
