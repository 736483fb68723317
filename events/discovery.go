package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nathanvale/side-quest-git-sub001/config"
	"github.com/nathanvale/side-quest-git-sub001/logger"
	"github.com/nathanvale/side-quest-git-sub001/paths"
	"github.com/nathanvale/side-quest-git-sub001/process"
)

// DialTimeout bounds every liveness probe and client connection attempt.
const DialTimeout = time.Second

var (
	// ErrNoServer means no live event server is recorded for the repository.
	ErrNoServer = errors.New("no event server found")
	// ErrServerRunning is returned when starting a second server for one repository.
	ErrServerRunning = errors.New("event server already running")
)

// Record is the on-disk advertisement of a running server.
type Record struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	StartedAt time.Time `json:"startedAt"`
}

// Addr is the loopback address the record advertises.
func (r *Record) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port))
}

// Store keeps discovery records as one JSON file per cache key.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultStore returns the store in the events cache directory.
func DefaultStore() (*Store, error) {
	dir, err := paths.EventsDir()
	if err != nil {
		return nil, err
	}
	return NewStore(dir), nil
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the record file for a repository root.
func (s *Store) Path(repoRoot string) string {
	return filepath.Join(s.dir, CacheKey(repoRoot)+".json")
}

// Write replaces the record for rec.Root.
func (s *Store) Write(rec Record) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create events dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("failed to write discovery record: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write discovery record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write discovery record: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path(rec.Root))
}

// Read returns the raw record without checking liveness. Callers that
// intend to connect must use Lookup.
func (s *Store) Read(repoRoot string) (*Record, error) {
	data, err := os.ReadFile(s.Path(repoRoot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoServer
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt discovery record %s: %w", s.Path(repoRoot), err)
	}
	return &rec, nil
}

// Remove deletes the record for repoRoot if it still carries id. An empty id
// removes whatever is there.
func (s *Store) Remove(repoRoot, id string) error {
	if id != "" {
		rec, err := s.Read(repoRoot)
		if err != nil || rec.ID != id {
			return nil
		}
	}
	if err := os.Remove(s.Path(repoRoot)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Lookup returns the live server for repoRoot. A record whose process is
// gone, whose port refuses connections, or that cannot be parsed is deleted
// and reported as ErrNoServer.
func (s *Store) Lookup(ctx context.Context, repoRoot string) (*Record, error) {
	log := logger.WithComponent("events")

	rec, err := s.Read(repoRoot)
	if errors.Is(err, ErrNoServer) {
		return nil, ErrNoServer
	}
	if err != nil {
		log.Warn("discarding unreadable discovery record", "path", s.Path(repoRoot), "error", err)
		_ = s.Remove(repoRoot, "")
		return nil, ErrNoServer
	}

	if !config.SamePath(rec.Root, repoRoot) || !process.IsAlive(rec.PID) || !probe(ctx, rec.Addr()) {
		log.Info("discarding stale discovery record", "path", s.Path(repoRoot), "pid", rec.PID, "port", rec.Port)
		_ = s.Remove(repoRoot, rec.ID)
		return nil, ErrNoServer
	}
	return rec, nil
}

// probe reports whether something accepts connections at addr.
func probe(ctx context.Context, addr string) bool {
	conn, err := dial(ctx, addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}
