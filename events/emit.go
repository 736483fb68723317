package events

import (
	"context"
	"errors"
	"time"

	"github.com/nathanvale/side-quest-git-sub001/config"
	"github.com/nathanvale/side-quest-git-sub001/logger"
)

// EmitTimeout caps how long Emit may spend on lookup, dial, and write.
const EmitTimeout = 500 * time.Millisecond

// Emitter publishes lifecycle events for one repository, best effort.
// Emit runs on the caller's goroutine. With no server it returns after one
// discovery lookup; with a reachable but slow server a call can block for up
// to EmitTimeout while it waits for the ack.
type Emitter struct {
	store   *Store
	root    string
	source  string
	timeout time.Duration
}

// NewEmitter returns an emitter for repoRoot. A nil store yields an emitter
// that drops everything.
func NewEmitter(store *Store, repoRoot, source string) *Emitter {
	if source == "" {
		source = DefaultSource
	}
	return &Emitter{store: store, root: config.NormalizePath(repoRoot), source: source, timeout: EmitTimeout}
}

// Emit sends one event and returns once it is acknowledged, dropped, or
// EmitTimeout has passed. It has no failure outcome: a missing or unreachable
// server, an encoding problem, and a timeout are all logged at debug level
// and discarded.
func (e *Emitter) Emit(ctx context.Context, typ Type, data any) {
	if e == nil || e.store == nil {
		return
	}
	log := logger.WithRepo("events", e.root)

	env, err := NewEnvelope(typ, e.root, e.source, data)
	if err != nil {
		log.Debug("event dropped", "type", typ, "error", err)
		return
	}

	// Detach from caller cancellation so a finished operation still reports,
	// but never wait longer than the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := Publish(ctx, e.store, env); err != nil {
		if errors.Is(err, ErrNoServer) {
			log.Debug("event dropped, no server", "type", typ)
			return
		}
		log.Debug("event dropped", "type", typ, "error", err)
		return
	}
	log.Debug("event emitted", "type", typ)
}
