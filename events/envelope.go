package events

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Type tags an envelope. Tailers filter on it with exact string match.
type Type string

const (
	TypeWorktreeCreated Type = "worktree.created"
	TypeWorktreeDeleted Type = "worktree.deleted"
	TypeWorktreeSynced  Type = "worktree.synced"
	TypeWorktreeCleaned Type = "worktree.cleaned"
	TypeBackupRestored  Type = "backup.restored"
)

// KnownTypes lists every type the orchestrators emit.
var KnownTypes = []Type{
	TypeWorktreeCreated,
	TypeWorktreeDeleted,
	TypeWorktreeSynced,
	TypeWorktreeCleaned,
	TypeBackupRestored,
}

// DefaultSource tags envelopes emitted by the command-line tool.
const DefaultSource = "cli"

// Envelope is one broadcast event. Data is the JSON encoding of the
// operation's result value.
type Envelope struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RepoName  string          `json:"repoName"`
	RepoRoot  string          `json:"repoRoot"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data and stamps the envelope with the current time.
func NewEnvelope(typ Type, repoRoot, source string, data any) (Envelope, error) {
	if source == "" {
		source = DefaultSource
	}
	env := Envelope{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RepoName:  filepath.Base(repoRoot),
		RepoRoot:  repoRoot,
		Source:    source,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Matches reports whether the envelope passes a subscriber's type filter.
func (e Envelope) Matches(filter Type) bool {
	return filter == "" || e.Type == filter
}

// request is the first frame a client sends.
type request struct {
	Op    string    `json:"op"`
	Event *Envelope `json:"event,omitempty"`
	Type  Type      `json:"type,omitempty"`
}

const (
	opPublish   = "publish"
	opSubscribe = "subscribe"
	opReady     = "ready"
	opAck       = "ack"
)

// reply is the server's acknowledgement frame.
type reply struct {
	Op string `json:"op"`
}
