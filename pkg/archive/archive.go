// Package archive defines the write-only audit log of completed turns.
//
// A [Store] receives every user and agent turn once the turn has been
// committed to its session. Nothing is ever read back into a live session:
// sessions do not survive a restart, the archive only exists so operators can
// inspect past conversations.
//
// Implementations must be safe for concurrent use.
package archive

import (
	"context"
	"time"
)

// Record is one archived turn.
type Record struct {
	SessionID string

	// Seq is the turn's position in the session history, starting at 0.
	Seq int

	// Speaker is "user" or "agent".
	Speaker string
	Text    string

	// Node is the graph node that produced an agent turn.
	Node   string
	Intent string
	Voice  bool

	// Provider names the STT provider for voice user turns and the TTS
	// provider for synthesised agent turns.
	Provider string

	Latency    time.Duration
	RecordedAt time.Time
}

// Store persists records.
type Store interface {
	// Append writes records in order. It either stores all of them or
	// returns an error.
	Append(ctx context.Context, records ...Record) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
