package conversation

import (
	"slices"
	"time"
)

// Speaker tags who produced a [Turn].
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Turn is one entry of the conversation history. Turns are never modified
// after they are appended.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time

	// Voice is true when the user spoke the input or the agent reply was
	// requested as audio.
	Voice bool

	// Latency is the agent's response time. Zero for user turns.
	Latency time.Duration

	// Node is the graph node that produced an agent turn.
	Node State
}

// Context is the mutable per-session conversation record. It is not safe for
// concurrent use; the session's exclusive-turn lock serialises access.
type Context struct {
	// State is the node the session rests in.
	State State

	// Turns is the append-only history, oldest first.
	Turns []Turn

	// TurnCount is the number of completed user inputs.
	TurnCount int

	// EscalationCount counts contradiction exchanges since the last payment.
	EscalationCount int

	// PaymentPending is set once a payment demand is outstanding.
	PaymentPending bool

	// PaymentReceived is set once the user has paid.
	PaymentReceived bool
}

// NewContext returns a context resting in [Entry].
func NewContext() *Context {
	return &Context{State: Entry}
}

// Clone returns a deep copy of c. A turn mutates a clone and commits it only
// once the agent reply is ready.
func (c *Context) Clone() *Context {
	out := *c
	out.Turns = slices.Clone(c.Turns)
	return &out
}

// Snapshot returns a read-only copy of c for metrics and debugging.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		State:           c.State,
		Turns:           slices.Clone(c.Turns),
		TurnCount:       c.TurnCount,
		EscalationCount: c.EscalationCount,
		PaymentPending:  c.PaymentPending,
		PaymentReceived: c.PaymentReceived,
	}
}

// Snapshot is a point-in-time copy of a [Context].
type Snapshot struct {
	State           State
	Turns           []Turn
	TurnCount       int
	EscalationCount int
	PaymentPending  bool
	PaymentReceived bool
}

// Recent returns at most n of the newest turns.
func (s Snapshot) Recent(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LastAgentTurn returns the newest agent turn, if any.
func (s Snapshot) LastAgentTurn() (Turn, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Speaker == SpeakerAgent {
			return s.Turns[i], true
		}
	}
	return Turn{}, false
}
