// Package conversation holds the Argument Clinic dialogue state machine.
//
// A session's [Context] rests in [WaitForInput] between turns. Each user
// input runs one [Graph.Step], which walks the transient nodes
// ([ProcessInput] and one reply node) and returns the session to
// [WaitForInput] having produced exactly one agent utterance.
//
// Routing is owned by [Transition], a total function over (state, event):
// every pair it does not name resolves to the contradiction-seeking path.
package conversation

import "strings"

// State identifies a node of the conversation graph. The string value is the
// wire tag sent to clients.
type State string

const (
	Entry               State = "entry"
	WaitForInput        State = "wait_for_input"
	ProcessInput        State = "process_input"
	SimpleContradiction State = "simple_contradiction"
	Argumentation       State = "argumentation"
	MetaCommentary      State = "meta_commentary"
	Resolution          State = "resolution"
)

// States lists every defined node.
var States = []State{
	Entry, WaitForInput, ProcessInput, SimpleContradiction,
	Argumentation, MetaCommentary, Resolution,
}

// Valid reports whether s is a defined node.
func (s State) Valid() bool {
	switch s {
	case Entry, WaitForInput, ProcessInput, SimpleContradiction,
		Argumentation, MetaCommentary, Resolution:
		return true
	}
	return false
}

// Transient reports whether s is entered and left within a single turn.
func (s State) Transient() bool {
	return s != Entry && s != WaitForInput && s.Valid()
}

// Intent is the closed set of labels an intent classifier may return.
type Intent string

const (
	IntentContradiction Intent = "contradiction-seeking"
	IntentMeta          Intent = "meta"
	IntentPayment       Intent = "payment-offer"
	IntentConfused      Intent = "confused"
)

// Intents lists every label in the closed set.
var Intents = []Intent{IntentContradiction, IntentMeta, IntentPayment, IntentConfused}

// ParseIntent normalises a classifier label. Unknown labels become
// [IntentContradiction].
func ParseIntent(label string) Intent {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.ReplaceAll(l, "_", "-")
	switch Intent(l) {
	case IntentContradiction, "contradiction", "argumentative":
		return IntentContradiction
	case IntentMeta:
		return IntentMeta
	case IntentPayment, "payment", "transactional":
		return IntentPayment
	case IntentConfused:
		return IntentConfused
	}
	return IntentContradiction
}

// Event carries everything [Transition] needs besides the current state.
type Event struct {
	Intent Intent

	// Escalated is true once the simple exchanges since the last payment
	// reached the escalation threshold.
	Escalated bool

	// PaymentAccepted is the payment judge's verdict. Only read in
	// [Resolution].
	PaymentAccepted bool
}

// Transition returns the node that follows from on ev. It is total: it
// returns a defined, non-Entry state for every input, including undefined
// states and intents.
func Transition(from State, ev Event) State {
	switch from {
	case Entry:
		return WaitForInput
	case WaitForInput:
		return ProcessInput
	case ProcessInput:
		switch ev.Intent {
		case IntentMeta:
			return MetaCommentary
		case IntentPayment:
			return Resolution
		}
	case SimpleContradiction, Argumentation, MetaCommentary:
		return WaitForInput
	case Resolution:
		if ev.PaymentAccepted {
			return SimpleContradiction
		}
		return WaitForInput
	}
	return contradiction(ev)
}

func contradiction(ev Event) State {
	if ev.Escalated {
		return Argumentation
	}
	return SimpleContradiction
}
