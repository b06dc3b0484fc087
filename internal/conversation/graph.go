package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/inchoate/argument-clinic/internal/observe"
)

// DefaultEscalationThreshold is the number of contradiction exchanges after
// which replies escalate to [Argumentation].
const DefaultEscalationThreshold = 3

// ClassifyRequest is the input of a [Classifier].
type ClassifyRequest struct {
	Text           string
	History        []Turn
	PaymentPending bool
}

// Classifier maps user text onto the closed [Intent] set.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Intent, error)
}

// ReplyRequest is the input of a [Responder].
type ReplyRequest struct {
	// Node is the reply node being entered.
	Node   State
	Intent Intent
	Text   string

	// History excludes the current user input.
	History   []Turn
	TurnCount int

	// PaymentJustReceived is set when this reply follows an accepted payment.
	PaymentJustReceived bool
}

// Responder generates the agent utterance for a reply node.
type Responder interface {
	Respond(ctx context.Context, req ReplyRequest) (string, error)
}

// PaymentRequest is the input of a [PaymentJudge].
type PaymentRequest struct {
	Text string

	// Pending is true when the clerk has already demanded payment.
	Pending bool
}

// PaymentJudge decides whether a user input actually pays for the argument.
type PaymentJudge interface {
	Judge(ctx context.Context, req PaymentRequest) (bool, error)
}

// Config tunes a [Graph].
type Config struct {
	// EscalationThreshold is T1. Default: [DefaultEscalationThreshold].
	EscalationThreshold int

	// CollaboratorTimeout bounds every classifier, judge and responder call.
	// Zero means no extra bound.
	CollaboratorTimeout time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Graph runs conversation turns against a [Context].
//
// Graph holds no per-session state and is safe for concurrent use with
// distinct contexts.
type Graph struct {
	classifier Classifier
	responder  Responder
	judge      PaymentJudge
	cfg        Config
}

// NewGraph returns a Graph using the given collaborators.
func NewGraph(classifier Classifier, responder Responder, judge PaymentJudge, cfg Config) *Graph {
	if cfg.EscalationThreshold < 1 {
		cfg.EscalationThreshold = DefaultEscalationThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Graph{classifier: classifier, responder: responder, judge: judge, cfg: cfg}
}

// Input is one user input fed to [Graph.Step].
type Input struct {
	Text  string
	Voice bool

	// ReceivedAt is when the input arrived. It defaults to now and is used to
	// compute the reply latency.
	ReceivedAt time.Time
}

// Reply is the single agent utterance produced by a step.
type Reply struct {
	Text string

	// Node is the node that produced Text.
	Node   State
	Intent Intent

	// Path lists the nodes the step walked through, in order.
	Path []State

	PaymentAccepted bool
}

// Greet moves a context out of [Entry] and records the greeting. It reports
// false when c has already been greeted.
func (g *Graph) Greet(c *Context) (Reply, bool) {
	if c.State != Entry {
		return Reply{}, false
	}
	c.State = Transition(Entry, Event{})
	c.Turns = append(c.Turns, Turn{
		Speaker: SpeakerAgent,
		Text:    EntryGreeting,
		At:      g.cfg.Now(),
		Node:    Entry,
	})
	return Reply{Text: EntryGreeting, Node: Entry, Path: []State{Entry}}, true
}

// Step consumes one user input, appends the user and agent turns to c, and
// leaves c in [WaitForInput].
//
// On error c may hold a partial update. Callers pass a [Context.Clone] and
// discard it on failure.
func (g *Graph) Step(ctx context.Context, c *Context, in Input) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.step")
	defer span.End()

	now := g.cfg.Now()
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = now
	}

	switch c.State {
	case Entry:
		c.State = Transition(Entry, Event{})
	case WaitForInput:
	default:
		observe.Logger(ctx).Warn("context not resting in wait_for_input, recovering", "state", c.State)
		c.State = WaitForInput
	}

	history := c.Turns
	c.Turns = append(c.Turns, Turn{Speaker: SpeakerUser, Text: in.Text, At: in.ReceivedAt, Voice: in.Voice})
	c.State = Transition(c.State, Event{})

	intent := g.classify(ctx, ClassifyRequest{Text: in.Text, History: history, PaymentPending: c.PaymentPending})

	var verdict *bool
	if c.PaymentPending && intent != IntentPayment && intent != IntentMeta {
		if ok := g.judgePayment(ctx, PaymentRequest{Text: in.Text, Pending: true}); ok {
			intent = IntentPayment
			verdict = &ok
		}
	}

	ev := Event{Intent: intent, Escalated: c.EscalationCount >= g.cfg.EscalationThreshold}
	node := Transition(c.State, ev)
	reply := Reply{Intent: intent, Path: []State{ProcessInput, node}}
	span.SetAttributes(attribute.String("intent", string(intent)))

	if node == Resolution {
		if verdict == nil {
			ok := g.judgePayment(ctx, PaymentRequest{Text: in.Text, Pending: c.PaymentPending})
			verdict = &ok
		}
		ev.PaymentAccepted = *verdict
		next := Transition(Resolution, ev)
		if next == WaitForInput {
			c.PaymentPending = true
			reply.Text = RefusalLine(c.TurnCount + 1)
			reply.Node = Resolution
		} else {
			c.PaymentPending = false
			c.PaymentReceived = true
			c.EscalationCount = 0
			reply.PaymentAccepted = true
			node = next
			reply.Path = append(reply.Path, node)
		}
	}

	if reply.Text == "" {
		text, err := g.respond(ctx, ReplyRequest{
			Node:                node,
			Intent:              intent,
			Text:                in.Text,
			History:             history,
			TurnCount:           c.TurnCount,
			PaymentJustReceived: reply.PaymentAccepted,
		})
		if err != nil {
			span.RecordError(err)
			return Reply{}, fmt.Errorf("conversation: generate %s reply: %w", node, err)
		}
		reply.Text = text
		reply.Node = node
		if (node == SimpleContradiction || node == Argumentation) && !reply.PaymentAccepted {
			c.EscalationCount++
		}
	}

	c.State = Transition(reply.Node, ev)
	c.TurnCount++
	c.Turns = append(c.Turns, Turn{
		Speaker: SpeakerAgent,
		Text:    reply.Text,
		At:      g.cfg.Now(),
		Voice:   in.Voice,
		Latency: g.cfg.Now().Sub(in.ReceivedAt),
		Node:    reply.Node,
	})

	span.SetAttributes(attribute.String("node", string(reply.Node)))
	return reply, nil
}

// classify returns the classifier's intent, or the contradiction-seeking
// default when no classifier is configured or it fails.
func (g *Graph) classify(ctx context.Context, req ClassifyRequest) Intent {
	if g.classifier == nil {
		return IntentContradiction
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	intent, err := g.classifier.Classify(ctx, req)
	if err != nil {
		observe.Logger(ctx).Warn("intent classification failed, using default", "err", err)
		return IntentContradiction
	}
	return ParseIntent(string(intent))
}

// judgePayment treats a missing judge or a judge error as a declined payment.
func (g *Graph) judgePayment(ctx context.Context, req PaymentRequest) bool {
	if g.judge == nil {
		return false
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	ok, err := g.judge.Judge(ctx, req)
	if err != nil {
		observe.Logger(ctx).Warn("payment judgement failed, treating as declined", "err", err)
		return false
	}
	return ok
}

var errNoResponder = errors.New("no responder configured")

func (g *Graph) respond(ctx context.Context, req ReplyRequest) (string, error) {
	if g.responder == nil {
		return "", errNoResponder
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "conversation.respond",
		trace.WithAttributes(attribute.String("node", string(req.Node))))
	defer span.End()

	text, err := g.responder.Respond(ctx, req)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("empty reply")
	}
	return text, nil
}

func (g *Graph) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.CollaboratorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.CollaboratorTimeout)
}
