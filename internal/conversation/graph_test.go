package conversation_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/internal/conversation/mock"
)

func newGraph(cl conversation.Classifier, r conversation.Responder, j conversation.PaymentJudge) *conversation.Graph {
	return conversation.NewGraph(cl, r, j, conversation.Config{EscalationThreshold: 3})
}

func greeted(g *conversation.Graph) *conversation.Context {
	c := conversation.NewContext()
	g.Greet(c)
	return c
}

func TestGreet(t *testing.T) {
	g := newGraph(nil, nil, nil)
	c := conversation.NewContext()

	reply, ok := g.Greet(c)
	if !ok {
		t.Fatal("Greet() = false on a fresh context")
	}
	if reply.Text != conversation.EntryGreeting || reply.Node != conversation.Entry {
		t.Errorf("reply = %+v", reply)
	}
	if c.State != conversation.WaitForInput {
		t.Errorf("state = %s, want wait_for_input", c.State)
	}
	if c.TurnCount != 0 {
		t.Errorf("greeting must not count as a turn, got %d", c.TurnCount)
	}
	if _, ok := g.Greet(c); ok {
		t.Error("second Greet() should report false")
	}
}

func TestStep_SimpleContradiction(t *testing.T) {
	cl := &mock.Classifier{Intent: conversation.IntentContradiction}
	r := &mock.Responder{Text: "No you don't."}
	g := newGraph(cl, r, &mock.Judge{})
	c := greeted(g)

	reply, err := g.Step(context.Background(), c, conversation.Input{Text: "I want an argument"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if reply.Node != conversation.SimpleContradiction {
		t.Errorf("node = %s, want simple_contradiction", reply.Node)
	}
	if c.State != conversation.WaitForInput {
		t.Errorf("state = %s, want wait_for_input", c.State)
	}
	if c.TurnCount != 1 {
		t.Errorf("turn count = %d, want 1", c.TurnCount)
	}
	want := []conversation.State{conversation.ProcessInput, conversation.SimpleContradiction}
	if !slices.Equal(reply.Path, want) {
		t.Errorf("path = %v, want %v", reply.Path, want)
	}

	last := c.Turns[len(c.Turns)-1]
	if last.Speaker != conversation.SpeakerAgent || last.Text != "No you don't." || last.Node != conversation.SimpleContradiction {
		t.Errorf("last turn = %+v", last)
	}
	if user := c.Turns[len(c.Turns)-2]; user.Speaker != conversation.SpeakerUser || user.Text != "I want an argument" {
		t.Errorf("user turn = %+v", user)
	}
	if got := cl.Calls[0].History; len(got) != 1 || got[0].Text != conversation.EntryGreeting {
		t.Errorf("classifier history = %+v, want only the greeting", got)
	}
}

func TestStep_EscalatesAtThreshold(t *testing.T) {
	g := newGraph(&mock.Classifier{Intent: conversation.IntentContradiction}, &mock.Responder{Text: "No it isn't."}, nil)
	c := greeted(g)

	var nodes []conversation.State
	for range 5 {
		reply, err := g.Step(context.Background(), c, conversation.Input{Text: "I want an argument"})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		nodes = append(nodes, reply.Node)
	}
	want := []conversation.State{
		conversation.SimpleContradiction,
		conversation.SimpleContradiction,
		conversation.SimpleContradiction,
		conversation.Argumentation,
		conversation.Argumentation,
	}
	if !slices.Equal(nodes, want) {
		t.Errorf("nodes = %v, want %v", nodes, want)
	}
	if c.TurnCount != 5 {
		t.Errorf("turn count = %d, want 5", c.TurnCount)
	}
}

func TestStep_TurnCountMonotonic(t *testing.T) {
	intents := []conversation.Intent{
		conversation.IntentMeta,
		conversation.IntentContradiction,
		conversation.IntentPayment,
		conversation.IntentConfused,
		"garbage",
		conversation.IntentPayment,
	}
	i := 0
	cl := &mock.Classifier{Func: func(context.Context, conversation.ClassifyRequest) (conversation.Intent, error) {
		defer func() { i++ }()
		return intents[i], nil
	}}
	g := newGraph(cl, &mock.Responder{Text: "Yes it is."}, &mock.Judge{})
	c := greeted(g)

	for n := 1; n <= len(intents); n++ {
		if _, err := g.Step(context.Background(), c, conversation.Input{Text: "x"}); err != nil {
			t.Fatalf("Step %d: %v", n, err)
		}
		if c.TurnCount != n {
			t.Fatalf("after %d inputs turn count = %d", n, c.TurnCount)
		}
		if c.State != conversation.WaitForInput {
			t.Fatalf("after %d inputs state = %s", n, c.State)
		}
	}
}

func TestStep_MetaCommentary(t *testing.T) {
	r := &mock.Responder{Text: "An argument is a connected series of statements intended to establish a proposition."}
	g := newGraph(&mock.Classifier{Intent: conversation.IntentMeta}, r, nil)
	c := greeted(g)

	reply, err := g.Step(context.Background(), c, conversation.Input{Text: "This isn't an argument!"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Node != conversation.MetaCommentary {
		t.Errorf("node = %s, want meta_commentary", reply.Node)
	}
	if c.EscalationCount != 0 {
		t.Errorf("meta commentary should not escalate, count = %d", c.EscalationCount)
	}
	if r.Calls[0].Node != conversation.MetaCommentary {
		t.Errorf("responder node = %s", r.Calls[0].Node)
	}
}

func TestStep_PaymentFlow(t *testing.T) {
	cl := &mock.Classifier{Func: func(_ context.Context, req conversation.ClassifyRequest) (conversation.Intent, error) {
		if req.Text == "I'll pay you" {
			return conversation.IntentPayment, nil
		}
		return conversation.IntentContradiction, nil
	}}
	j := &mock.Judge{Func: func(_ context.Context, req conversation.PaymentRequest) (bool, error) {
		return req.Pending && req.Text == "yes that's fine", nil
	}}
	r := &mock.Responder{Text: conversation.PaymentThanks}
	g := newGraph(cl, r, j)
	c := greeted(g)
	c.EscalationCount = 4

	reply, err := g.Step(context.Background(), c, conversation.Input{Text: "I'll pay you"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Node != conversation.Resolution || reply.PaymentAccepted {
		t.Fatalf("first reply = %+v, want declined resolution", reply)
	}
	if !c.PaymentPending {
		t.Error("payment should be pending after a refusal")
	}
	if r.CallCount() != 0 {
		t.Error("refusal lines must not call the responder")
	}

	reply, err = g.Step(context.Background(), c, conversation.Input{Text: "yes that's fine"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Node != conversation.SimpleContradiction || !reply.PaymentAccepted {
		t.Fatalf("second reply = %+v, want accepted simple contradiction", reply)
	}
	want := []conversation.State{conversation.ProcessInput, conversation.Resolution, conversation.SimpleContradiction}
	if !slices.Equal(reply.Path, want) {
		t.Errorf("path = %v, want %v", reply.Path, want)
	}
	if c.EscalationCount != 0 || c.PaymentPending || !c.PaymentReceived {
		t.Errorf("context = escalation %d pending %v received %v", c.EscalationCount, c.PaymentPending, c.PaymentReceived)
	}
	if !r.Calls[0].PaymentJustReceived {
		t.Error("responder should be told the payment just arrived")
	}
	if c.TurnCount != 2 {
		t.Errorf("turn count = %d, want 2", c.TurnCount)
	}
}

func TestStep_ClassifierErrorUsesDefault(t *testing.T) {
	g := newGraph(&mock.Classifier{Err: errors.New("llm down")}, &mock.Responder{Text: "No it isn't."}, nil)
	c := greeted(g)

	reply, err := g.Step(context.Background(), c, conversation.Input{Text: "It is."})
	if err != nil {
		t.Fatalf("classifier failure must not fail the turn: %v", err)
	}
	if reply.Node != conversation.SimpleContradiction || reply.Intent != conversation.IntentContradiction {
		t.Errorf("reply = %+v, want default contradiction path", reply)
	}
}

func TestStep_JudgeErrorDeclines(t *testing.T) {
	g := newGraph(&mock.Classifier{Intent: conversation.IntentPayment}, &mock.Responder{Text: "x"}, &mock.Judge{Err: errors.New("boom")})
	c := greeted(g)

	reply, err := g.Step(context.Background(), c, conversation.Input{Text: "here's a fiver"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Node != conversation.Resolution || reply.PaymentAccepted {
		t.Errorf("reply = %+v, want declined", reply)
	}
}

func TestStep_ResponderErrorFailsTurn(t *testing.T) {
	g := newGraph(&mock.Classifier{Intent: conversation.IntentContradiction}, &mock.Responder{Err: errors.New("quota")}, nil)
	c := greeted(g)
	work := c.Clone()

	if _, err := g.Step(context.Background(), work, conversation.Input{Text: "Yes it is."}); err == nil {
		t.Fatal("expected error")
	}
	if c.TurnCount != 0 || len(c.Turns) != 1 {
		t.Errorf("committed context changed: %+v", c)
	}
}

func TestStep_EntryContextAdvancesWithoutGreeting(t *testing.T) {
	g := newGraph(nil, &mock.Responder{Text: "No it isn't."}, nil)
	c := conversation.NewContext()

	reply, err := g.Step(context.Background(), c, conversation.Input{Text: "Is this the right room?"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Node != conversation.SimpleContradiction {
		t.Errorf("node = %s", reply.Node)
	}
	agent := 0
	for _, turn := range c.Turns {
		if turn.Speaker == conversation.SpeakerAgent {
			agent++
		}
	}
	if agent != 1 {
		t.Errorf("agent turns = %d, want exactly one utterance", agent)
	}
}
