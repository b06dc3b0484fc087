package agent

import (
	"context"
	"testing"

	"github.com/inchoate/argument-clinic/internal/conversation"
)

func TestKeywordClassifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want conversation.Intent
	}{
		{"I want an argument", conversation.IntentContradiction},
		{"The sky is blue", conversation.IntentContradiction},
		{"I like playing chess", conversation.IntentContradiction},
		{"I'll pay you", conversation.IntentPayment},
		{"Fine, here's five pounds.", conversation.IntentPayment},
		{"I have the pounts", conversation.IntentPayment},
		{"*hands over money*", conversation.IntentPayment},
		{"This isn't an argument!", conversation.IntentMeta},
		{"You're just contradicting me", conversation.IntentMeta},
		{"I don't understand", conversation.IntentConfused},
		{"What is this place?", conversation.IntentConfused},
		{"", conversation.IntentContradiction},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := KeywordClassifier{}.Classify(context.Background(), conversation.ClassifyRequest{Text: tt.text})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestKeywordJudge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		pending bool
		want    bool
	}{
		{"I'll pay you", false, false},
		{"I'll pay you", true, false},
		{"Here's five pounds", false, true},
		{"*hands over money*", false, true},
		{"Take this fiver", false, true},
		{"I’m not paying", true, false},
		{"That's ridiculous", true, false},
		{"yes that's fine", true, true},
		{"yes that's fine", false, false},
		{"Okay!", true, true},
		{"Go on then", true, true},
		{"Yes it is!", true, false},
		{"Right, it is not!", true, false},
		{"No it isn't", true, false},
		{"Yes, I did!", true, false},
		{"Fine, but you're still wrong", true, false},
		{"Yes yes yes, of course, obviously, whatever you say", true, false},
		{"", true, false},
	}
	for _, tt := range tests {
		got, err := KeywordJudge{}.Judge(context.Background(), conversation.PaymentRequest{Text: tt.text, Pending: tt.pending})
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Judge(%q, pending=%v) = %v, want %v", tt.text, tt.pending, got, tt.want)
		}
	}
}

func TestKeywordAgents_ArguingWhilePaymentPending(t *testing.T) {
	t.Parallel()
	g := conversation.NewGraph(KeywordClassifier{}, ScriptedResponder{}, KeywordJudge{}, conversation.Config{})
	c := conversation.NewContext()
	g.Greet(c)

	steps := []struct {
		text    string
		paid    bool
		pending bool
	}{
		{"I'll pay you", false, true},
		{"Yes it is!", false, true},
		{"Right, it is not!", false, true},
		{"yes that's fine", true, false},
	}
	for _, st := range steps {
		reply, err := g.Step(context.Background(), c, conversation.Input{Text: st.text})
		if err != nil {
			t.Fatalf("Step(%q): %v", st.text, err)
		}
		if reply.PaymentAccepted != st.paid || c.PaymentPending != st.pending {
			t.Fatalf("after %q: accepted %v pending %v, want %v %v",
				st.text, reply.PaymentAccepted, c.PaymentPending, st.paid, st.pending)
		}
	}
	if !c.PaymentReceived {
		t.Error("payment should be received after a bare agreement")
	}
}

func TestScriptedResponder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  conversation.ReplyRequest
		want string
	}{
		{"payment thanks", conversation.ReplyRequest{Node: conversation.SimpleContradiction, PaymentJustReceived: true}, conversation.PaymentThanks},
		{"entry", conversation.ReplyRequest{Node: conversation.Entry}, conversation.EntryGreeting},
		{"retort is", conversation.ReplyRequest{Node: conversation.SimpleContradiction, Text: "This is a good argument"}, "No it isn't!"},
		{"retort isn't", conversation.ReplyRequest{Node: conversation.SimpleContradiction, Text: "It isn't."}, "Yes it is!"},
		{"retort want", conversation.ReplyRequest{Node: conversation.SimpleContradiction, Text: "I want an argument"}, "No you don't!"},
		{"rotation", conversation.ReplyRequest{Node: conversation.SimpleContradiction, Text: "Hello there", TurnCount: 1}, simpleLines[1]},
		{"confused", conversation.ReplyRequest{Node: conversation.SimpleContradiction, Intent: conversation.IntentConfused}, confusedLine},
		{"argument", conversation.ReplyRequest{Node: conversation.Argumentation, TurnCount: 7}, argumentLines[2]},
		{"meta", conversation.ReplyRequest{Node: conversation.MetaCommentary}, metaLines[0]},
		{"resolution", conversation.ReplyRequest{Node: conversation.Resolution, TurnCount: 2}, conversation.RefusalLine(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScriptedResponder{}.Respond(context.Background(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Respond() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeReply(t *testing.T) {
	t.Parallel()

	var out struct {
		Paid bool `json:"paid"`
	}
	if err := decodeReply("Sure! Here it is: {\"paid\": true} Hope that helps.", &out); err != nil {
		t.Fatal(err)
	}
	if !out.Paid {
		t.Error("expected paid = true")
	}
}
