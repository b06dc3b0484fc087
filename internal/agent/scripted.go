package agent

import (
	"context"
	"strings"

	"github.com/inchoate/argument-clinic/internal/conversation"
)

// retorts maps a word in the customer's input to its flat contradiction.
// The first input token found here decides the reply.
var retorts = map[string]string{
	"is":     "No it isn't!",
	"isn't":  "Yes it is!",
	"not":    "Yes it is!",
	"was":    "No it wasn't!",
	"wasn't": "Yes it was!",
	"did":    "No you didn't!",
	"didn't": "Yes you did!",
	"came":   "No you didn't!",
	"do":     "No you don't!",
	"don't":  "Yes you do!",
	"want":   "No you don't!",
	"can":    "No you can't!",
	"can't":  "Yes you can!",
	"will":   "No you won't!",
	"won't":  "Yes you will!",
	"are":    "No they aren't!",
	"aren't": "Yes they are!",
	"yes":    "No!",
	"no":     "Yes!",
}

var (
	simpleLines = []string{"No it isn't!", "Yes it is!", "I'm afraid not.", "Oh yes it is!", "Not at all!"}

	argumentLines = []string{
		"Look, if I argue with you, I must take up a contrary position!",
		"It is NOT just contradiction! It's a connected series of statements, and you are simply failing to follow it.",
		"Ah, but you would say that, wouldn't you? Which rather proves my point.",
		"I'm afraid you're quite wrong, and I can prove it: nobody who was right would need to insist so much.",
		"Nonsense. The evidence is overwhelmingly against you, and besides, I'm the one paid to disagree.",
	}

	metaLines = []string{
		"An argument is a connected series of statements intended to establish a proposition!",
		"It can be! And I'm arguing perfectly properly, thank you very much.",
		"If I'm to argue with you, I must take up a contrary position. That's what you asked for.",
		"I'm not merely contradicting you. I'm following the proper form of an argument.",
	}

	confusedLine = "You're in the Argument Clinic. And no, you don't understand, which is rather the point!"
)

// ScriptedResponder answers from fixed lines. Replies rotate with the turn
// count so consecutive answers differ.
type ScriptedResponder struct{}

// Respond implements conversation.Responder. It never fails.
func (ScriptedResponder) Respond(_ context.Context, req conversation.ReplyRequest) (string, error) {
	if req.PaymentJustReceived {
		return conversation.PaymentThanks, nil
	}
	switch req.Node {
	case conversation.Entry:
		return conversation.EntryGreeting, nil
	case conversation.Argumentation:
		return pick(argumentLines, req.TurnCount), nil
	case conversation.MetaCommentary:
		return pick(metaLines, req.TurnCount), nil
	case conversation.Resolution:
		return conversation.RefusalLine(req.TurnCount), nil
	}
	if req.Intent == conversation.IntentConfused {
		return confusedLine, nil
	}
	for _, tok := range strings.Fields(normalise(req.Text)) {
		if r, ok := retorts[tok]; ok {
			return r, nil
		}
	}
	return pick(simpleLines, req.TurnCount), nil
}

func pick(lines []string, n int) string {
	return lines[max(n, 0)%len(lines)]
}

var _ conversation.Responder = ScriptedResponder{}
