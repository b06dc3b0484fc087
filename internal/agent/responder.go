package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/pkg/provider/llm"
)

const persona = `You are Mr. Barnard from Monty Python's Argument Clinic.
Keep responses short, punchy and in character.
Always contradict or argue with whatever the customer says.
Be pedantic and argumentative but stay professional, and take the ongoing argument into account.`

// guidance is appended to the customer's words for each reply node.
var guidance = map[conversation.State]string{
	conversation.SimpleContradiction: `Give a VERY simple contradiction, such as "No it isn't!" or "Yes it is!". One short sentence.`,
	conversation.Argumentation:       `Give a sophisticated contradictory argument with a little reasoning. Two or three sentences at most.`,
	conversation.MetaCommentary:      `Be pedantic about the nature of arguing. An argument is a connected series of statements intended to establish a proposition, and you insist this is exactly what you are doing.`,
	conversation.Resolution:          `Time is up. Refuse to argue any further until the customer pays five pounds.`,
}

const paidGuidance = `The customer has just paid. Thank them in a few words, then carry straight on contradicting them.`

// LLMResponder phrases Mr. Barnard's replies with a language model.
type LLMResponder struct {
	llm  llm.Provider
	opts options
}

// NewLLMResponder returns a responder backed by p.
func NewLLMResponder(p llm.Provider, opts ...Option) (*LLMResponder, error) {
	if p == nil {
		return nil, fmt.Errorf("agent: responder needs an llm provider")
	}
	return &LLMResponder{
		llm:  p,
		opts: buildOptions(options{temperature: 0.9, maxTokens: 120, historyTurns: DefaultHistoryTurns}, opts),
	}, nil
}

// Respond implements conversation.Responder. The Entry node always answers
// with the fixed greeting.
func (r *LLMResponder) Respond(ctx context.Context, req conversation.ReplyRequest) (string, error) {
	if req.Node == conversation.Entry {
		return conversation.EntryGreeting, nil
	}

	g, ok := guidance[req.Node]
	if !ok {
		g = guidance[conversation.SimpleContradiction]
	}
	if req.PaymentJustReceived {
		g = paidGuidance + "\n" + g
	}

	msgs := historyMessages(req.History, r.opts.historyTurns)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Customer intent: %s\n%s\n\nCustomer says: %q", req.Intent, g, req.Text),
	})

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: persona,
		Messages:     msgs,
		Temperature:  r.opts.temperature,
		MaxTokens:    r.opts.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("agent: respond: %w", err)
	}
	return cleanReply(resp.Content), nil
}

// cleanReply strips whitespace, wrapping quotes and a leading speaker tag.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Mr. Barnard:")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

var _ conversation.Responder = (*LLMResponder)(nil)
