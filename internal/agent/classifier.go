package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/pkg/provider/llm"
)

const classifierPrompt = `You analyse what a customer of the Argument Clinic wants from their latest message.

Intent labels:
- contradiction-seeking: the customer wants to argue, debate, or make a point to be contradicted
- meta: the customer talks about what arguing is, complains that this is not a proper argument, or discusses the clinic itself
- payment-offer: the customer pays, offers to pay, or talks about the fee
- confused: the customer is lost, asks for help, or does not understand what is happening

Examples:
- "That's not true!" -> contradiction-seeking
- "The sky is blue" -> contradiction-seeking
- "This isn't an argument!" -> meta
- "Argument is not the same as contradiction" -> meta
- "Fine, here's five pounds" -> payment-offer
- "I'll pay you" -> payment-offer
- "What is this place?" -> confused`

const pendingNote = "\n\nThe clerk is currently refusing to argue until the customer pays five pounds."

// intentReply is the structured reply requested from the model.
type intentReply struct {
	Intent string `json:"intent" jsonschema:"enum=contradiction-seeking,enum=meta,enum=payment-offer,enum=confused"`
}

// LLMClassifier classifies customer input with a language model.
type LLMClassifier struct {
	llm    llm.Provider
	opts   options
	schema *llm.ResponseSchema
}

// NewLLMClassifier returns a classifier backed by p.
func NewLLMClassifier(p llm.Provider, opts ...Option) (*LLMClassifier, error) {
	if p == nil {
		return nil, fmt.Errorf("agent: classifier needs an llm provider")
	}
	schema, err := reflectSchema("intent", &intentReply{})
	if err != nil {
		return nil, err
	}
	return &LLMClassifier{
		llm:    p,
		opts:   buildOptions(options{temperature: 0.1, maxTokens: 20, historyTurns: 3}, opts),
		schema: schema,
	}, nil
}

// Classify implements conversation.Classifier. A reply that carries no
// recognisable label is an error; the graph then applies its default.
func (c *LLMClassifier) Classify(ctx context.Context, req conversation.ClassifyRequest) (conversation.Intent, error) {
	system := classifierPrompt
	if req.PaymentPending {
		system += pendingNote
	}
	user := fmt.Sprintf("Recent conversation:\n%s\n\nCustomer says: %q",
		transcript(req.History, c.opts.historyTurns), req.Text)

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature:  c.opts.temperature,
		MaxTokens:    c.opts.maxTokens,
		Schema:       c.schema,
	})
	if err != nil {
		return "", fmt.Errorf("agent: classify: %w", err)
	}

	var out intentReply
	if err := decodeReply(resp.Content, &out); err != nil {
		// Some local models answer with the bare label.
		out.Intent = strings.Trim(strings.TrimSpace(resp.Content), `"'.`)
	}
	if !known(out.Intent) {
		return "", fmt.Errorf("agent: classify: unrecognised intent %q", resp.Content)
	}
	return conversation.ParseIntent(out.Intent), nil
}

// known reports whether label parses to an intent on its own merits rather
// than through ParseIntent's fallback.
func known(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return false
	}
	p := conversation.ParseIntent(l)
	return p != conversation.IntentContradiction || strings.HasPrefix(l, "contradiction") || l == "argumentative"
}

var _ conversation.Classifier = (*LLMClassifier)(nil)
