package agent

import (
	"context"
	"fmt"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/pkg/provider/llm"
)

const judgePrompt = `You decide whether a customer of the Argument Clinic is actually paying the five pound fee.

Count as paid only when the customer hands over money or payment right now:
- "Here's five pounds"
- "Fine, take my money"
- "Here you go"
- "*hands over money*"
- "Take this fiver"

Not paid:
- promises to pay later, such as "I'll pay you"
- "I don't want to pay", "This is expensive", "Why do I need to pay?", "I'm not paying"
- general arguing or complaining`

const judgePendingNote = "\n\nThe clerk has already demanded payment, so a plain agreement such as \"yes, that's fine\" counts as paying."

type paymentReply struct {
	Paid bool `json:"paid"`
}

// LLMJudge decides payment with a language model.
type LLMJudge struct {
	llm    llm.Provider
	opts   options
	schema *llm.ResponseSchema
}

// NewLLMJudge returns a payment judge backed by p.
func NewLLMJudge(p llm.Provider, opts ...Option) (*LLMJudge, error) {
	if p == nil {
		return nil, fmt.Errorf("agent: payment judge needs an llm provider")
	}
	schema, err := reflectSchema("payment", &paymentReply{})
	if err != nil {
		return nil, err
	}
	return &LLMJudge{
		llm:    p,
		opts:   buildOptions(options{temperature: 0, maxTokens: 20}, opts),
		schema: schema,
	}, nil
}

// Judge implements conversation.PaymentJudge.
func (j *LLMJudge) Judge(ctx context.Context, req conversation.PaymentRequest) (bool, error) {
	system := judgePrompt
	if req.Pending {
		system += judgePendingNote
	}
	resp, err := j.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Text}},
		Temperature:  j.opts.temperature,
		MaxTokens:    j.opts.maxTokens,
		Schema:       j.schema,
	})
	if err != nil {
		return false, fmt.Errorf("agent: judge payment: %w", err)
	}
	var out paymentReply
	if err := decodeReply(resp.Content, &out); err != nil {
		return false, fmt.Errorf("agent: judge payment: decode %q: %w", resp.Content, err)
	}
	return out.Paid, nil
}

var _ conversation.PaymentJudge = (*LLMJudge)(nil)
