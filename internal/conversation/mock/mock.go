// Package mock provides test doubles for the conversation collaborators.
package mock

import (
	"context"
	"sync"

	"github.com/inchoate/argument-clinic/internal/conversation"
)

// Classifier is a mock [conversation.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Intent is returned when Func is nil.
	Intent conversation.Intent
	Err    error

	// Func, if set, overrides Intent and Err.
	Func func(ctx context.Context, req conversation.ClassifyRequest) (conversation.Intent, error)

	Calls []conversation.ClassifyRequest
}

// Classify records the call and returns the configured intent.
func (c *Classifier) Classify(ctx context.Context, req conversation.ClassifyRequest) (conversation.Intent, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, req)
	fn, intent, err := c.Func, c.Intent, c.Err
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return intent, err
}

// CallCount returns the number of Classify calls.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Responder is a mock [conversation.Responder].
type Responder struct {
	mu sync.Mutex

	// Text is returned when Func is nil.
	Text string
	Err  error

	Func func(ctx context.Context, req conversation.ReplyRequest) (string, error)

	Calls []conversation.ReplyRequest
}

// Respond records the call and returns the configured text.
func (r *Responder) Respond(ctx context.Context, req conversation.ReplyRequest) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, req)
	fn, text, err := r.Func, r.Text, r.Err
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return text, err
}

// CallCount returns the number of Respond calls.
func (r *Responder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Judge is a mock [conversation.PaymentJudge].
type Judge struct {
	mu sync.Mutex

	Accept bool
	Err    error
	Func   func(ctx context.Context, req conversation.PaymentRequest) (bool, error)

	Calls []conversation.PaymentRequest
}

// Judge records the call and returns the configured verdict.
func (j *Judge) Judge(ctx context.Context, req conversation.PaymentRequest) (bool, error) {
	j.mu.Lock()
	j.Calls = append(j.Calls, req)
	fn, ok, err := j.Func, j.Accept, j.Err
	j.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return ok, err
}

var (
	_ conversation.Classifier   = (*Classifier)(nil)
	_ conversation.Responder    = (*Responder)(nil)
	_ conversation.PaymentJudge = (*Judge)(nil)
)
