package resilience

import (
	"context"
	"errors"

	"github.com/inchoate/argument-clinic/pkg/provider/stt"
)

// Transcriber runs speech-to-text over an ordered chain of [stt.Provider]s.
type Transcriber struct {
	chain *Chain[stt.Provider]
}

// NewTranscriber returns a Transcriber trying providers in the given order.
// Each provider is registered under its Name.
func NewTranscriber(cfg Config, providers ...stt.Provider) *Transcriber {
	c := NewChain[stt.Provider](CapabilityTranscribe, cfg)
	for _, p := range providers {
		c.Add(p.Name(), p)
	}
	return &Transcriber{chain: c}
}

// Transcribe returns the first successful transcript. A provider reporting
// [stt.ErrNoSpeech] counts as a success with an empty transcript, since a
// second provider is no more likely to hear speech in the same clip.
func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio) (Result[stt.Transcript], error) {
	return Invoke(ctx, t.chain, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		tr, err := p.Transcribe(ctx, audio)
		if errors.Is(err, stt.ErrNoSpeech) {
			return stt.Transcript{}, nil
		}
		return tr, err
	})
}

// Names returns the provider names in preference order.
func (t *Transcriber) Names() []string { return t.chain.Names() }

// Chain exposes the underlying chain for health reporting.
func (t *Transcriber) Chain() *Chain[stt.Provider] { return t.chain }
