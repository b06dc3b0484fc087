package resilience

import (
	"context"

	"github.com/inchoate/argument-clinic/pkg/provider/tts"
)

// Synthesizer runs text-to-speech over an ordered chain of [tts.Provider]s.
type Synthesizer struct {
	chain *Chain[tts.Provider]
}

// NewSynthesizer returns a Synthesizer trying providers in the given order.
func NewSynthesizer(cfg Config, providers ...tts.Provider) *Synthesizer {
	c := NewChain[tts.Provider](CapabilitySynthesize, cfg)
	for _, p := range providers {
		c.Add(p.Name(), p)
	}
	return &Synthesizer{chain: c}
}

// Synthesize returns audio from the first provider that succeeds.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) (Result[tts.Audio], error) {
	return Invoke(ctx, s.chain, func(ctx context.Context, p tts.Provider) (tts.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voice catalogue of the first provider able to list
// one.
func (s *Synthesizer) ListVoices(ctx context.Context) (Result[[]tts.Voice], error) {
	return Invoke(ctx, s.chain, func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// Names returns the provider names in preference order.
func (s *Synthesizer) Names() []string { return s.chain.Names() }

// Chain exposes the underlying chain for health reporting.
func (s *Synthesizer) Chain() *Chain[tts.Provider] { return s.chain }
