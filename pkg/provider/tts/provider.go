// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Mr. Barnard's replies are a sentence or two, so synthesis is batch-shaped:
// the whole reply goes in, one encoded clip comes out and is shipped to the
// browser as a data URL. Providers that stream internally (ElevenLabs) collect
// their chunks before returning.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects and tunes the synthetic voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Stability in [0, 1]. Zero means provider default.
	Stability float64

	// SimilarityBoost in [0, 1]. Zero means provider default.
	SimilarityBoost float64

	// Speed is the speaking-rate multiplier, 1.0 = normal. Zero means default.
	Speed float64

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// Audio is one synthesised clip.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// MIMEType of Data, e.g. "audio/mpeg".
	MIMEType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. Empty text is an error.
	Synthesize(ctx context.Context, text string, voice Voice) (Audio, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Name returns a short identifier used in logs and metrics.
	Name() string
}
