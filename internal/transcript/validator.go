// Package transcript filters speech-to-text output before it reaches the
// conversation.
//
// Recognisers hallucinate on silent or noisy clips: Whisper in particular
// is known to return "Thank you." or "Thanks for watching" for a second of
// room noise. A [Validator] rejects such transcripts, together with empty and
// one-rune results, so that a noise clip never counts as a conversational
// turn.
package transcript

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Reason explains why a transcript was rejected. The empty Reason means the
// transcript is valid.
type Reason string

const (
	ReasonOK            Reason = ""
	ReasonEmpty         Reason = "empty"
	ReasonTooShort      Reason = "too_short"
	ReasonNoWords       Reason = "no_words"
	ReasonHallucination Reason = "hallucination"
)

// DefaultHallucinations are the phrases recognisers are known to invent.
var DefaultHallucinations = []string{
	".",
	"...",
	"Thank you.",
	"Thank you for watching",
	"Thanks for watching",
}

const (
	defaultMinRunes   = 2
	defaultSimilarity = 0.97

	// fuzzyMinRunes is the shortest normalised phrase compared fuzzily.
	fuzzyMinRunes = 4
)

// Option configures a [Validator].
type Option func(*Validator)

// WithMinRunes sets the minimum transcript length in runes. Default: 2.
func WithMinRunes(n int) Option {
	return func(v *Validator) { v.minRunes = n }
}

// WithHallucinations replaces the phrase list. Default: [DefaultHallucinations].
func WithHallucinations(phrases ...string) Option {
	return func(v *Validator) { v.phrases = phrases }
}

// WithSimilarity sets the Jaro-Winkler score at or above which a transcript
// matches a known phrase. Default: 0.97.
func WithSimilarity(score float64) Option {
	return func(v *Validator) { v.similarity = score }
}

// Validator decides whether a transcript is real speech. It is read-only
// after construction and safe for concurrent use.
type Validator struct {
	minRunes   int
	similarity float64
	phrases    []string
	normalised []string
}

// NewValidator returns a Validator with the given options applied.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		minRunes:   defaultMinRunes,
		similarity: defaultSimilarity,
		phrases:    DefaultHallucinations,
	}
	for _, o := range opts {
		o(v)
	}
	v.normalised = make([]string, 0, len(v.phrases))
	for _, p := range v.phrases {
		if n := normalise(p); utf8.RuneCountInString(n) >= fuzzyMinRunes {
			v.normalised = append(v.normalised, n)
		}
	}
	return v
}

// Check returns why text should be dropped, or [ReasonOK].
func (v *Validator) Check(text string) Reason {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return ReasonEmpty
	case utf8.RuneCountInString(t) < v.minRunes:
		return ReasonTooShort
	case slices.Contains(v.phrases, t):
		return ReasonHallucination
	case !strings.ContainsFunc(t, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }):
		return ReasonNoWords
	}

	n := normalise(t)
	for _, p := range v.normalised {
		if n == p || matchr.JaroWinkler(n, p, false) >= v.similarity {
			return ReasonHallucination
		}
	}
	return ReasonOK
}

// Valid reports whether text passes [Validator.Check].
func (v *Validator) Valid(text string) bool { return v.Check(text) == ReasonOK }

// normalise lowercases s, collapses whitespace and strips surrounding
// punctuation.
func normalise(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
}
