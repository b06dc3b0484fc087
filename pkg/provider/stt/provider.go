// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The clinic receives each spoken remark as one complete recorded clip (the
// browser records until silence and ships the whole blob), so the interface is
// batch-shaped: one clip in, one Transcript out. Streaming backends such as
// Deepgram open a short-lived stream per clip internally.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when a backend processed the clip but recognised no
// words. The fallback layer treats it like any other failure and moves on.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// Audio is one recorded clip in a container format the browser produced.
type Audio struct {
	// Data holds the encoded clip bytes.
	Data []byte

	// Format is the container or codec name, e.g. "webm", "wav", "ogg", "mp3".
	Format string

	// Language is an optional BCP-47 hint. Empty lets the backend decide.
	Language string
}

// MIMEType returns the MIME type that matches a.Format.
func (a Audio) MIMEType() string {
	switch a.Format {
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "mp4", "m4a":
		return "audio/mp4"
	case "", "webm":
		return "audio/webm"
	default:
		return "audio/" + a.Format
	}
}

// FileName returns a synthetic upload file name carrying the right extension.
// Several backends sniff the format from it.
func (a Audio) FileName() string {
	f := a.Format
	if f == "" {
		f = "webm"
	}
	return "audio." + f
}

// Transcript is the recognised text of one clip.
type Transcript struct {
	// Text is the transcribed speech content, trimmed.
	Text string

	// Confidence in [0, 1]. Zero when the backend does not report one.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one clip to text. It must honour ctx cancellation
	// and return ErrNoSpeech (possibly wrapped) for silent clips.
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)

	// Name returns a short identifier used in logs and metrics.
	Name() string
}
