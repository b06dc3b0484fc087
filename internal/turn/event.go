package turn

import (
	"time"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/pkg/provider/tts"
)

// EventType is the wire tag of an outbound event.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventTranscription EventType = "transcription"
	EventResponse      EventType = "ai_response"
	EventError         EventType = "error"
)

// Event is one outbound message produced by a turn. Fields that do not apply
// to Type are zero.
type Event struct {
	Type      EventType
	SessionID string
	Content   string

	// Provider is the STT provider that produced a transcription.
	Provider string

	// CurrentNode is the node that produced the reply, State the node the
	// session now rests in.
	CurrentNode     conversation.State
	State           conversation.State
	TurnCount       int
	PaymentReceived bool
	ResponseTime    time.Duration
	IsVoice         bool

	// Audio is the synthesised reply, nil when synthesis was not requested
	// or failed.
	Audio *tts.Audio

	// TranscribedText echoes the recognised user speech on voice turns.
	TranscribedText string
}

// Emitter receives the events of a turn in order.
type Emitter func(Event)
