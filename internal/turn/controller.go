// Package turn executes one user turn end to end.
//
// A [Controller] takes a user input (text, or audio that it transcribes
// first), runs a single conversation step under the session's exclusive-turn
// lock, optionally synthesises the reply and emits the resulting events in
// order:
//
//	transcription?  ai_response | error
//
// The conversation step mutates a copy of the session context. The copy is
// committed only after the agent turn is ready, so a failed or cancelled
// turn leaves the session exactly as it was.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/internal/observe"
	"github.com/inchoate/argument-clinic/internal/resilience"
	"github.com/inchoate/argument-clinic/internal/session"
	"github.com/inchoate/argument-clinic/internal/transcript"
	"github.com/inchoate/argument-clinic/pkg/archive"
	"github.com/inchoate/argument-clinic/pkg/provider/stt"
	"github.com/inchoate/argument-clinic/pkg/provider/tts"
)

// DefaultTurnTimeout bounds a whole turn, lock wait included.
const DefaultTurnTimeout = 30 * time.Second

// Failure reasons reported to [Recorder.RecordTurnError].
const (
	ReasonTranscription = "transcription_failed"
	ReasonReply         = "reply_failed"
	ReasonBusy          = "lock_cancelled"
	ReasonNoTranscriber = "voice_unavailable"
)

// User-facing error contents.
const (
	msgTranscription = "Voice processing failed: the audio could not be transcribed. Please try again."
	msgNoVoice       = "Voice processing failed: no transcription service is configured."
	msgReply         = "Processing failed: Mr. Barnard could not think of a reply. Please try again."
	msgBusy          = "Processing failed: the previous message is still being answered. Please try again."
)

// Transcriber is the transcribe capability. resilience.Transcriber
// implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio) (resilience.Result[stt.Transcript], error)
}

// Synthesizer is the synthesize capability. resilience.Synthesizer
// implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice tts.Voice) (resilience.Result[tts.Audio], error)
}

// Recorder receives turn metrics. observe.Metrics implements it.
type Recorder interface {
	RecordTurn(ctx context.Context, node string, voice bool, elapsed time.Duration)
	RecordTurnError(ctx context.Context, reason string)
	RecordFallback(ctx context.Context, capability, provider string)
}

// LatencyWindow receives the rolling latency samples. observe.Window
// implements it.
type LatencyWindow interface {
	RecordTurn(d time.Duration)
	RecordTranscription(d time.Duration)
	RecordError()
}

// VoiceSettings are the synthesis settings that may change at runtime.
type VoiceSettings struct {
	Voice tts.Voice

	// AlwaysSynthesize synthesises text replies even when the client did not
	// ask for audio.
	AlwaysSynthesize bool
}

// Config holds the dependencies of a [Controller]. Sessions and Graph are
// required; every other field is optional.
type Config struct {
	Sessions *session.Manager
	Graph    *conversation.Graph

	Transcriber Transcriber
	Synthesizer Synthesizer

	// Validator drops noise transcripts. Default: transcript.NewValidator().
	Validator *transcript.Validator

	Voice VoiceSettings

	// TurnTimeout bounds each turn. Default: [DefaultTurnTimeout].
	TurnTimeout time.Duration

	Metrics Recorder
	Window  LatencyWindow

	// Archive receives the committed turns. Write failures are logged and
	// never fail the turn.
	Archive archive.Store

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Controller runs turns. It is safe for concurrent use.
type Controller struct {
	cfg   Config
	voice atomic.Pointer[VoiceSettings]
}

// New returns a Controller. It panics if Sessions or Graph is nil.
func New(cfg Config) *Controller {
	if cfg.Sessions == nil || cfg.Graph == nil {
		panic("turn: Sessions and Graph are required")
	}
	if cfg.Validator == nil {
		cfg.Validator = transcript.NewValidator()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{cfg: cfg}
	c.SetVoiceSettings(cfg.Voice)
	return c
}

// SetVoiceSettings replaces the synthesis settings for subsequent turns.
func (c *Controller) SetVoiceSettings(v VoiceSettings) { c.voice.Store(&v) }

// VoiceSettings returns the current synthesis settings.
func (c *Controller) VoiceSettings() VoiceSettings { return *c.voice.Load() }

// Request is one inbound user input.
type Request struct {
	// Text is the typed input. Ignored when Audio is set.
	Text string

	// Audio, when non-nil, is transcribed to obtain the input text.
	Audio *stt.Audio

	// VoiceOutput asks for a synthesised reply.
	VoiceOutput bool

	// ReceivedAt defaults to now.
	ReceivedAt time.Time
}

// Open greets a fresh session and returns its session_start event. It
// returns false when s has already been greeted.
func (c *Controller) Open(ctx context.Context, s *session.Session) (Event, bool, error) {
	var (
		greeted bool
		commit  *conversation.Context
	)
	err := c.cfg.Sessions.WithExclusiveTurn(ctx, s, func(context.Context) error {
		commit = s.Conversation()
		_, greeted = c.cfg.Graph.Greet(commit)
		if greeted {
			s.Commit(commit)
		}
		return nil
	})
	if err != nil {
		return Event{}, false, fmt.Errorf("turn: open session: %w", err)
	}
	if !greeted {
		return Event{}, false, nil
	}
	c.archive(ctx, s.ID, commit, len(commit.Turns)-1, "", "", "")
	return Event{Type: EventSessionStart, SessionID: s.ID, Content: conversation.SessionWelcome}, true, nil
}

// Handle runs one turn for s and emits its events through emit. It returns
// the turn's error after an error event has been emitted for it; a dropped
// noise transcript is not an error and emits nothing.
func (c *Controller) Handle(ctx context.Context, s *session.Session, req Request, emit Emitter) error {
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = c.cfg.Now()
	}
	ctx, cancel := context.WithTimeout(observe.WithSession(ctx, s.ID), c.cfg.TurnTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "turn.handle", trace.WithAttributes(
		attribute.Bool("voice_input", req.Audio != nil),
	))
	defer span.End()

	err := c.cfg.Sessions.WithExclusiveTurn(ctx, s, func(ctx context.Context) error {
		return c.run(ctx, s, req, emit)
	})
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	reason, msg := classify(err)
	observe.Logger(ctx).Warn("turn failed", "reason", reason, "err", err)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordTurnError(ctx, reason)
	}
	if c.cfg.Window != nil {
		c.cfg.Window.RecordError()
	}
	emit(Event{Type: EventError, SessionID: s.ID, Content: msg})
	return err
}

// turnError tags a failure with its metric reason and user-facing message.
type turnError struct {
	reason string
	msg    string
	err    error
}

func (e *turnError) Error() string { return e.err.Error() }
func (e *turnError) Unwrap() error { return e.err }

func classify(err error) (reason, msg string) {
	var te *turnError
	if errors.As(err, &te) {
		return te.reason, te.msg
	}
	if errors.Is(err, session.ErrTurnCancelled) {
		return ReasonBusy, msgBusy
	}
	return ReasonReply, msgReply
}

func (c *Controller) run(ctx context.Context, s *session.Session, req Request, emit Emitter) error {
	log := observe.Logger(ctx)
	text := req.Text
	voiceIn := req.Audio != nil
	var sttProvider string

	if voiceIn {
		if c.cfg.Transcriber == nil {
			return &turnError{ReasonNoTranscriber, msgNoVoice, errors.New("turn: voice input without a transcriber")}
		}
		start := c.cfg.Now()
		res, err := c.cfg.Transcriber.Transcribe(ctx, *req.Audio)
		if err != nil {
			return &turnError{ReasonTranscription, msgTranscription, fmt.Errorf("turn: transcribe: %w", err)}
		}
		if c.cfg.Window != nil {
			c.cfg.Window.RecordTranscription(c.cfg.Now().Sub(start))
		}
		c.noteFallback(ctx, resilience.CapabilityTranscribe, res.Provider, len(res.Failures))

		text, sttProvider = res.Value.Text, res.Provider
		if reason := c.cfg.Validator.Check(text); reason != transcript.ReasonOK {
			log.Info("transcript dropped", "reason", reason, "provider", sttProvider, "text", text)
			return nil
		}
		emit(Event{Type: EventTranscription, SessionID: s.ID, Content: text, Provider: sttProvider})
	}

	work := s.Conversation()
	reply, err := c.cfg.Graph.Step(ctx, work, conversation.Input{Text: text, Voice: voiceIn, ReceivedAt: req.ReceivedAt})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("turn: abandoned before commit: %w", err)
	}
	s.Commit(work)
	latency := work.Turns[len(work.Turns)-1].Latency

	settings := c.VoiceSettings()
	ev := Event{
		Type:            EventResponse,
		SessionID:       s.ID,
		Content:         reply.Text,
		CurrentNode:     reply.Node,
		State:           work.State,
		TurnCount:       work.TurnCount,
		PaymentReceived: work.PaymentReceived,
		ResponseTime:    latency,
		IsVoice:         voiceIn,
	}
	if voiceIn {
		ev.TranscribedText = text
	}

	var ttsProvider string
	if c.cfg.Synthesizer != nil && (voiceIn || req.VoiceOutput || settings.AlwaysSynthesize) {
		res, err := c.cfg.Synthesizer.Synthesize(ctx, reply.Text, settings.Voice)
		if err != nil {
			log.Warn("synthesis failed, replying with text only", "err", err)
		} else {
			c.noteFallback(ctx, resilience.CapabilitySynthesize, res.Provider, len(res.Failures))
			ev.Audio = &res.Value
			ttsProvider = res.Provider
		}
	}
	emit(ev)

	elapsed := c.cfg.Now().Sub(req.ReceivedAt)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordTurn(ctx, string(reply.Node), voiceIn, elapsed)
	}
	if c.cfg.Window != nil {
		c.cfg.Window.RecordTurn(latency)
	}
	log.Debug("turn completed", "intent", reply.Intent, "node", reply.Node, "state", work.State,
		"turn_count", work.TurnCount, "latency", latency)

	c.archive(ctx, s.ID, work, len(work.Turns)-2, string(reply.Intent), sttProvider, ttsProvider)
	return nil
}

// noteFallback records a failover when the winning provider was not the
// first one tried.
func (c *Controller) noteFallback(ctx context.Context, capability resilience.Capability, provider string, failures int) {
	if failures == 0 {
		return
	}
	observe.Logger(ctx).Info("provider fallback used", "capability", capability, "provider", provider, "failed_before", failures)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordFallback(ctx, string(capability), provider)
	}
}

// archive writes the turns of w from index from onwards. Failures are
// logged only.
func (c *Controller) archive(ctx context.Context, sessionID string, w *conversation.Context, from int, intent, sttProvider, ttsProvider string) {
	if c.cfg.Archive == nil || from < 0 {
		return
	}
	records := make([]archive.Record, 0, len(w.Turns)-from)
	for i := from; i < len(w.Turns); i++ {
		t := w.Turns[i]
		r := archive.Record{
			SessionID:  sessionID,
			Seq:        i,
			Speaker:    string(t.Speaker),
			Text:       t.Text,
			Node:       string(t.Node),
			Voice:      t.Voice,
			Latency:    t.Latency,
			RecordedAt: t.At,
		}
		if t.Speaker == conversation.SpeakerUser {
			r.Provider = sttProvider
		} else {
			r.Intent = intent
			r.Provider = ttsProvider
		}
		records = append(records, r)
	}
	if err := c.cfg.Archive.Append(context.WithoutCancel(ctx), records...); err != nil {
		slog.Warn("turn archive write failed", "session_id", sessionID, "records", len(records), "err", err)
	}
}
