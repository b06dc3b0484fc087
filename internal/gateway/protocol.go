package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/inchoate/argument-clinic/internal/turn"
	"github.com/inchoate/argument-clinic/pkg/provider/stt"
)

// Inbound message types.
const (
	TypeUserInput  = "user_input"
	TypeVoiceInput = "voice_input"
)

// WebsocketStatus is the fixed websocket_status value of ai_response messages.
const WebsocketStatus = "connected"

// Decode errors. All of them match ErrMalformed via errors.Is.
var (
	ErrMalformed     = errors.New("gateway: malformed message")
	ErrUnknownType   = fmt.Errorf("%w: unknown message type", ErrMalformed)
	ErrEmptyInput    = fmt.Errorf("%w: empty input", ErrMalformed)
	ErrAudioTooLarge = fmt.Errorf("%w: audio exceeds size limit", ErrMalformed)
	ErrAudioFormat   = fmt.Errorf("%w: unsupported audio format", ErrMalformed)
)

var audioFormats = map[string]bool{
	"webm": true, "wav": true, "ogg": true, "mp3": true, "mpeg": true, "mp4": true, "m4a": true,
}

// Limits bound what [DecodeClientMessage] accepts.
type Limits struct {
	// MaxAudioBytes caps the decoded voice clip size. Zero means unlimited.
	MaxAudioBytes int

	// DefaultFormat is used when a voice_input carries no format.
	// Default: "webm".
	DefaultFormat string
}

// ClientMessage is a decoded inbound frame.
type ClientMessage struct {
	Type      string
	SessionID string

	// Text is the typed input of a user_input message.
	Text        string
	VoiceOutput bool

	// Audio is the clip of a voice_input message.
	Audio *stt.Audio
}

type clientEnvelope struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	SessionID   string `json:"session_id"`
	VoiceOutput bool   `json:"voice_output"`
	AudioData   string `json:"audio_data"`
	Format      string `json:"format"`
}

// DecodeClientMessage parses one inbound JSON text frame.
func DecodeClientMessage(data []byte, limits Limits) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	msg := ClientMessage{
		Type:        env.Type,
		SessionID:   strings.TrimSpace(env.SessionID),
		VoiceOutput: env.VoiceOutput,
	}

	switch env.Type {
	case TypeUserInput:
		msg.Text = strings.TrimSpace(env.Content)
		if msg.Text == "" {
			return ClientMessage{}, ErrEmptyInput
		}
		return msg, nil

	case TypeVoiceInput:
		if env.AudioData == "" {
			return ClientMessage{}, ErrEmptyInput
		}
		if limits.MaxAudioBytes > 0 && base64.StdEncoding.DecodedLen(len(env.AudioData)) > limits.MaxAudioBytes+2 {
			return ClientMessage{}, ErrAudioTooLarge
		}
		raw, err := base64.StdEncoding.DecodeString(env.AudioData)
		if err != nil {
			return ClientMessage{}, fmt.Errorf("%w: audio_data: %w", ErrMalformed, err)
		}
		if len(raw) == 0 {
			return ClientMessage{}, ErrEmptyInput
		}
		if limits.MaxAudioBytes > 0 && len(raw) > limits.MaxAudioBytes {
			return ClientMessage{}, ErrAudioTooLarge
		}
		format := strings.ToLower(strings.TrimSpace(env.Format))
		if format == "" {
			format = limits.DefaultFormat
		}
		if format == "" {
			format = "webm"
		}
		if !audioFormats[format] {
			return ClientMessage{}, fmt.Errorf("%w %q", ErrAudioFormat, format)
		}
		msg.Audio = &stt.Audio{Data: raw, Format: format}
		return msg, nil

	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return ClientMessage{}, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
}

// ── outbound ──────────────────────────────────────────────────────────────────

type sessionStartMessage struct {
	Type      turn.EventType `json:"type"`
	SessionID string         `json:"session_id"`
	Content   string         `json:"content"`
}

type transcriptionMessage struct {
	Type      turn.EventType `json:"type"`
	Content   string         `json:"content"`
	SessionID string         `json:"session_id"`
	Provider  string         `json:"provider"`
}

type responseMessage struct {
	Type            turn.EventType `json:"type"`
	Content         string         `json:"content"`
	SessionID       string         `json:"session_id"`
	CurrentNode     string         `json:"current_node"`
	State           string         `json:"state"`
	TurnCount       int            `json:"turn_count"`
	PaymentReceived bool           `json:"payment_received"`
	ResponseTimeMs  float64        `json:"response_time_ms"`
	IsVoice         bool           `json:"is_voice"`
	AudioURL        string         `json:"audio_url,omitempty"`
	TranscribedText string         `json:"transcribed_text,omitempty"`
	WebsocketStatus string         `json:"websocket_status"`
}

type errorMessage struct {
	Type      turn.EventType `json:"type"`
	Content   string         `json:"content"`
	SessionID string         `json:"session_id,omitempty"`
}

// EncodeEvent renders ev as an outbound JSON text frame.
func EncodeEvent(ev turn.Event) ([]byte, error) {
	var v any
	switch ev.Type {
	case turn.EventSessionStart:
		v = sessionStartMessage{Type: ev.Type, SessionID: ev.SessionID, Content: ev.Content}
	case turn.EventTranscription:
		v = transcriptionMessage{Type: ev.Type, Content: ev.Content, SessionID: ev.SessionID, Provider: ev.Provider}
	case turn.EventResponse:
		m := responseMessage{
			Type:            ev.Type,
			Content:         ev.Content,
			SessionID:       ev.SessionID,
			CurrentNode:     string(ev.CurrentNode),
			State:           string(ev.State),
			TurnCount:       ev.TurnCount,
			PaymentReceived: ev.PaymentReceived,
			ResponseTimeMs:  millis(ev.ResponseTime),
			IsVoice:         ev.IsVoice,
			TranscribedText: ev.TranscribedText,
			WebsocketStatus: WebsocketStatus,
		}
		if ev.Audio != nil && len(ev.Audio.Data) > 0 {
			m.AudioURL = dataURL(ev.Audio.MIMEType, ev.Audio.Data)
		}
		v = m
	case turn.EventError:
		v = errorMessage{Type: ev.Type, Content: ev.Content, SessionID: ev.SessionID}
	default:
		return nil, fmt.Errorf("gateway: unknown event type %q", ev.Type)
	}
	return json.Marshal(v)
}

func dataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "audio/mpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// millis rounds d to two decimal places of milliseconds.
func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
