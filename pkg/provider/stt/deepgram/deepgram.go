// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens one stream, sends the clip, asks Deepgram to
// flush with a CloseStream message and collects the final results until the
// server closes the socket. Containerised formats (webm, ogg, wav) need no
// encoding parameters; Deepgram reads them from the container header.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/coder/websocket"

	"github.com/inchoate/argument-clinic/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSize is the binary frame size used to upload a clip.
	chunkSize = 8 * 1024
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests and by
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", stt.ErrNoSpeech)
	}

	wsURL, err := p.buildURL(audio)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	for off := 0; off < len(audio.Data); off += chunkSize {
		end := min(off+chunkSize, len(audio.Data))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.Data[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var (
		parts []string
		conf  float64
	)
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stt.Transcript{}, fmt.Errorf("deepgram: %w", ctxErr)
			}
			if len(parts) > 0 {
				// Results already arrived; a dirty close after them is harmless.
				break
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		text, c, ok := parseFinal(msg)
		if !ok {
			continue
		}
		parts = append(parts, text)
		conf = max(conf, c)
	}

	if len(parts) == 0 {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", stt.ErrNoSpeech)
	}
	return stt.Transcript{Text: strings.Join(parts, " "), Confidence: conf}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for one clip.
func (p *Provider) buildURL(audio stt.Audio) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := audio.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseFinal extracts the transcript of a final, non-empty Results message.
func parseFinal(data []byte) (string, float64, bool) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", 0, false
	}
	if api.TypeResponse(envelope.Type) != api.TypeMessageResponse {
		return "", 0, false
	}

	var resp api.MessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", 0, false
	}
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", 0, false
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return "", 0, false
	}
	return text, alt.Confidence, true
}

var _ stt.Provider = (*Provider)(nil)
