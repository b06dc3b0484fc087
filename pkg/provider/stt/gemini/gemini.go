// Package gemini provides an STT provider that uses Gemini's audio
// understanding through google.golang.org/genai. It is the "google" entry of
// the transcription fallback chain: slower than a dedicated recogniser but it
// accepts the browser's webm clips directly.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"

	"github.com/inchoate/argument-clinic/pkg/provider/stt"
)

const (
	defaultModel = "gemini-2.0-flash"

	transcribePrompt = "Transcribe the speech in this audio clip verbatim. " +
		"Reply with the transcript only, no commentary. " +
		"If there is no intelligible speech, reply with an empty message."
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model ID. Default is gemini-2.0-flash.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements stt.Provider on top of the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed transcriber.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini stt: apiKey must not be empty")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini stt: %w", err)
	}
	p := &Provider{client: gc, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "google" }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return stt.Transcript{}, fmt.Errorf("gemini stt: %w", stt.ErrNoSpeech)
	}

	temp := float32(0)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, buildContents(audio), &genai.GenerateContentConfig{
		Temperature: &temp,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("gemini stt: generate: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return stt.Transcript{}, fmt.Errorf("gemini stt: %w", stt.ErrNoSpeech)
	}
	return stt.Transcript{Text: text}, nil
}

// buildContents wraps the clip and the transcription instruction in a single
// user turn.
func buildContents(audio stt.Audio) []*genai.Content {
	prompt := transcribePrompt
	if audio.Language != "" {
		prompt += " The speaker's language is " + audio.Language + "."
	}
	return []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: audio.MIMEType(), Data: audio.Data}},
		},
	}}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

var _ stt.Provider = (*Provider)(nil)
