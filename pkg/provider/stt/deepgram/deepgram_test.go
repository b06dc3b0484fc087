package deepgram

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/inchoate/argument-clinic/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Audio{Format: "webm"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
}

func TestBuildURL_LanguageOverriddenByAudio(t *testing.T) {
	p, err := New("key", WithLanguage("en"), WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.Audio{Language: "en-GB"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "en-GB", u.Query().Get("language"))
	assertEqual(t, "model", "base", u.Query().Get("model"))
}

// ---- JSON parsing tests ----

func TestParseFinal(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantOK   bool
	}{
		{
			name:     "final result",
			raw:      `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" No it isn't ","confidence":0.9}]}}`,
			wantText: "No it isn't",
			wantOK:   true,
		},
		{
			name:   "interim result",
			raw:    `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"No"}]}}`,
			wantOK: false,
		},
		{
			name:   "metadata",
			raw:    `{"type":"Metadata","request_id":"abc"}`,
			wantOK: false,
		},
		{
			name:   "empty alternatives",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
			wantOK: false,
		},
		{
			name:   "blank transcript",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  "}]}}`,
			wantOK: false,
		},
		{
			name:   "invalid json",
			raw:    `{invalid`,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, _, ok := parseFinal([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok {
				assertEqual(t, "text", tt.wantText, text)
			}
		})
	}
}

// ---- end-to-end against a fake server ----

// capture records what the fake server received.
type capture struct {
	mu   sync.Mutex
	data bytes.Buffer
	auth string
}

func (c *capture) snapshot() ([]byte, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.data.Bytes()), c.auth
}

// fakeDeepgram accepts one stream, collects binary frames until CloseStream and
// then replies with the given messages before closing normally.
func fakeDeepgram(t *testing.T, replies []string, got *capture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.mu.Lock()
		got.auth = r.Header.Get("Authorization")
		got.mu.Unlock()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				got.mu.Lock()
				got.data.Write(msg)
				got.mu.Unlock()
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, m := range replies {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
}

func TestTranscribe_CollectsFinals(t *testing.T) {
	var got capture
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I came"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"I came here","confidence":0.8}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"for an argument.","confidence":0.9}]}}`,
		`{"type":"Metadata","request_id":"r1"}`,
	}, &got)
	defer srv.Close()

	p, err := New("dg-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip := bytes.Repeat([]byte{0x1a}, chunkSize*2+10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := p.Transcribe(ctx, stt.Audio{Data: clip, Format: "webm"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "I came here for an argument.", tr.Text)
	if tr.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", tr.Confidence)
	}
	data, auth := got.snapshot()
	if !bytes.Equal(data, clip) {
		t.Errorf("server received %d bytes, want %d", len(data), len(clip))
	}
	assertEqual(t, "auth", "Token dg-key", auth)
}

func TestTranscribe_NoSpeech(t *testing.T) {
	var got capture
	srv := fakeDeepgram(t, []string{`{"type":"Metadata"}`}, &got)
	defer srv.Close()

	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := p.Transcribe(ctx, stt.Audio{Data: []byte{1, 2, 3}})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	p, _ := New("k")
	_, err := p.Transcribe(context.Background(), stt.Audio{})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "name", "deepgram", p.Name())
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
