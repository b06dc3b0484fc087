package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inchoate/argument-clinic/pkg/provider/stt"
)

func newServer(t *testing.T, text string, gotModel *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		*gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":`+text+`}`)
	}))
}

func TestTranscribe(t *testing.T) {
	var model string
	srv := newServer(t, `"hello"`, &model)
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("clip"), Format: "webm"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello" {
		t.Errorf("text = %q, want hello", tr.Text)
	}
	if model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", model)
	}
}

func TestTranscribe_Blank(t *testing.T) {
	var model string
	srv := newServer(t, `"  "`, &model)
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithModel("gpt-4o-mini-transcribe"))
	_, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("clip")})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if model != "gpt-4o-mini-transcribe" {
		t.Errorf("model = %q", model)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
