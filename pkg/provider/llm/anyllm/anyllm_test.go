package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/inchoate/argument-clinic/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_PrependsSystemPrompt(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Mr. Barnard.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "I came here for a good argument."},
			{Role: llm.RoleAssistant, Content: "No you didn't."},
		},
		Temperature: 0.5,
		MaxTokens:   80,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[2].ContentString(); got != "No you didn't." {
		t.Errorf("assistant content = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.5 {
		t.Errorf("temperature not propagated: %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 80 {
		t.Errorf("max tokens not propagated: %v", params.MaxTokens)
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	p := &Provider{model: "llama3"}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestBuildParams_ZeroOptionalsOmitted(t *testing.T) {
	p := &Provider{model: "llama3"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("expected nil temperature and max tokens")
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected no system message, got %d messages", len(params.Messages))
	}
}

func TestSystemPrompt_Schema(t *testing.T) {
	got, err := systemPrompt(llm.CompletionRequest{
		SystemPrompt: "Classify.",
		Schema: &llm.ResponseSchema{
			Name:   "intent",
			Schema: map[string]any{"type": "object"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "Classify.\n\n") {
		t.Errorf("original prompt not kept first: %q", got)
	}
	if !strings.Contains(got, `{"type":"object"}`) {
		t.Errorf("schema not embedded: %q", got)
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
	}{
		{"empty backend", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unsupported backend", "fakecloud", "some-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.backend, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		backend string
		model   string
		opts    []anyllmlib.Option
	}{
		{"openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != strings.ToLower(tt.backend) {
				t.Errorf("Name() = %q, want %q", p.Name(), strings.ToLower(tt.backend))
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

// TestNew_OpenAI_MissingAPIKey relies on OPENAI_API_KEY being cleared.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
