// Package agent provides the collaborators that give Mr. Barnard his voice:
// an intent [conversation.Classifier], a reply [conversation.Responder] and a
// [conversation.PaymentJudge].
//
// Two families are available:
//
//   - [LLMClassifier], [LLMResponder] and [LLMJudge] prompt an [llm.Provider].
//     The classifier and judge request structured JSON replies whose schema is
//     reflected from Go structs with github.com/invopop/jsonschema.
//   - [KeywordClassifier], [KeywordJudge] and [ScriptedResponder] run offline
//     from fixed phrase lists and lines from the sketch. They are used when no
//     language model is configured and in tests.
//
// All collaborators are stateless and safe for concurrent use.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/pkg/provider/llm"
)

// DefaultHistoryTurns is how many recent turns are sent to the model.
const DefaultHistoryTurns = 6

// Option configures the LLM-backed collaborators.
type Option func(*options)

type options struct {
	temperature  float64
	maxTokens    int
	historyTurns int
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithHistoryTurns sets how many recent turns are included in prompts.
// Zero sends no history.
func WithHistoryTurns(n int) Option {
	return func(o *options) { o.historyTurns = max(n, 0) }
}

func buildOptions(defaults options, opts []Option) options {
	for _, fn := range opts {
		fn(&defaults)
	}
	return defaults
}

// reflectSchema returns the JSON Schema for v's type, inlined so that
// backends without $ref support accept it.
func reflectSchema(name string, v any) (*llm.ResponseSchema, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	b, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("agent: reflect %s schema: %w", name, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("agent: decode %s schema: %w", name, err)
	}
	delete(m, "$schema")
	return &llm.ResponseSchema{Name: name, Schema: m}, nil
}

// decodeReply unmarshals a model reply into out, tolerating markdown code
// fences and prose around the JSON object.
func decodeReply(content string, out any) error {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}
	return json.Unmarshal([]byte(s), out)
}

// historyMessages converts the last n turns into chat messages.
func historyMessages(turns []conversation.Turn, n int) []llm.Message {
	if n <= 0 {
		return nil
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Speaker == conversation.SpeakerAgent {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}

// transcript renders the last n turns as "Customer:"/"Mr. Barnard:" lines.
func transcript(turns []conversation.Turn, n int) string {
	if n <= 0 || len(turns) == 0 {
		return "(none)"
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	var sb strings.Builder
	for _, t := range turns {
		if t.Speaker == conversation.SpeakerAgent {
			sb.WriteString("Mr. Barnard: ")
		} else {
			sb.WriteString("Customer: ")
		}
		sb.WriteString(t.Text)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
