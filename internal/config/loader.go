package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] rejects names outside these lists.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper", "google"},
	"tts": {"elevenlabs", "openai"},
}

// EnvKeys maps provider names to the environment variable that supplies their
// API key when the file leaves api_key empty.
var EnvKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"deepgram":   "DEEPGRAM_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"gemini":     "GOOGLE_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
}

// AudioFormats lists the accepted voice.input_format values.
var AudioFormats = []string{"webm", "wav", "ogg", "mp3", "mpeg", "mp4", "m4a"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], fills API
// keys from the environment and validates the result. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty provider API keys from the variables named in
// [EnvKeys], using lookup to read them.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" || e.Name == "" {
			return
		}
		name, ok := EnvKeys[e.Name]
		if !ok {
			return
		}
		if v, ok := lookup(name); ok && v != "" {
			e.APIKey = v
		}
	}
	fill(&cfg.Providers.LLM)
	for i := range cfg.Providers.STT {
		fill(&cfg.Providers.STT[i])
	}
	for i := range cfg.Providers.TTS {
		fill(&cfg.Providers.TTS[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if name := cfg.Providers.LLM.Name; name != "" && !slices.Contains(ValidProviderNames["llm"], name) {
		errs = append(errs, unknownProvider("providers.llm.name", "llm", name))
	}
	errs = append(errs, validateChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS)...)

	// Sessions
	errs = append(errs, positive("sessions.max_idle", cfg.Sessions.MaxIdle)...)
	errs = append(errs, positive("sessions.sweep_interval", cfg.Sessions.SweepInterval)...)
	errs = append(errs, positive("sessions.turn_timeout", cfg.Sessions.TurnTimeout)...)
	if cfg.Sessions.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_concurrent %d must not be negative", cfg.Sessions.MaxConcurrent))
	}

	// Conversation
	if cfg.Conversation.EscalationThreshold < 1 {
		errs = append(errs, fmt.Errorf("conversation.escalation_threshold %d must be at least 1", cfg.Conversation.EscalationThreshold))
	}
	errs = append(errs, positive("conversation.llm_timeout", cfg.Conversation.LLMTimeout)...)

	// Voice
	errs = append(errs, unitRange("voice.stability", cfg.Voice.Stability)...)
	errs = append(errs, unitRange("voice.similarity_boost", cfg.Voice.SimilarityBoost)...)
	if cfg.Voice.Speed < 0.5 || cfg.Voice.Speed > 2.0 {
		errs = append(errs, fmt.Errorf("voice.speed %.2f is out of range [0.5, 2.0]", cfg.Voice.Speed))
	}
	if !slices.Contains(AudioFormats, cfg.Voice.InputFormat) {
		errs = append(errs, fmt.Errorf("voice.input_format %q is invalid; valid values: %s", cfg.Voice.InputFormat, strings.Join(AudioFormats, ", ")))
	}
	if cfg.Voice.MaxAudioBytes <= 0 {
		errs = append(errs, fmt.Errorf("voice.max_audio_bytes %d must be positive", cfg.Voice.MaxAudioBytes))
	}

	// Fallback
	errs = append(errs, positive("fallback.provider_timeout", cfg.Fallback.ProviderTimeout)...)
	if cb := cfg.Fallback.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures < 1 {
			errs = append(errs, fmt.Errorf("fallback.circuit_breaker.max_failures %d must be at least 1", cb.MaxFailures))
		}
		errs = append(errs, positive("fallback.circuit_breaker.reset_timeout", cb.ResetTimeout)...)
	}

	return errors.Join(errs...)
}

func validateChain(kind string, chain []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(chain))
	for i, e := range chain {
		field := fmt.Sprintf("providers.%s[%d].name", kind, i)
		switch {
		case e.Name == "":
			errs = append(errs, fmt.Errorf("%s is required", field))
		case !slices.Contains(ValidProviderNames[kind], e.Name):
			errs = append(errs, unknownProvider(field, kind, e.Name))
		default:
			if prev, ok := seen[e.Name]; ok {
				errs = append(errs, fmt.Errorf("%s %q is a duplicate of providers.%s[%d]", field, e.Name, kind, prev))
			}
			seen[e.Name] = i
		}
	}
	return errs
}

func unknownProvider(field, kind, name string) error {
	return fmt.Errorf("%s %q is not a known %s provider; valid values: %s",
		field, name, kind, strings.Join(ValidProviderNames[kind], ", "))
}

func positive(field string, d time.Duration) []error {
	if d > 0 {
		return nil
	}
	return []error{fmt.Errorf("%s %s must be positive", field, d)}
}

func unitRange(field string, v float64) []error {
	if v >= 0 && v <= 1 {
		return nil
	}
	return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", field, v)}
}
