// Command argumentclinic serves the Argument Clinic over HTTP and WebSocket.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/inchoate/argument-clinic/internal/agent"
	"github.com/inchoate/argument-clinic/internal/config"
	"github.com/inchoate/argument-clinic/internal/conversation"
	"github.com/inchoate/argument-clinic/internal/gateway"
	"github.com/inchoate/argument-clinic/internal/health"
	"github.com/inchoate/argument-clinic/internal/observe"
	"github.com/inchoate/argument-clinic/internal/resilience"
	"github.com/inchoate/argument-clinic/internal/session"
	"github.com/inchoate/argument-clinic/internal/transcript"
	"github.com/inchoate/argument-clinic/internal/turn"
	"github.com/inchoate/argument-clinic/pkg/archive"
	"github.com/inchoate/argument-clinic/pkg/archive/postgres"
	"github.com/inchoate/argument-clinic/pkg/provider/llm"
	"github.com/inchoate/argument-clinic/pkg/provider/llm/anyllm"
	llmopenai "github.com/inchoate/argument-clinic/pkg/provider/llm/openai"
	"github.com/inchoate/argument-clinic/pkg/provider/stt"
	"github.com/inchoate/argument-clinic/pkg/provider/stt/deepgram"
	"github.com/inchoate/argument-clinic/pkg/provider/stt/gemini"
	sttopenai "github.com/inchoate/argument-clinic/pkg/provider/stt/openai"
	"github.com/inchoate/argument-clinic/pkg/provider/stt/whisper"
	"github.com/inchoate/argument-clinic/pkg/provider/tts"
	"github.com/inchoate/argument-clinic/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/inchoate/argument-clinic/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher performs the initial load and later hot reloads.
	var (
		levelVar slog.LevelVar
		ctrl     *turn.Controller
	)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(old, new, &levelVar, ctrl)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "argumentclinic: config file %q not found, copy config.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "argumentclinic: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(observe.NewLogger(os.Stderr, &levelVar, cfg.Server.OTelLogs))

	slog.Info("argument clinic starting",
		"config", *configPath,
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Environment:    cfg.Server.Environment,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()
	window := observe.NewWindow()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Voice)

	chainCfg := resilience.Config{
		ProviderTimeout: cfg.Fallback.ProviderTimeout,
		Observer:        metrics,
	}
	if cb := cfg.Fallback.CircuitBreaker; cb.Enabled {
		chainCfg.Breaker = &resilience.BreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
		}
	}

	sttProviders, err := reg.CreateSTTChain(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt chain", "err", err)
		return 1
	}
	ttsProviders, err := reg.CreateTTSChain(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build tts chain", "err", err)
		return 1
	}

	var (
		transcriber turn.Transcriber
		synthesizer turn.Synthesizer
		voices      gateway.VoiceLister
		checkers    []health.Checker
	)
	if len(sttProviders) > 0 {
		t := resilience.NewTranscriber(chainCfg, sttProviders...)
		transcriber = t
		checkers = append(checkers, health.ChainCheck("stt", t.Chain()))
		slog.Info("stt chain ready", "providers", t.Names())
	} else {
		slog.Warn("no stt providers configured, voice input disabled")
	}
	if len(ttsProviders) > 0 {
		s := resilience.NewSynthesizer(chainCfg, ttsProviders...)
		synthesizer = s
		voices = s
		checkers = append(checkers, health.ChainCheck("tts", s.Chain()))
		slog.Info("tts chain ready", "providers", s.Names())
	} else {
		slog.Warn("no tts providers configured, replies are text only")
	}

	// ── Conversation ──────────────────────────────────────────────────────────
	classifier, judge, responder, err := buildAgents(reg, cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build agents", "err", err)
		return 1
	}
	graph := conversation.NewGraph(classifier, responder, judge, conversation.Config{
		EscalationThreshold: cfg.Conversation.EscalationThreshold,
		CollaboratorTimeout: cfg.Conversation.LLMTimeout,
	})

	sessions := session.NewManager(session.Config{
		MaxConcurrent: cfg.Sessions.MaxConcurrent,
		Observers:     []session.Observer{metrics, window},
	})
	checkers = append(checkers, health.CapacityCheck(sessions))

	// ── Archive (optional) ────────────────────────────────────────────────────
	var store archive.Store
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open archive", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.PingCheck("archive", pg))
		slog.Info("turn archive enabled")
	}

	ctrl = turn.New(turn.Config{
		Sessions:    sessions,
		Graph:       graph,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Validator:   transcript.NewValidator(),
		Voice:       voiceSettings(cfg.Voice),
		TurnTimeout: cfg.Sessions.TurnTimeout,
		Metrics:     metrics,
		Window:      window,
		Archive:     store,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	gw := gateway.New(gateway.Config{
		Sessions:       sessions,
		Turns:          ctrl,
		Health:         health.New(checkers...),
		MetricsHandler: tel.MetricsHandler,
		Metrics:        metrics,
		Window:         window,
		Voices:         voices,
		Providers: gateway.Providers{
			STT: names(sttProviders),
			TTS: names(ttsProviders),
			LLM: cfg.Providers.LLM.Name,
		},
		Environment:    cfg.Server.Environment,
		Version:        version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limits: gateway.Limits{
			MaxAudioBytes: cfg.Voice.MaxAudioBytes,
			DefaultFormat: cfg.Voice.InputFormat,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Upgraded connections inherit this context and end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return sessions.Run(gctx, cfg.Sessions.SweepInterval, cfg.Sessions.MaxIdle)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMBackends are the LLM providers served through any-llm-go.
var anyLLMBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// voice supplies the default ElevenLabs model.
func registerBuiltinProviders(reg *config.Registry, voice config.VoiceConfig) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		return gemini.New(context.Background(), entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if model := cmp.Or(entry.Model, voice.Model); model != "" {
			opts = append(opts, elevenlabs.WithModel(model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, ttsopenai.WithVoice(v))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildAgents returns the LLM-backed collaborators when an LLM provider is
// configured, and the keyword and scripted fallbacks otherwise.
func buildAgents(reg *config.Registry, entry config.ProviderEntry) (conversation.Classifier, conversation.PaymentJudge, conversation.Responder, error) {
	if entry.Name == "" {
		slog.Info("no llm configured, using keyword classification and scripted replies")
		return agent.KeywordClassifier{}, agent.KeywordJudge{}, agent.ScriptedResponder{}, nil
	}

	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	classifier, err := agent.NewLLMClassifier(p)
	if err != nil {
		return nil, nil, nil, err
	}
	judge, err := agent.NewLLMJudge(p)
	if err != nil {
		return nil, nil, nil, err
	}
	responder, err := agent.NewLLMResponder(p)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	return classifier, judge, responder, nil
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload applies the live-reloadable parts of a config change and warns
// about the rest. ctrl may be nil while startup is still in progress.
func applyReload(old, new *config.Config, levelVar *slog.LevelVar, ctrl *turn.Controller) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged && ctrl != nil {
		ctrl.SetVoiceSettings(voiceSettings(d.NewVoice))
		slog.Info("voice settings changed", "voice_id", d.NewVoice.VoiceID)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

func voiceSettings(v config.VoiceConfig) turn.VoiceSettings {
	return turn.VoiceSettings{
		Voice: tts.Voice{
			ID:              v.VoiceID,
			Stability:       v.Stability,
			SimilarityBoost: v.SimilarityBoost,
			Speed:           v.Speed,
		},
		AlwaysSynthesize: v.AlwaysSynthesize,
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func names[P interface{ Name() string }](ps []P) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
