// Package gateway is the WebSocket and HTTP boundary of the clinic.
//
// A [Server] upgrades /ws/argument connections, binds each one to a session,
// decodes inbound frames and hands them to the turn controller one at a
// time. Every outbound frame of a connection goes through a single writer so
// events reach the client in the order their inputs arrived.
//
// Alongside the socket the server exposes the informational endpoints:
//
//	GET /             service info
//	GET /health       status, environment, version, active sessions
//	GET /healthz      liveness
//	GET /readyz       readiness checks
//	GET /ws/health    session capacity and configured providers
//	GET /ws/metrics   rolling latency window
//	GET /ws/voices    voices of the synthesis chain
//	GET /metrics      Prometheus scrape
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inchoate/argument-clinic/internal/health"
	"github.com/inchoate/argument-clinic/internal/observe"
	"github.com/inchoate/argument-clinic/internal/resilience"
	"github.com/inchoate/argument-clinic/internal/session"
	"github.com/inchoate/argument-clinic/internal/turn"
	"github.com/inchoate/argument-clinic/pkg/provider/tts"
)

// Connection defaults used when the matching [Config] field is zero.
const (
	DefaultPongWait     = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultQueueDepth   = 8

	// jsonOverhead is added to the base64 size of the largest clip to form
	// the socket read limit.
	jsonOverhead = 16 << 10
)

// StatsSource reports the rolling latency window. observe.Window implements
// it.
type StatsSource interface {
	Stats() observe.WindowStats
}

// VoiceLister lists synthesis voices. resilience.Synthesizer implements it.
type VoiceLister interface {
	ListVoices(ctx context.Context) (resilience.Result[[]tts.Voice], error)
}

// Providers names the configured provider chains for /ws/health.
type Providers struct {
	STT []string `json:"stt"`
	TTS []string `json:"tts"`
	LLM string   `json:"llm"`
}

// Config holds the dependencies of a [Server]. Sessions and Turns are
// required.
type Config struct {
	Sessions *session.Manager
	Turns    *turn.Controller

	// Health serves /healthz and /readyz when non-nil.
	Health *health.Handler

	// MetricsHandler serves /metrics when non-nil.
	MetricsHandler http.Handler

	// Metrics, when non-nil, instruments every request with
	// [observe.Middleware].
	Metrics *observe.Metrics

	Window    StatsSource
	Voices    VoiceLister
	Providers Providers

	Environment string
	Version     string

	// AllowedOrigins lists the Origin values accepted on upgrade. "*" or an
	// empty list accepts any origin.
	AllowedOrigins []string

	// Limits bound inbound voice clips.
	Limits Limits

	// PongWait is how long the connection may stay silent before it is
	// considered dead. Pings are sent at 9/10 of it. Default:
	// [DefaultPongWait].
	PongWait time.Duration

	// WriteTimeout bounds each frame write. Default: [DefaultWriteTimeout].
	WriteTimeout time.Duration

	// QueueDepth is the number of inbound messages a connection may have
	// waiting behind the running turn. Default: [DefaultQueueDepth].
	QueueDepth int
}

// Server serves the clinic's HTTP and WebSocket endpoints.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New returns a Server. It panics if Sessions or Turns is nil.
func New(cfg Config) *Server {
	if cfg.Sessions == nil || cfg.Turns == nil {
		panic("gateway: Sessions and Turns are required")
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}

	s := &Server{cfg: cfg}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      s.originAllowed,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.handleInfo)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws/health", s.handleWSHealth)
	s.mux.HandleFunc("GET /ws/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /ws/voices", s.handleVoices)
	s.mux.HandleFunc("GET /ws/argument", s.handleArgument)
	if s.cfg.Health != nil {
		s.cfg.Health.Register(s.mux)
	}
	if s.cfg.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.cfg.Metrics == nil {
		return s.mux
	}
	return observe.Middleware(s.cfg.Metrics)(s.mux)
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Welcome to The Argument Clinic API",
		"version":     s.cfg.Version,
		"environment": s.cfg.Environment,
		"health":      "/health",
		"websocket":   "/ws/argument",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "healthy",
		"environment":             s.cfg.Environment,
		"version":                 s.cfg.Version,
		"active_sessions":         s.cfg.Sessions.Count(),
		"voice_service_available": s.cfg.Voices != nil,
	})
}

func (s *Server) handleWSHealth(w http.ResponseWriter, _ *http.Request) {
	p := s.cfg.Providers
	if p.STT == nil {
		p.STT = []string{}
	}
	if p.TTS == nil {
		p.TTS = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": s.cfg.Sessions.Count(),
		"max_sessions":    s.cfg.Sessions.MaxConcurrent(),
		"providers":       p,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var stats observe.WindowStats
	if s.cfg.Window != nil {
		stats = s.cfg.Window.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"performance": stats,
		"sessions": map[string]int{
			"active_count": s.cfg.Sessions.Count(),
			"max_sessions": s.cfg.Sessions.MaxConcurrent(),
		},
	})
}

type voiceInfo struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Labels   map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Voices == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false, "voices": []voiceInfo{}})
		return
	}
	res, err := s.cfg.Voices.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("listing voices failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"available": false,
			"voices":    []voiceInfo{},
			"error":     "no synthesis provider could list voices",
		})
		return
	}
	voices := make([]voiceInfo, 0, len(res.Value))
	for _, v := range res.Value {
		voices = append(voices, voiceInfo{VoiceID: v.ID, Name: v.Name, Provider: v.Provider, Labels: v.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"provider":  res.Provider,
		"voices":    voices,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}
