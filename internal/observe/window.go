package observe

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"
)

// Window sizes used by [NewWindow].
const (
	TurnWindowSize          = 100
	TranscriptionWindowSize = 50
)

// LatencyStats summarises a latency sample in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// WindowStats is the /ws/metrics payload.
type WindowStats struct {
	Turns           LatencyStats `json:"response_times"`
	Transcriptions  LatencyStats `json:"transcription_times"`
	SuccessCount    int64        `json:"success_count"`
	ErrorCount      int64        `json:"error_count"`
	ErrorRate       float64      `json:"error_rate"`
	SessionsCreated int64        `json:"total_sessions_created"`
}

// Window keeps the most recent turn and transcription latencies in memory.
// It is safe for concurrent use.
type Window struct {
	mu              sync.Mutex
	turns           ring
	transcriptions  ring
	successes       int64
	errors          int64
	sessionsCreated int64
}

// NewWindow returns a Window holding the last [TurnWindowSize] turns and
// [TranscriptionWindowSize] transcriptions.
func NewWindow() *Window {
	return &Window{
		turns:          newRing(TurnWindowSize),
		transcriptions: newRing(TranscriptionWindowSize),
	}
}

// RecordTurn adds a completed turn's latency and counts it as a success.
func (w *Window) RecordTurn(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns.add(d)
	w.successes++
}

// RecordTranscription adds a transcription latency.
func (w *Window) RecordTranscription(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transcriptions.add(d)
}

// RecordError counts a failed turn.
func (w *Window) RecordError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors++
}

// SessionOpened counts a created session.
func (w *Window) SessionOpened(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionsCreated++
}

// SessionClosed is a no-op; the window only counts creations.
func (w *Window) SessionClosed(context.Context, int) {}

// Stats returns a summary of the current window.
func (w *Window) Stats() WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := WindowStats{
		Turns:           summarise(w.turns.values()),
		Transcriptions:  summarise(w.transcriptions.values()),
		SuccessCount:    w.successes,
		ErrorCount:      w.errors,
		SessionsCreated: w.sessionsCreated,
	}
	if total := w.successes + w.errors; total > 0 {
		s.ErrorRate = float64(w.errors) / float64(total)
	}
	return s
}

// ring is a fixed-capacity buffer that overwrites its oldest value.
type ring struct {
	buf  []time.Duration
	next int
	full bool
}

func newRing(n int) ring { return ring{buf: make([]time.Duration, n)} }

func (r *ring) add(d time.Duration) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) values() []time.Duration {
	if r.full {
		return slices.Clone(r.buf)
	}
	return slices.Clone(r.buf[:r.next])
}

func summarise(ds []time.Duration) LatencyStats {
	if len(ds) == 0 {
		return LatencyStats{}
	}
	slices.Sort(ds)
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return LatencyStats{
		Count: len(ds),
		AvgMs: ms(total) / float64(len(ds)),
		MinMs: ms(ds[0]),
		MaxMs: ms(ds[len(ds)-1]),
		P95Ms: ms(percentile(ds, 0.95)),
		P99Ms: ms(percentile(ds, 0.99)),
	}
}

// percentile uses the nearest-rank method on sorted ds.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
