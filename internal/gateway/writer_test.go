package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeWS struct {
	mu       sync.Mutex
	frames   []string
	controls []int
	closed   bool
	writeErr error
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, string(data))
	return nil
}

func (f *fakeWS) WriteControl(kind int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, kind)
	return nil
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWS) snapshot() ([]string, []int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...), append([]int(nil), f.controls...), f.closed
}

func TestWriter_PreservesOrderAndFlushesOnShutdown(t *testing.T) {
	ws := &fakeWS{}
	w := newWriter(ws, 16, time.Hour, time.Second)

	for _, f := range []string{"a", "b", "c"} {
		if !w.send([]byte(f)) {
			t.Fatalf("send %q refused", f)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	frames, controls, closed := ws.snapshot()
	if len(frames) != 3 || frames[0] != "a" || frames[1] != "b" || frames[2] != "c" {
		t.Errorf("frames = %v, want [a b c]", frames)
	}
	if len(controls) == 0 || controls[len(controls)-1] != websocket.CloseMessage {
		t.Errorf("controls = %v, want trailing close", controls)
	}
	if !closed {
		t.Error("connection not closed")
	}
	if w.send([]byte("late")) {
		t.Error("send after shutdown should report false")
	}
}

func TestWriter_Pings(t *testing.T) {
	ws := &fakeWS{}
	w := newWriter(ws, 1, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, controls, _ := ws.snapshot(); len(controls) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	_, controls, _ := ws.snapshot()
	if len(controls) == 0 || controls[0] != websocket.PingMessage {
		t.Fatalf("controls = %v, want a ping first", controls)
	}
}

func TestWriter_StopsOnWriteError(t *testing.T) {
	boom := errors.New("broken pipe")
	ws := &fakeWS{writeErr: boom}
	w := newWriter(ws, 1, time.Hour, time.Second)
	w.send([]byte("x"))

	if err := w.run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("run = %v, want %v", err, boom)
	}
	if _, _, closed := ws.snapshot(); !closed {
		t.Error("connection not closed after write error")
	}
}
