package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriter is the write half of a *websocket.Conn.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// writer owns every write to one connection. gorilla/websocket allows a
// single concurrent writer, so frames and pings all go through run.
type writer struct {
	ws           wsWriter
	frames       chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

func newWriter(ws wsWriter, queue int, pingInterval, writeTimeout time.Duration) *writer {
	return &writer{
		ws:           ws,
		frames:       make(chan []byte, queue),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// send queues a text frame. Frames are written in send order. It returns
// false once the writer has stopped.
func (w *writer) send(frame []byte) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.frames <- frame:
		return true
	case <-w.done:
		return false
	}
}

// run writes queued frames and periodic pings until ctx is done or a write
// fails. It closes the connection on return.
func (w *writer) run(ctx context.Context) error {
	defer w.doneOnce.Do(func() { close(w.done) })
	defer w.ws.Close()

	ping := time.NewTicker(w.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.writeTimeout))
			return nil
		case <-ping.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				return err
			}
		case frame := <-w.frames:
			if err := w.write(frame); err != nil {
				return err
			}
		}
	}
}

// drain flushes frames that were queued before shutdown.
func (w *writer) drain() {
	for {
		select {
		case frame := <-w.frames:
			if w.write(frame) != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *writer) write(frame []byte) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}
