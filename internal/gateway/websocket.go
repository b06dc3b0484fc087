package gateway

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/inchoate/argument-clinic/internal/observe"
	"github.com/inchoate/argument-clinic/internal/session"
	"github.com/inchoate/argument-clinic/internal/turn"
)

// User-facing boundary errors.
const (
	msgMalformed = "Invalid message format"
	msgQueueFull = "Too many messages in flight. Please wait for Mr. Barnard to answer."
	msgCapacity  = "The Argument Clinic is full. Please come back later."
)

// handleArgument serves /ws/argument.
func (s *Server) handleArgument(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Query().Get("session_id")
	if !s.admit(requested) {
		observe.Logger(r.Context()).Warn("connection refused, session capacity reached",
			"active_sessions", s.cfg.Sessions.Count())
		writeJSON(w, http.StatusServiceUnavailable, errorMessage{Type: turn.EventError, Content: msgCapacity})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}

	c := &connection{
		srv:    s,
		conn:   conn,
		out:    newWriter(conn, s.cfg.QueueDepth*4, s.cfg.PongWait*9/10, s.cfg.WriteTimeout),
		inbox:  make(chan inbound, s.cfg.QueueDepth),
		remote: r.RemoteAddr,
	}
	c.serve(r.Context(), requested)
}

// admit reports whether a connection for requested may be accepted. Joining
// an existing session is always allowed.
func (s *Server) admit(requested string) bool {
	if requested != "" {
		if _, ok := s.cfg.Sessions.Get(requested); ok {
			return true
		}
	}
	return s.cfg.Sessions.HasCapacity()
}

type inbound struct {
	msg ClientMessage
	err error
	at  time.Time
}

// connection is one upgraded socket. current is written by the turn loop
// only.
type connection struct {
	srv     *Server
	conn    *websocket.Conn
	out     *writer
	inbox   chan inbound
	remote  string
	current atomic.Pointer[session.Session]
}

func (c *connection) serve(ctx context.Context, requested string) {
	log := observe.Logger(ctx).With("remote", c.remote)

	c.conn.SetReadLimit(c.readLimit())
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.out.run(ctx) })
	g.Go(func() error { return c.turns(ctx, requested) })
	g.Go(func() error {
		defer close(c.inbox)
		return c.read(ctx)
	})

	err := g.Wait()
	var closeErr *websocket.CloseError
	switch {
	case err == nil, errors.As(err, &closeErr), errors.Is(err, errConnDone):
		log.Info("websocket closed", "session_id", c.sessionID())
	default:
		log.Warn("websocket ended with error", "session_id", c.sessionID(), "err", err)
	}
}

var errConnDone = errors.New("gateway: connection done")

func (c *connection) readLimit() int64 {
	limit := c.srv.cfg.Limits.MaxAudioBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	return int64(limit/3*4+4) + jsonOverhead
}

// read is the connection's read loop. It returns when the peer goes away.
func (c *connection) read(ctx context.Context) error {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errConnDone
			}
			return err
		}
		in := inbound{at: time.Now()}
		_ = c.conn.SetReadDeadline(in.at.Add(c.srv.cfg.PongWait))
		if kind != websocket.TextMessage {
			in.err = ErrMalformed
		} else {
			in.msg, in.err = DecodeClientMessage(data, c.srv.cfg.Limits)
		}

		select {
		case c.inbox <- in:
		default:
			c.sendError(msgQueueFull)
		}
	}
}

// turns binds the connection to its first session and then runs inbound
// messages one at a time.
func (c *connection) turns(ctx context.Context, requested string) error {
	if err := c.bind(ctx, requested); err != nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-c.inbox:
			if !ok {
				return nil
			}
			c.handle(ctx, in)
		}
	}
}

func (c *connection) handle(ctx context.Context, in inbound) {
	log := observe.Logger(ctx).With("session_id", c.sessionID())
	if in.err != nil {
		log.Info("rejected inbound message", "err", in.err)
		c.sendError(msgMalformed)
		return
	}

	// A session swept while the socket idled is rebound like an unknown id,
	// so the turn never runs outside the table.
	id := cmp.Or(in.msg.SessionID, c.sessionID())
	if id != c.sessionID() || !c.bound() {
		if _, ok := c.srv.cfg.Sessions.Get(id); !ok && !c.srv.cfg.Sessions.HasCapacity() {
			c.sendError(msgCapacity)
			return
		}
		if err := c.bind(ctx, id); err != nil {
			return
		}
	}

	req := turn.Request{
		Text:        in.msg.Text,
		Audio:       in.msg.Audio,
		VoiceOutput: in.msg.VoiceOutput,
		ReceivedAt:  in.at,
	}
	// Handle has already emitted an error event when it fails.
	_ = c.srv.cfg.Turns.Handle(ctx, c.current.Load(), req, c.emit)
}

// bind resolves id and greets the session when it is fresh. It fails only
// when ctx ends while waiting for the session.
func (c *connection) bind(ctx context.Context, id string) error {
	s, created := c.srv.cfg.Sessions.Resolve(id)
	c.current.Store(s)
	ev, greeted, err := c.srv.cfg.Turns.Open(ctx, s)
	if err != nil {
		return err
	}
	if greeted {
		c.emit(ev)
	}
	observe.Logger(ctx).Info("websocket bound to session", "session_id", s.ID, "created", created, "remote", c.remote)
	return nil
}

// bound reports whether the current session is still in the table.
func (c *connection) bound() bool {
	s := c.current.Load()
	if s == nil {
		return false
	}
	live, ok := c.srv.cfg.Sessions.Get(s.ID)
	return ok && live == s
}

func (c *connection) emit(ev turn.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		observe.Logger(context.Background()).Error("encode event failed", "type", ev.Type, "err", err)
		return
	}
	c.out.send(frame)
}

func (c *connection) sendError(msg string) {
	c.emit(turn.Event{Type: turn.EventError, SessionID: c.sessionID(), Content: msg})
}

func (c *connection) sessionID() string {
	if s := c.current.Load(); s != nil {
		return s.ID
	}
	return ""
}
