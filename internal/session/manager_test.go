package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inchoate/argument-clinic/internal/conversation"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingObserver struct {
	opened, closed atomic.Int64
}

func (o *countingObserver) SessionOpened(context.Context) { o.opened.Add(1) }
func (o *countingObserver) SessionClosed(_ context.Context, n int) {
	o.closed.Add(int64(n))
}

func TestResolve_CreatesFreshSessionForUnknownID(t *testing.T) {
	obs := &countingObserver{}
	m := NewManager(Config{Observers: []Observer{obs}})

	for _, id := range []string{"", "does-not-exist"} {
		s, created := m.Resolve(id)
		if !created {
			t.Fatalf("Resolve(%q) reused a session", id)
		}
		if s.ID == "" || s.ID == id {
			t.Errorf("Resolve(%q) id = %q, want a fresh identifier", id, s.ID)
		}
		if got := s.Snapshot().State; got != conversation.Entry {
			t.Errorf("new session state = %s, want entry", got)
		}
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
	if obs.opened.Load() != 2 {
		t.Errorf("observer opened = %d, want 2", obs.opened.Load())
	}
}

func TestResolve_ReturnsExistingAndRefreshes(t *testing.T) {
	clk := newClock()
	m := NewManager(Config{Now: clk.Now})
	s, _ := m.Resolve("")

	clk.Advance(time.Minute)
	again, created := m.Resolve(s.ID)
	if created || again != s {
		t.Fatal("Resolve with a known id should return the same session")
	}
	if !s.LastActive().Equal(clk.Now()) {
		t.Errorf("last active = %v, want %v", s.LastActive(), clk.Now())
	}
}

func TestWithExclusiveTurn_SerialisesSameSession(t *testing.T) {
	m := NewManager(Config{})
	s, _ := m.Resolve("")

	const n = 50
	var (
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		wg       sync.WaitGroup
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithExclusiveTurn(context.Background(), s, func(context.Context) error {
				cur := inFlight.Add(1)
				defer inFlight.Add(-1)
				if cur > maxSeen.Load() {
					maxSeen.Store(cur)
				}

				c := s.Conversation()
				c.Turns = append(c.Turns, conversation.Turn{Speaker: conversation.SpeakerUser, Text: fmt.Sprint(i)})
				time.Sleep(time.Millisecond)
				c.Turns = append(c.Turns, conversation.Turn{Speaker: conversation.SpeakerAgent, Text: fmt.Sprint(i)})
				c.TurnCount++
				s.Commit(c)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Fatalf("max concurrent turns = %d, want 1", maxSeen.Load())
	}
	snap := s.Snapshot()
	if snap.TurnCount != n || len(snap.Turns) != 2*n {
		t.Fatalf("turns = %d, count = %d, want %d pairs", len(snap.Turns), snap.TurnCount, n)
	}
	for i := 0; i < len(snap.Turns); i += 2 {
		u, a := snap.Turns[i], snap.Turns[i+1]
		if u.Speaker != conversation.SpeakerUser || a.Speaker != conversation.SpeakerAgent || u.Text != a.Text {
			t.Fatalf("interleaved turns at %d: %+v %+v", i, u, a)
		}
	}
}

func TestWithExclusiveTurn_DistinctSessionsRunInParallel(t *testing.T) {
	m := NewManager(Config{})
	a, _ := m.Resolve("")
	b, _ := m.Resolve("")

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithExclusiveTurn(context.Background(), a, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ran := false
	if err := m.WithExclusiveTurn(ctx, b, func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("turn for another session blocked: %v", err)
	}
	close(release)
	if !ran {
		t.Fatal("fn did not run")
	}
}

func TestWithExclusiveTurn_CancelledWhileWaiting(t *testing.T) {
	m := NewManager(Config{})
	s, _ := m.Resolve("")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.WithExclusiveTurn(context.Background(), s, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithExclusiveTurn(ctx, s, func(context.Context) error {
		t.Error("fn must not run")
		return nil
	})
	if !errors.Is(err, ErrTurnCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrTurnCancelled wrapping deadline", err)
	}

	close(release)
	<-done
	if err := m.WithExclusiveTurn(context.Background(), s, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("session unusable after cancelled wait: %v", err)
	}
}

func TestWithExclusiveTurn_ReleasesOnErrorAndPanic(t *testing.T) {
	m := NewManager(Config{})
	s, _ := m.Resolve("")
	boom := errors.New("boom")

	if err := m.WithExclusiveTurn(context.Background(), s, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = m.WithExclusiveTurn(context.Background(), s, func(context.Context) error { panic("oops") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WithExclusiveTurn(ctx, s, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	clk := newClock()
	obs := &countingObserver{}
	m := NewManager(Config{Now: clk.Now, Observers: []Observer{obs}})

	idle, _ := m.Resolve("")
	busy, _ := m.Resolve("")
	clk.Advance(10 * time.Minute)
	fresh, _ := m.Resolve("")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.WithExclusiveTurn(context.Background(), busy, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	// The turn refreshed busy; age it again so only the lock protects it.
	clk.Advance(10 * time.Minute)
	fresh.touch(clk.Now())

	if got := m.SweepExpired(5 * time.Minute); got != 1 {
		t.Fatalf("removed = %d, want 1", got)
	}
	if _, ok := m.Get(idle.ID); ok {
		t.Error("idle session survived")
	}
	if _, ok := m.Get(busy.ID); !ok {
		t.Error("locked session was removed")
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Error("fresh session was removed")
	}
	if obs.closed.Load() != 1 {
		t.Errorf("observer closed = %d, want 1", obs.closed.Load())
	}

	close(release)
	<-done
	if got := m.SweepExpired(5 * time.Minute); got != 1 {
		t.Errorf("after unlock removed = %d, want 1", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	m := NewManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Millisecond, time.Hour) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRemoveAndCapacity(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 1})
	if !m.HasCapacity() {
		t.Fatal("empty manager should have capacity")
	}
	s, _ := m.Resolve("")
	if m.HasCapacity() {
		t.Error("manager at its cap should report no capacity")
	}
	if !m.Remove(s.ID) || m.Remove(s.ID) {
		t.Error("Remove should succeed once")
	}
	if m.Count() != 0 || !m.HasCapacity() {
		t.Errorf("count = %d after remove", m.Count())
	}
	if m.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent() = %d", m.MaxConcurrent())
	}
}
