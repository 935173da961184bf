package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"MessageBox/tools/errs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(clk *fakeClock, multi int) *Service {
	return NewService(Options{NodeID: "test", Clock: clk.Now, MultiDeliver: multi})
}

func waitReply(t *testing.T, p *Poll) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, res := p.Wait(ctx)
	if res != Replied {
		t.Fatalf("wait result = %v, want Replied", res)
	}
	return r
}

func assertPending(t *testing.T, p *Poll) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r, res := p.Wait(ctx); res != Canceled {
		t.Fatalf("poll completed early: %v %+v", res, r)
	}
}

func bodies(r Reply) []string {
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = string(m)
	}
	return out
}

func TestParkedReceiveGetsMessage(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	s.Touch("alice")

	p := NewPoll()
	s.Receive("bob", "s1", p)
	assertPending(t, p)

	route, err := s.Send("alice", "bob", json.RawMessage(`{"text":"hi"}`))
	if err != nil || route != RouteLocal {
		t.Fatalf("send = %v, %v", route, err)
	}
	r := waitReply(t, p)
	if r.Status != StatusOK || r.From == nil || *r.From != "alice" {
		t.Fatalf("reply = %+v", r)
	}
	if got := bodies(r); len(got) != 1 || got[0] != `{"text":"hi"}` {
		t.Fatalf("messages = %v", got)
	}
	if got := string(r.JSON()); got != `{"status":"ok","from":"alice","messages":[{"text":"hi"}]}` {
		t.Fatalf("json = %s", got)
	}
}

func TestSendBeforeFirstReceive(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	s.Touch("alice")
	s.Touch("bob")

	if _, err := s.Send("alice", "bob", json.RawMessage(`"first"`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.Send("alice", "bob", json.RawMessage(`"second"`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	p := NewPoll()
	s.Receive("bob", "s1", p)
	r := waitReply(t, p)
	got := bodies(r)
	if len(got) != 2 || got[0] != `"first"` || got[1] != `"second"` {
		t.Fatalf("messages = %v", got)
	}
}

func TestQueueIsFIFOAndBatched(t *testing.T) {
	s := newTestService(newFakeClock(), 2)
	s.Touch("a")
	p := NewPoll()
	s.Receive("b", "s", p)
	waitFor := func() Reply { return waitReply(t, p) }

	// the first send completes the parked poll, the rest queue up
	for _, m := range []string{`1`, `2`, `3`, `4`, `5`, `6`} {
		if _, err := s.Send("a", "b", json.RawMessage(m)); err != nil {
			t.Fatalf("send %s: %v", m, err)
		}
	}
	if got := bodies(waitFor()); len(got) != 1 || got[0] != "1" {
		t.Fatalf("first batch = %v", got)
	}

	want := [][]string{{"2", "3"}, {"4", "5"}, {"6"}}
	for i, w := range want {
		p = NewPoll()
		s.Receive("b", "s", p)
		got := bodies(waitFor())
		if len(got) != len(w) {
			t.Fatalf("batch %d = %v, want %v", i, got, w)
		}
		for j := range w {
			if got[j] != w[j] {
				t.Fatalf("batch %d = %v, want %v", i, got, w)
			}
		}
	}
	if q := s.Held("b", "s"); len(q) != 0 {
		t.Fatalf("queue not empty: %v", q)
	}
}

func TestBatchReplyShape(t *testing.T) {
	for _, tc := range []struct {
		senders bool
		want    string
	}{
		{false, `{"status":"ok","from":42,"messages":["x","x"]}`},
		{true, `{"status":"ok","from":42,"messages":["x","x"],"senders":[42,"carol"]}`},
	} {
		s := NewService(Options{NodeID: "test", Clock: newFakeClock().Now, Senders: tc.senders})
		s.Touch("b")
		for _, from := range []UserID{"42", "carol"} {
			s.Touch(from)
			if _, err := s.Send(from, "b", json.RawMessage(`"x"`)); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
		p := NewPoll()
		s.Receive("b", "s", p)
		if got := string(waitReply(t, p).JSON()); got != tc.want {
			t.Fatalf("senders=%v json = %s", tc.senders, got)
		}
	}
}

func TestUnknownDestination(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	s.Touch("alice")
	route, err := s.Send("alice", "nobody", json.RawMessage(`"x"`))
	if route != RouteUnavailable {
		t.Fatalf("route = %v", route)
	}
	if !errors.Is(err, errs.ErrUserUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.Directory().IsKnownLocally("nobody") {
		t.Fatal("send must not create the destination")
	}
}

func TestFanOutToEverySession(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	p1, p2 := NewPoll(), NewPoll()
	s.Receive("bob", "phone", p1)
	s.Receive("bob", "laptop", p2)
	if _, err := s.Send("alice", "bob", json.RawMessage(`"hey"`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, p := range []*Poll{p1, p2} {
		if got := bodies(waitReply(t, p)); len(got) != 1 || got[0] != `"hey"` {
			t.Fatalf("messages = %v", got)
		}
	}
	if st := s.Stats(); st.MessagesSent != 1 || st.MessagesDelivered != 2 || st.Holds != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestNewReceiveReleasesPrevious(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	first, second := NewPoll(), NewPoll()
	s.Receive("bob", "s", first)
	s.Receive("bob", "s", second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, res := first.Wait(ctx); res != Released {
		t.Fatalf("first poll result = %v, want Released", res)
	}
	if _, err := s.Send("alice", "bob", json.RawMessage(`1`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := bodies(waitReply(t, second)); len(got) != 1 {
		t.Fatalf("second poll = %v", got)
	}
}

func TestAbandonPutsBatchBack(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	p := NewPoll()
	s.Receive("bob", "s", p)
	if _, err := s.Send("alice", "bob", json.RawMessage(`"lost?"`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	// client disconnected before the handler picked the reply up
	s.Abandon("bob", "s", p)

	q := s.Held("bob", "s")
	if len(q) != 1 || string(q[0].Body) != `"lost?"` {
		t.Fatalf("queue after abandon = %v", q)
	}
	next := NewPoll()
	s.Receive("bob", "s", next)
	if got := bodies(waitReply(t, next)); len(got) != 1 || got[0] != `"lost?"` {
		t.Fatalf("redelivered = %v", got)
	}
	if st := s.Stats(); st.MessagesDelivered != 1 {
		t.Fatalf("delivered = %d", st.MessagesDelivered)
	}
}

func TestAbandonIdleKeepsHold(t *testing.T) {
	s := newTestService(newFakeClock(), 10)
	p := NewPoll()
	s.Receive("bob", "s", p)
	s.Abandon("bob", "s", p)
	if _, err := s.Send("alice", "bob", json.RawMessage(`2`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if q := s.Held("bob", "s"); len(q) != 1 {
		t.Fatalf("message should stay queued, got %v", q)
	}
	assertPending(t, p)
}

func TestHoldTimeoutRepliesOnce(t *testing.T) {
	clk := newFakeClock()
	s := newTestService(clk, 10)
	p := NewPoll()
	s.Receive("bob", "s", p)

	clk.Advance(60 * time.Second)
	s.Touch("bob") // the user stays fresh, only the hold ages
	if st := s.Reaper().Sweep(clk.Now()); st.ExpiredHolds != 0 {
		t.Fatalf("early sweep = %+v", st)
	}

	clk.Advance(61 * time.Second)
	s.Touch("bob")
	st := s.Reaper().Sweep(clk.Now())
	if st.ExpiredHolds != 1 || st.TimeoutReplies != 1 || st.ExpiredUsers != 0 {
		t.Fatalf("sweep = %+v", st)
	}
	r := waitReply(t, p)
	if string(r.JSON()) != `{"status":"timeout"}` {
		t.Fatalf("reply = %s", r.JSON())
	}
	if st := s.Reaper().Sweep(clk.Now()); st.TimeoutReplies != 0 || st.Holds != 0 {
		t.Fatalf("second sweep = %+v", st)
	}
	if !s.Directory().IsKnownLocally("bob") {
		t.Fatal("user should survive hold expiry")
	}

	// the same session comes back and parks on a brand new hold
	again := NewPoll()
	s.Receive("bob", "s", again)
	assertPending(t, again)
	if st := s.Stats(); st.Holds != 1 {
		t.Fatalf("holds after re-receive = %d", st.Holds)
	}
	if _, err := s.Send("alice", "bob", json.RawMessage(`"back"`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := bodies(waitReply(t, again)); len(got) != 1 || got[0] != `"back"` {
		t.Fatalf("fresh hold got %v", got)
	}
}

func TestUserExpiry(t *testing.T) {
	clk := newFakeClock()
	s := newTestService(clk, 10)
	p := NewPoll()
	s.Receive("bob", "s", p)
	s.Touch("alice")

	clk.Advance(361 * time.Second)
	st := s.Reaper().Sweep(clk.Now())
	if st.ExpiredUsers != 2 || st.ExpiredHolds != 1 || st.TimeoutReplies != 1 || st.Users != 0 {
		t.Fatalf("sweep = %+v", st)
	}
	if r := waitReply(t, p); r.Status != StatusTimeout {
		t.Fatalf("reply = %+v", r)
	}
	if s.Directory().IsKnownLocally("bob") {
		t.Fatal("bob should be gone")
	}
	if _, err := s.Send("alice", "bob", json.RawMessage(`1`)); !errors.Is(err, errs.ErrUserUnavailable) {
		t.Fatalf("send after expiry: %v", err)
	}
}

type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	created []UserID
	removed []UserID
}

func (o *recordingObserver) UserCreated(id UserID) {
	o.mu.Lock()
	o.created = append(o.created, id)
	o.mu.Unlock()
}

func (o *recordingObserver) UserRemoved(id UserID) {
	o.mu.Lock()
	o.removed = append(o.removed, id)
	o.mu.Unlock()
}

func TestObserverSeesLifecycle(t *testing.T) {
	clk := newFakeClock()
	obs := &recordingObserver{}
	s := NewService(Options{Clock: clk.Now, Observer: obs})
	s.Touch("alice")
	s.Touch("alice")
	s.Receive("bob", "s", NewPoll())
	clk.Advance(time.Hour)
	s.Reaper().Sweep(clk.Now())

	if len(obs.created) != 2 || obs.created[0] != "alice" || obs.created[1] != "bob" {
		t.Fatalf("created = %v", obs.created)
	}
	if len(obs.removed) != 2 {
		t.Fatalf("removed = %v", obs.removed)
	}
}
