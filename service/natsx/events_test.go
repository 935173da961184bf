package natsx

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"MessageBox/service/relay"
)

type sent struct {
	biz string
	id  string
	hdr map[string]string
	ev  Event
}

type fakePublisher struct {
	mu  sync.Mutex
	out []sent
}

func (f *fakePublisher) PublishOnce(_ context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	f.out = append(f.out, sent{biz: biz, id: msgID, hdr: hdr, ev: ev})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) wait(t *testing.T, n int) []sent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.out) >= n {
			out := append([]sent(nil), f.out...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("published %d events, want %d", len(f.out), n)
	return nil
}

func TestEventPublisherLifecycle(t *testing.T) {
	fp := &fakePublisher{}
	ep := NewEventPublisher(fp, "node-a", 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ep.Run(ctx)

	ep.UserCreated("bob")
	ep.Routed(relay.RouteEvent{From: "a", To: "bob"})
	ep.LinkChanged("10.0.0.2:9000", relay.StateEstablished)
	ep.Swept(relay.SweepStats{Users: 3, ExpiredUsers: 1})
	ep.UserRemoved("bob")

	kinds := []string{BizUserCreated, BizLink, BizSweep, BizUserRemoved}
	fp.wait(t, len(kinds))
	time.Sleep(50 * time.Millisecond)
	out := fp.wait(t, len(kinds))
	if len(out) != len(kinds) {
		t.Fatalf("published %d events, routing must not be published", len(out))
	}
	for i, k := range kinds {
		s := out[i]
		if s.biz != k || s.ev.Kind != k || s.ev.Node != "node-a" {
			t.Fatalf("event %d = %+v", i, s)
		}
		if s.id == "" || s.id != s.ev.ID || s.hdr["Box-Node"] != "node-a" {
			t.Fatalf("event %d id/header = %q %v", i, s.id, s.hdr)
		}
	}
	if out[0].ev.User != "bob" || out[1].ev.Peer != "10.0.0.2:9000" || out[1].ev.State != "ESTABLISHED" {
		t.Fatalf("payloads = %+v %+v", out[0].ev, out[1].ev)
	}
	if out[2].ev.Sweep == nil || out[2].ev.Sweep.Users != 3 || out[2].ev.Sweep.ExpiredUsers != 1 {
		t.Fatalf("sweep = %+v", out[2].ev.Sweep)
	}
}

func TestEventPublisherDropsWhenFull(t *testing.T) {
	ep := NewEventPublisher(&fakePublisher{}, "n", 1)
	ep.UserCreated("a")
	ep.UserCreated("b")
	if ep.Dropped() != 1 {
		t.Fatalf("dropped = %d", ep.Dropped())
	}
}

func TestProducerUnknownRoute(t *testing.T) {
	p := NewNatsxProducer(&NatsxClient{routes: map[string]NatsxRoute{}})
	if err := p.PublishOnce(context.Background(), "nope", nil, nil, ""); err == nil {
		t.Fatal("unknown biz must fail")
	}
}
