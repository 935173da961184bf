package natsx

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"MessageBox/logger"
	"MessageBox/service/relay"
	"MessageBox/tools/ids"

	"go.uber.org/zap"
)

// 事件 biz，subject 为 <prefix>.<biz>
const (
	BizUserCreated = "user.created"
	BizUserRemoved = "user.removed"
	BizLink        = "link"
	BizSweep       = "sweep"
)

var eventBizs = []string{BizUserCreated, BizUserRemoved, BizLink, BizSweep}

// Publisher is what EventPublisher needs from a producer.
type Publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// Event is the JSON body of every published lifecycle event.
type Event struct {
	ID    string            `json:"id"`
	Node  string            `json:"node"`
	Kind  string            `json:"kind"`
	User  relay.UserID      `json:"user,omitempty"`
	Peer  string            `json:"peer,omitempty"`
	State string            `json:"state,omitempty"`
	Sweep *relay.SweepStats `json:"sweep,omitempty"`
	At    time.Time         `json:"at"`
}

// RegisterEventRoutes 为每个事件注册 <prefix>.<biz> 路由
func RegisterEventRoutes(c *NatsxClient, prefix string, mode NatsxMode) error {
	for _, biz := range eventBizs {
		if err := c.RegisterRoute(NatsxRoute{Biz: biz, Subject: prefix + "." + biz, Mode: mode}); err != nil {
			return err
		}
	}
	return nil
}

// EventPublisher is a relay.Observer that publishes user, neighbour and
// sweep events. Message routing is not published.
type EventPublisher struct {
	relay.NopObserver

	pub     Publisher
	node    string
	timeout time.Duration
	events  chan Event
	dropped atomic.Int64
}

func NewEventPublisher(pub Publisher, node string, queue int) *EventPublisher {
	if queue <= 0 {
		queue = 1024
	}
	return &EventPublisher{pub: pub, node: node, timeout: 2 * time.Second, events: make(chan Event, queue)}
}

func (e *EventPublisher) UserCreated(id relay.UserID) {
	e.push(Event{Kind: BizUserCreated, User: id})
}

func (e *EventPublisher) UserRemoved(id relay.UserID) {
	e.push(Event{Kind: BizUserRemoved, User: id})
}

func (e *EventPublisher) LinkChanged(peer string, state relay.LinkState) {
	e.push(Event{Kind: BizLink, Peer: peer, State: state.String()})
}

func (e *EventPublisher) Swept(s relay.SweepStats) {
	e.push(Event{Kind: BizSweep, Sweep: &s})
}

func (e *EventPublisher) push(ev Event) {
	ev.ID = ids.GenerateString()
	ev.Node = e.node
	ev.At = time.Now()
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped counts events lost to a full queue.
func (e *EventPublisher) Dropped() int64 { return e.dropped.Load() }

// Run publishes queued events until ctx is done.
func (e *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.publish(ctx, ev)
		}
	}
}

func (e *EventPublisher) publish(parent context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("[nats] encode event", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()
	hdr := map[string]string{"Box-Node": e.node}
	if err := e.pub.PublishOnce(ctx, ev.Kind, data, hdr, ev.ID); err != nil {
		logger.Warn("[nats] publish event", zap.String("kind", ev.Kind), zap.String("id", ev.ID), zap.Error(err))
	}
}
