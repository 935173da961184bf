package relay

import (
	"encoding/json"
	"sync/atomic"

	"MessageBox/logger"
	"MessageBox/service/wire"
	"MessageBox/tools/errs"

	"go.uber.org/zap"
)

type counters struct {
	sent      atomic.Int64 // accepted by Send, local or forwarded
	delivered atomic.Int64 // handed to a client in a reply
	forwarded atomic.Int64 // written to a neighbour link
	inbound   atomic.Int64 // message frames received from neighbours
}

// Route says where Send put a message.
type Route string

const (
	RouteLocal       Route = "local"
	RouteRemote      Route = "remote"
	RouteUnavailable Route = "unavailable"
)

// Router picks local delivery or a neighbour link for each message.
type Router struct {
	dir   *Directory
	holds *HoldManager
	stats *counters
	obs   Observer
}

func NewRouter(dir *Directory, holds *HoldManager, stats *counters, obs Observer) *Router {
	return &Router{dir: dir, holds: holds, stats: stats, obs: obs}
}

// Send delivers body from one user to another. The error is
// errs.ErrUserUnavailable when nobody knows the destination.
func (r *Router) Send(from, to UserID, body json.RawMessage) (Route, error) {
	msg := Message{From: from, Body: body}

	r.dir.mu.Lock()
	if u := r.dir.localLocked(to); u != nil {
		r.deliverLocalLocked(u, msg)
		r.dir.mu.Unlock()
		r.stats.sent.Add(1)
		r.obs.Routed(RouteEvent{From: from, To: to, Route: RouteLocal, Size: len(body)})
		return RouteLocal, nil
	}
	link := r.dir.remote[to.Wire()]
	r.dir.mu.Unlock()

	if link == nil {
		r.obs.Routed(RouteEvent{From: from, To: to, Route: RouteUnavailable, Size: len(body)})
		return RouteUnavailable, errs.ErrUserUnavailable.WrapMsg("unknown destination", "to", to)
	}
	if err := link.Send(wire.Message(from.Wire(), to.Wire(), body)); err != nil {
		logger.Warn("[router] forward failed", zap.String("to", string(to)), zap.String("peer", link.Peer()), zap.Error(err))
		r.obs.Routed(RouteEvent{From: from, To: to, Route: RouteUnavailable, Size: len(body)})
		return RouteUnavailable, errs.ErrUserUnavailable.WrapMsg("neighbour gone", "to", to, "peer", link.Peer())
	}
	r.stats.sent.Add(1)
	r.stats.forwarded.Add(1)
	r.obs.Routed(RouteEvent{From: from, To: to, Route: RouteRemote, Size: len(body), Peer: link.Peer()})
	return RouteRemote, nil
}

// DeliverLocal takes a message frame from a neighbour. It never forwards
// again, so a stale remote entry cannot make frames bounce between peers.
func (r *Router) DeliverLocal(from, to int32, payload []byte) bool {
	body := NormalizeBody(payload)

	r.dir.mu.Lock()
	u, ok := r.dir.byWire[to]
	if !ok {
		r.dir.mu.Unlock()
		logger.Debug("[router] inbound message for unknown user", zap.Int32("to", to))
		return false
	}
	msg := Message{From: r.dir.nameLocked(from), Body: body}
	r.deliverLocalLocked(u, msg)
	toID := u.ID
	r.dir.mu.Unlock()

	r.stats.inbound.Add(1)
	r.obs.Routed(RouteEvent{From: msg.From, To: toID, Route: RouteLocal, Size: len(body), Inbound: true})
	return true
}

// deliverLocalLocked fans msg out to every hold of u, each hold queues and
// drains on its own. Without holds the message waits on the user.
func (r *Router) deliverLocalLocked(u *User, msg Message) {
	if len(u.holds) == 0 {
		u.backlog = append(u.backlog, msg)
		return
	}
	for _, h := range u.holds {
		r.holds.enqueueAndDrainLocked(h, msg)
	}
}

// Stats is the counter snapshot exposed on /stats.
type Stats struct {
	Counts
	Neighbours        int   `json:"neighbours"`
	MessagesSent      int64 `json:"messagesSent"`
	MessagesDelivered int64 `json:"messagesDelivered"`
	MessagesForwarded int64 `json:"messagesForwarded"`
	MessagesInbound   int64 `json:"messagesInbound"`
}

func (r *Router) snapshot() Stats {
	return Stats{
		MessagesSent:      r.stats.sent.Load(),
		MessagesDelivered: r.stats.delivered.Load(),
		MessagesForwarded: r.stats.forwarded.Load(),
		MessagesInbound:   r.stats.inbound.Load(),
	}
}
