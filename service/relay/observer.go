package relay

import (
	"time"

	"MessageBox/logger"

	"go.uber.org/zap"
)

// RouteEvent describes one Send or one inbound neighbour message.
type RouteEvent struct {
	From    UserID
	To      UserID
	Route   Route
	Size    int
	Peer    string // set for RouteRemote
	Inbound bool   // came in over a neighbour link
}

// SweepStats summarises one reaper tick.
type SweepStats struct {
	At             time.Time `json:"at"`
	Users          int       `json:"users"`
	Holds          int       `json:"holds"`
	ExpiredUsers   int       `json:"expiredUsers"`
	ExpiredHolds   int       `json:"expiredHolds"`
	TimeoutReplies int       `json:"timeoutReplies"`
}

// Observer is the logging/metrics collaborator. Calls happen outside the
// directory lock and must not block for long.
type Observer interface {
	UserCreated(id UserID)
	UserRemoved(id UserID)
	Routed(ev RouteEvent)
	LinkChanged(peer string, state LinkState)
	Swept(s SweepStats)
}

// NopObserver can be embedded to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) UserCreated(UserID)            {}
func (NopObserver) UserRemoved(UserID)            {}
func (NopObserver) Routed(RouteEvent)             {}
func (NopObserver) LinkChanged(string, LinkState) {}
func (NopObserver) Swept(SweepStats)              {}

// Observers fans every callback out in order.
type Observers []Observer

func (os Observers) UserCreated(id UserID) {
	for _, o := range os {
		o.UserCreated(id)
	}
}

func (os Observers) UserRemoved(id UserID) {
	for _, o := range os {
		o.UserRemoved(id)
	}
}

func (os Observers) Routed(ev RouteEvent) {
	for _, o := range os {
		o.Routed(ev)
	}
}

func (os Observers) LinkChanged(peer string, state LinkState) {
	for _, o := range os {
		o.LinkChanged(peer, state)
	}
}

func (os Observers) Swept(s SweepStats) {
	for _, o := range os {
		o.Swept(s)
	}
}

// LogObserver writes every event to the zap logger.
type LogObserver struct{}

func (LogObserver) UserCreated(id UserID) {
	logger.Info("[box] create user", zap.String("user", string(id)))
}

func (LogObserver) UserRemoved(id UserID) {
	logger.Info("[box] remove user", zap.String("user", string(id)))
}

func (LogObserver) Routed(ev RouteEvent) {
	logger.Debug("[box] route",
		zap.String("from", string(ev.From)), zap.String("to", string(ev.To)),
		zap.String("route", string(ev.Route)), zap.Int("size", ev.Size),
		zap.String("peer", ev.Peer), zap.Bool("inbound", ev.Inbound))
}

func (LogObserver) LinkChanged(peer string, state LinkState) {
	logger.Info("[box] neighbour", zap.String("peer", peer), zap.Stringer("state", state))
}

func (LogObserver) Swept(s SweepStats) {
	logger.Info("[box] managing",
		zap.Int("users", s.Users), zap.Int("holds", s.Holds),
		zap.Int("expiredUsers", s.ExpiredUsers), zap.Int("expiredHolds", s.ExpiredHolds),
		zap.Int("timeoutReplies", s.TimeoutReplies))
}
