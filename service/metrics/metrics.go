// Package metrics exposes relay activity to Prometheus.
package metrics

import (
	"net/http"

	"MessageBox/service/relay"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "messagebox"

// Metrics is a relay.Observer backed by its own registry.
type Metrics struct {
	reg *prometheus.Registry

	routed   *prometheus.CounterVec // route, inbound
	bytes    prometheus.Counter
	users    *prometheus.CounterVec // event
	links    *prometheus.CounterVec // state
	sweeps   prometheus.Counter
	expired  *prometheus.CounterVec // kind
	timeouts prometheus.Counter
}

// New registers counters plus gauges read from stats on every scrape.
func New(stats func() relay.Stats) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "routed_total", Help: "Routing decisions by outcome.",
		}, []string{"route", "inbound"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "routed_bytes_total", Help: "Body bytes routed.",
		}),
		users: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "user_events_total", Help: "Local users created and removed.",
		}, []string{"event"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_events_total", Help: "Neighbour link state changes.",
		}, []string{"state"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_total", Help: "Reaper ticks.",
		}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "expired_total", Help: "Users and holds dropped by the reaper.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "hold_timeouts_total", Help: "Timeout replies sent to expired holds.",
		}),
	}
	m.reg.MustRegister(m.routed, m.bytes, m.users, m.links, m.sweeps, m.expired, m.timeouts)
	m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if stats != nil {
		gauge := func(name, help string, f func(relay.Stats) float64) prometheus.Collector {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
				func() float64 { return f(stats()) })
		}
		m.reg.MustRegister(
			gauge("users", "Local users.", func(s relay.Stats) float64 { return float64(s.Users) }),
			gauge("holds", "Parked receive holds.", func(s relay.Stats) float64 { return float64(s.Holds) }),
			gauge("remote_users", "Users known behind neighbours.", func(s relay.Stats) float64 { return float64(s.RemoteUsers) }),
			gauge("neighbours", "Established neighbour links.", func(s relay.Stats) float64 { return float64(s.Neighbours) }),
		)
	}
	return m
}

func (m *Metrics) UserCreated(relay.UserID) { m.users.WithLabelValues("created").Inc() }
func (m *Metrics) UserRemoved(relay.UserID) { m.users.WithLabelValues("removed").Inc() }

func (m *Metrics) Routed(ev relay.RouteEvent) {
	inbound := "false"
	if ev.Inbound {
		inbound = "true"
	}
	m.routed.WithLabelValues(string(ev.Route), inbound).Inc()
	m.bytes.Add(float64(ev.Size))
}

func (m *Metrics) LinkChanged(_ string, state relay.LinkState) {
	m.links.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) Swept(s relay.SweepStats) {
	m.sweeps.Inc()
	m.expired.WithLabelValues("user").Add(float64(s.ExpiredUsers))
	m.expired.WithLabelValues("hold").Add(float64(s.ExpiredHolds))
	m.timeouts.Add(float64(s.TimeoutReplies))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
