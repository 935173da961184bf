package rpc

import (
	"context"
	"net"
	"sync"

	"MessageBox/logger"
	"MessageBox/service/relay"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// 健康检查服务名
const (
	ServiceRelay      = "messagebox.Relay"
	ServiceNeighbours = "messagebox.Neighbours"
)

// Health serves grpc.health.v1. The relay is SERVING while Serve runs;
// neighbours are SERVING once every configured neighbour has a link.
type Health struct {
	relay.NopObserver

	srv *grpc.Server
	hs  *health.Server

	isUp func(peer string) bool

	mu   sync.Mutex
	want map[string]struct{} // configured neighbours
	live bool                // isUp is consulted only once Serve runs
}

// NewHealth takes the configured neighbours and a lookup telling whether a
// peer currently has an established link. isUp is not called before Serve,
// so it may close over a service built later.
func NewHealth(neighbours []string, isUp func(peer string) bool) *Health {
	h := &Health{
		srv:  grpc.NewServer(),
		hs:   health.NewServer(),
		isUp: isUp,
		want: make(map[string]struct{}, len(neighbours)),
	}
	for _, n := range neighbours {
		h.want[n] = struct{}{}
	}
	grpc_health_v1.RegisterHealthServer(h.srv, h.hs)
	h.hs.SetServingStatus(ServiceRelay, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if len(h.want) == 0 {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(ServiceNeighbours, st)
	return h
}

// LinkChanged re-evaluates every configured peer. Links are keyed by ip,
// so the event's peer need not equal the configured name; a closed
// duplicate link does not count as the peer going away.
func (h *Health) LinkChanged(string, relay.LinkState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live {
		h.setNeighbours()
	}
}

func (h *Health) setNeighbours() {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	for peer := range h.want {
		if h.isUp == nil || !h.isUp(peer) {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	h.hs.SetServingStatus(ServiceNeighbours, st)
}

// Serve blocks until ctx is done.
func (h *Health) Serve(ctx context.Context, ln net.Listener) error {
	h.hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.hs.SetServingStatus(ServiceRelay, grpc_health_v1.HealthCheckResponse_SERVING)
	h.mu.Lock()
	h.live = true
	h.setNeighbours()
	h.mu.Unlock()
	go func() {
		<-ctx.Done()
		h.hs.Shutdown()
		h.srv.GracefulStop()
	}()
	logger.Info("[grpc] health listening", zap.String("addr", ln.Addr().String()))
	if err := h.srv.Serve(ln); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
