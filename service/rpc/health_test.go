package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"MessageBox/service/relay"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func check(t *testing.T, c grpc_health_v1.HealthClient, svc string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: svc})
	if err != nil {
		t.Fatalf("check %q: %v", svc, err)
	}
	return resp.GetStatus()
}

func TestHealthFollowsNeighbours(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	up := map[string]bool{}
	set := func(peer string, st relay.LinkState) {
		mu.Lock()
		up[peer] = st == relay.StateEstablished
		mu.Unlock()
	}
	h := NewHealth([]string{"10.0.0.2:8001", "10.0.0.3:8001"}, func(peer string) bool {
		mu.Lock()
		defer mu.Unlock()
		return up[peer]
	})
	link := func(peer string, st relay.LinkState) {
		set(peer, st)
		h.LinkChanged(peer, st)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, ln) }()

	conn, err := grpc.DialContext(ctx, ln.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	c := grpc_health_v1.NewHealthClient(conn)

	serving := grpc_health_v1.HealthCheckResponse_SERVING
	if st := check(t, c, ServiceRelay); st != serving {
		t.Fatalf("relay = %v", st)
	}
	if st := check(t, c, ServiceNeighbours); st == serving {
		t.Fatal("neighbours serving with no links")
	}

	link("10.0.0.2:8001", relay.StateEstablished)
	link("192.168.1.9:40000", relay.StateEstablished) // accepted, not configured
	if st := check(t, c, ServiceNeighbours); st == serving {
		t.Fatal("one of two neighbours is not enough")
	}
	link("10.0.0.3:8001", relay.StateEstablished)
	// a losing duplicate closes while the peer stays linked
	h.LinkChanged("10.0.0.3:8001", relay.StateClosed)
	if st := check(t, c, ServiceNeighbours); st != serving {
		t.Fatalf("neighbours = %v", st)
	}
	link("10.0.0.3:8001", relay.StateClosed)
	if st := check(t, c, ServiceNeighbours); st == serving {
		t.Fatal("lost link still serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestHealthWithoutNeighbours(t *testing.T) {
	h := NewHealth(nil, nil)
	resp, err := h.hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceNeighbours})
	if err != nil || resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("no configured neighbours = %v %v", resp, err)
	}
}

func TestHealthBuiltBeforeService(t *testing.T) {
	var svc *relay.Service // assigned after the health server, as in main
	h := NewHealth([]string{"10.0.0.2:8001"}, func(peer string) bool {
		return svc.Neighbors().Established(peer) != nil
	})
	resp, err := h.hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceNeighbours})
	if err != nil || resp.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before serve = %v %v", resp, err)
	}

	svc = relay.NewService(relay.Options{Observer: h})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, ln) }()

	conn, err := grpc.DialContext(ctx, ln.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if st := check(t, grpc_health_v1.NewHealthClient(conn), ServiceNeighbours); st != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("neighbours = %v", st)
	}
}
