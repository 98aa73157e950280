package grpc

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/reqgrid/reqgrid/internal/notify"
)

func TestHealthServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	h := NewHealthServer(ready.Load)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer()
	h.Register(srv)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		return resp.Status
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before load: %v", got)
	}
	ready.Store(true)
	h.Update()
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after load: %v", got)
	}
}

func TestHealthServer_RunFollowsEvents(t *testing.T) {
	var ready atomic.Bool
	h := NewHealthServer(ready.Load)
	events := make(chan notify.Event, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, events)
		close(done)
	}()

	ready.Store(true)
	events <- notify.Event{Type: notify.SnapshotLoaded, Source: "file:access.log"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("status never became SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestExtractRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "abc"))
	if got := extractRequestID(ctx); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := extractRequestID(context.Background()); len(got) != 36 {
		t.Errorf("generated id %q", got)
	}
}
