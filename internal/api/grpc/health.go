// Package grpc exposes the standard gRPC health service for reqgrid.
package grpc

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/reqgrid/reqgrid/internal/notify"
)

// ServiceName is the health service name reported for the grid.
const ServiceName = "reqgrid.Grid"

// ReadinessFunc reports whether the dataset has loaded.
type ReadinessFunc func() bool

// HealthServer tracks dataset readiness on a grpc health server.
type HealthServer struct {
	health *health.Server
	ready  ReadinessFunc
	last   bool
}

// NewHealthServer creates a health server that starts NOT_SERVING.
func NewHealthServer(ready ReadinessFunc) *HealthServer {
	h := &HealthServer{health: health.NewServer(), ready: ready}
	h.set(false)
	return h
}

// Register attaches the health service to srv.
func (h *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)
}

// Update polls readiness once and publishes a status change.
func (h *HealthServer) Update() {
	ready := h.ready != nil && h.ready()
	if ready != h.last {
		h.set(ready)
	}
}

// Run re-reads readiness on every dataset event until ctx is done, then
// reports NOT_SERVING for every service.
func (h *HealthServer) Run(ctx context.Context, events <-chan notify.Event) {
	h.Update()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == notify.LoadFailed {
				log.Printf("Dataset load from %s failed: %v", ev.Source, ev.Err)
			}
			h.Update()
		}
	}
}

func (h *HealthServer) set(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	h.last = ready
}

// NewServer creates a grpc server with request logging.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor))
	return grpc.NewServer(opts...)
}

func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Printf("gRPC %s failed in %v (request_id=%s): %v", info.FullMethod, time.Since(start), extractRequestID(ctx), err)
	}
	return resp, err
}

func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
