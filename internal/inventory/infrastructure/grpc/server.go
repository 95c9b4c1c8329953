package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name callers can check besides "".
const ServiceName = "marketplace.inventory.Ledger"

// Pinger reports whether the ledger's storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	log    *slog.Logger
	gs     *grpc.Server
	health *health.Server
	pinger Pinger
	every  time.Duration
}

func NewServer(log *slog.Logger, pinger Pinger) *Server {
	s := &Server{
		log:    log,
		health: health.NewServer(),
		pinger: pinger,
		every:  5 * time.Second,
	}
	s.gs = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	healthpb.RegisterHealthServer(s.gs, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Run serves on addr until ctx ends, then reports NOT_SERVING and drains.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("grpc server listening", "addr", lis.Addr().String())
		errCh <- s.gs.Serve(lis)
	}()

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.checkStorage(ctx)
		case <-ctx.Done():
			s.health.Shutdown()
			s.gs.GracefulStop()
			return nil
		}
	}
}

func (s *Server) checkStorage(ctx context.Context) {
	if s.pinger == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(pctx); err != nil {
		s.log.Warn("ledger storage unreachable", "err", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("grpc call failed", "method", info.FullMethod, "duration", time.Since(start), "err", err)
	} else {
		s.log.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}
