// Package grpc runs the gRPC health service that reports whether the
// accounts store is reachable.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/vidtube/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AccountsService is the service name reported alongside the overall status.
const AccountsService = "vidtube.accounts"

const defaultProbeInterval = 15 * time.Second

// PingFunc checks store reachability; nil means always serving.
type PingFunc func(ctx context.Context) error

type GRPCServer struct {
	address  string
	logger   logging.Logger
	health   *health.Server
	ping     PingFunc
	interval time.Duration
}

func NewGRPCServer(a string, l logging.Logger, ping PingFunc) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		health:   health.NewServer(),
		ping:     ping,
		interval: defaultProbeInterval,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.probe(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

// probe updates the serving status from one ping.
func (s *GRPCServer) probe(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.ping != nil {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.ping(pctx)
		cancel()
		if err != nil {
			s.logger.Warn(ctx, "store ping failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(AccountsService, st)
}

func (s *GRPCServer) watch(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.probe(ctx)
		}
	}
}
