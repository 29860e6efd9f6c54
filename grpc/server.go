package ledgerqgrpc

import (
	"context"
	"errors"
	"io"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/blockberries/ledgerq/processor"
	"github.com/blockberries/ledgerq/types"
)

// Compile-time interface check.
var _ QueryServiceServer = (*GRPCServer)(nil)

// GRPCServer exposes a query processor as a gRPC service.
// No type conversion is needed; domain types are serialized
// directly via cramberry.
type GRPCServer struct {
	p       *processor.Processor
	logger  zerolog.Logger
	metrics *grpc_prometheus.ServerMetrics
}

// NewGRPCServer creates a gRPC service backed by p.
func NewGRPCServer(p *processor.Processor, logger zerolog.Logger) *GRPCServer {
	m := grpc_prometheus.NewServerMetrics()
	m.EnableHandlingTimeHistogram()
	return &GRPCServer{
		p:       p,
		logger:  logger.With().Str("component", "grpc").Logger(),
		metrics: m,
	}
}

// Register adds the query service to a gRPC server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	RegisterQueryServiceServer(gs, s)
	s.metrics.InitializeMetrics(gs)
}

// NewServer creates a gRPC server with the request metrics interceptors
// installed and the query service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(s.metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(s.metrics.StreamServerInterceptor()),
	)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Serve starts a gRPC server on the given listener.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	return s.NewServer(opts...).Serve(lis)
}

// Collector returns the per-method request metrics.
func (s *GRPCServer) Collector() prometheus.Collector {
	return s.metrics
}

// Find answers a signed point query.
func (s *GRPCServer) Find(ctx context.Context, q *types.Query) (*types.QueryResponse, error) {
	resp, err := s.p.QueryHandle(ctx, *q)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// FetchCommits streams the responses of a blocks-query until the stream
// ends or the client goes away.
func (s *GRPCServer) FetchCommits(q *types.BlocksQuery, stream grpc.ServerStream) error {
	ctx := stream.Context()
	src, err := s.p.BlocksQueryHandle(ctx, *q)
	if err != nil {
		return toStatus(err)
	}
	defer src.Close()

	log := s.logger.With().Str("stream", src.ID()).Logger()
	log.Debug().Str("creator", string(q.CreatorAccountID)).Msg("fetch commits started")

	var sent int
	for {
		resp, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Debug().Int("sent", sent).Msg("fetch commits finished")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			log.Debug().Err(err).Int("sent", sent).Msg("fetch commits ended")
			return toStatus(err)
		}
		if err := stream.SendMsg(&resp); err != nil {
			return err
		}
		sent++
	}
}
