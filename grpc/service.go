package ledgerqgrpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/types"
)

const serviceName = "github.com/blockberries/ledgerq.v1.QueryService"

// QueryServiceServer is the server-side interface for the query service.
type QueryServiceServer interface {
	Find(context.Context, *types.Query) (*types.QueryResponse, error)
	FetchCommits(*types.BlocksQuery, grpc.ServerStream) error
}

// RegisterQueryServiceServer registers a QueryServiceServer on a gRPC server.
func RegisterQueryServiceServer(s *grpc.Server, srv QueryServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// --- Handler functions ---

func handlerFind(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(types.Query)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Find(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Find")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServiceServer).Find(ctx, req.(*types.Query))
	}
	return interceptor(ctx, req, info, handler)
}

func handlerFetchCommits(srv any, stream grpc.ServerStream) error {
	req := new(types.BlocksQuery)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(QueryServiceServer).FetchCommits(req, stream)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor for the query service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Find", Handler: handlerFind},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "FetchCommits",
			Handler:       handlerFetchCommits,
			ServerStreams: true,
			ClientStreams: false,
		},
	},
	Metadata: "github.com/blockberries/ledgerq/v1/service.cram",
}

var fetchCommitsDesc = &serviceDesc.Streams[0]

// toStatus maps service errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledgerq.ErrServiceUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, ledgerq.ErrStreamClosed):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps gRPC status codes back onto service errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ledgerq.ErrServiceUnavailable, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	default:
		return err
	}
}
