package ledgerqgrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/types"
)

// Compile-time interface checks.
var (
	_ ledgerq.Connection  = (*Client)(nil)
	_ ledgerq.BlockSource = (*clientStream)(nil)
)

// Client implements ledgerq.Connection for a remote query service
// over gRPC using cramberry serialization.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a remote query service.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(codec{}),
	))
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledgerq client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) QueryHandle(ctx context.Context, q types.Query) (*types.QueryResponse, error) {
	resp := new(types.QueryResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Find"), &q, resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

// BlocksQueryHandle opens a FetchCommits stream. The stream ends when
// ctx is canceled or the returned source is closed.
func (c *Client) BlocksQueryHandle(ctx context.Context, q types.BlocksQuery) (ledgerq.BlockSource, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.cc.NewStream(ctx, fetchCommitsDesc, fullMethod("FetchCommits"))
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(&q); err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	s := &clientStream{
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan received),
		done:   make(chan struct{}),
	}
	go s.recvLoop(stream)
	return s, nil
}

type received struct {
	resp types.BlockQueryResponse
	err  error
}

// clientStream adapts a gRPC client stream to ledgerq.BlockSource.
// RecvMsg cannot be interrupted, so a goroutine receives and Next
// waits on it together with the caller's context.
type clientStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan received
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	final  error
}

func (s *clientStream) recvLoop(stream grpc.ClientStream) {
	defer close(s.done)
	for {
		resp := new(types.BlockQueryResponse)
		err := stream.RecvMsg(resp)
		if err != nil && !errors.Is(err, io.EOF) {
			err = fromStatus(err)
		}
		select {
		case s.out <- received{resp: *resp, err: err}:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *clientStream) Next(ctx context.Context) (types.BlockQueryResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.BlockQueryResponse{}, ledgerq.ErrStreamClosed
	}
	if s.final != nil {
		err := s.final
		s.mu.Unlock()
		return types.BlockQueryResponse{}, err
	}
	s.mu.Unlock()

	select {
	case r := <-s.out:
		if r.err != nil {
			s.mu.Lock()
			s.final = r.err
			s.mu.Unlock()
			return types.BlockQueryResponse{}, r.err
		}
		return r.resp, nil
	case <-s.done:
		return types.BlockQueryResponse{}, ledgerq.ErrStreamClosed
	case <-ctx.Done():
		return types.BlockQueryResponse{}, ctx.Err()
	}
}

func (s *clientStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}
