package ledgerqgrpc_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/ledgerq"
	ledgerqgrpc "github.com/blockberries/ledgerq/grpc"
	ledgerqtest "github.com/blockberries/ledgerq/testing"
)

// startServer starts a gRPC server on a random port and returns
// the listener address. The server stops when the test ends.
func startServer(t *testing.T, gs *ledgerqgrpc.GRPCServer) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := gs.NewServer()
	go func() {
		// Serve returns after Stop.
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	return lis.Addr().String()
}

func dial(t *testing.T, addr string) *ledgerqgrpc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := ledgerqgrpc.Dial(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return client
}

func connect(t *testing.T, h *ledgerqtest.Harness) ledgerq.Connection {
	addr := startServer(t, ledgerqgrpc.NewGRPCServer(h.Processor, zerolog.Nop()))
	return dial(t, addr)
}

func TestGRPC_Compliance(t *testing.T) {
	ledgerqtest.RunComplianceSuite(t, connect)
}

func TestGRPC_UnavailableAfterProcessorClose(t *testing.T) {
	h := ledgerqtest.NewHarness(t)
	client := connect(t, h)
	defer client.Close()

	if err := h.Processor.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	src, err := client.BlocksQueryHandle(context.Background(), ledgerqtest.MakeBlocksQuery(nil))
	if err != nil {
		t.Fatalf("BlocksQueryHandle: %v", err)
	}
	defer src.Close()

	_, err = src.Next(context.Background())
	if !errors.Is(err, ledgerq.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	// The terminal error repeats.
	_, err = src.Next(context.Background())
	if !errors.Is(err, ledgerq.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable again, got %v", err)
	}
}

func TestGRPC_CancelReleasesServerStream(t *testing.T) {
	h := ledgerqtest.NewHarness(t)
	client := connect(t, h)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	src, err := client.BlocksQueryHandle(ctx, ledgerqtest.MakeBlocksQuery(nil))
	if err != nil {
		t.Fatalf("BlocksQueryHandle: %v", err)
	}
	h.WaitForSubscriptions(1)

	h.CommitBlocks(1)
	got := ledgerqtest.CollectHeights(t, src, 1)
	if got[0] != 1 {
		t.Fatalf("expected height 1, got %v", got)
	}

	cancel()
	h.WaitForSubscriptions(0)
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, ledgerq.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestGRPC_RequestMetrics(t *testing.T) {
	h := ledgerqtest.NewHarness(t)
	gs := ledgerqgrpc.NewGRPCServer(h.Processor, zerolog.Nop())
	reg := prometheus.NewRegistry()
	if err := reg.Register(gs.Collector()); err != nil {
		t.Fatalf("register: %v", err)
	}
	client := dial(t, startServer(t, gs))
	defer client.Close()

	if _, err := client.QueryHandle(context.Background(), ledgerqtest.MakeQuery("alice@test")); err != nil {
		t.Fatalf("QueryHandle: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var handled float64
	for _, mf := range families {
		if mf.GetName() != "grpc_server_handled_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "grpc_method" && l.GetValue() == "Find" {
					handled += m.GetCounter().GetValue()
				}
			}
		}
	}
	if handled != 1 {
		t.Fatalf("expected 1 handled Find call, got %v", handled)
	}
}
