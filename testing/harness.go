package ledgerqtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/processor"
	"github.com/blockberries/ledgerq/response"
	"github.com/blockberries/ledgerq/types"
)

// DefaultTimeout bounds every blocking helper in this package.
const DefaultTimeout = 5 * time.Second

// Harness wires a MemStorage and a MockExecutor into a processor.
type Harness struct {
	t         testing.TB
	Storage   *MemStorage
	Executor  *MockExecutor
	Executors *MockExecutorFactory
	Processor *processor.Processor
}

// NewHarness creates a harness. The processor and the storage are
// closed when the test ends.
func NewHarness(t testing.TB, opts ...processor.Option) *Harness {
	t.Helper()
	h := &Harness{
		t:        t,
		Storage:  NewMemStorage(),
		Executor: &MockExecutor{},
	}
	h.Executors = &MockExecutorFactory{Executor: h.Executor}

	p, err := processor.New(h.Storage, h.Executors, response.Factory{}, h.Storage, opts...)
	if err != nil {
		t.Fatalf("processor.New failed: %v", err)
	}
	h.Processor = p
	t.Cleanup(func() {
		p.Close()
		h.Storage.Close()
	})
	return h
}

// CommitBlocks commits n blocks on top of the chain.
func (h *Harness) CommitBlocks(n int) []types.Block {
	return h.Storage.CommitNext(n)
}

// WaitForSubscriptions waits until the processor holds exactly n stream
// subscriptions.
func (h *Harness) WaitForSubscriptions(n int) {
	h.t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for h.Processor.NumSubscriptions() != n {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %d subscriptions, have %d", n, h.Processor.NumSubscriptions())
		}
		time.Sleep(time.Millisecond)
	}
}

// --- Helper Factories ---

// MakeBlock creates an empty block at the given height. Blocks made by
// consecutive calls link to each other.
func MakeBlock(height uint64, txs ...types.Tx) types.Block {
	b := types.Block{
		Height:      height,
		CreatedTime: types.Timestamp(1_700_000_000_000 + height*5000),
		Txs:         txs,
	}
	if height > 1 {
		b.PrevHash = MakeBlock(height - 1).Hash()
	}
	return b
}

// Height returns a pointer to h for BlocksQuery.Height.
func Height(h uint64) *uint64 { return &h }

// MakeBlocksQuery creates an unsigned blocks-query starting at height.
func MakeBlocksQuery(height *uint64) types.BlocksQuery {
	return types.BlocksQuery{
		CreatorAccountID: "alice@test",
		QueryCounter:     1,
		CreatedTime:      types.Timestamp(1_700_000_000_000),
		Height:           height,
	}
}

// MakeQuery creates an unsigned GetAccount query.
func MakeQuery(account types.AccountID) types.Query {
	return types.Query{
		CreatorAccountID: account,
		QueryCounter:     1,
		CreatedTime:      types.Timestamp(1_700_000_000_000),
		Payload:          types.QueryPayload{GetAccount: &types.GetAccount{AccountID: account}},
	}
}

// CollectHeights reads n responses from src and returns their heights.
// Error-shaped responses and stream errors fail the test.
func CollectHeights(t testing.TB, src ledgerq.BlockSource, n int) []uint64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	heights := make([]uint64, 0, n)
	for len(heights) < n {
		resp, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next after %v failed: %v", heights, err)
		}
		h, ok := resp.Height()
		if !ok {
			t.Fatalf("unexpected error response after %v: %+v", heights, resp.Error)
		}
		heights = append(heights, h)
	}
	return heights
}

// ExpectIdle asserts that src delivers nothing within wait.
func ExpectIdle(t testing.TB, src ledgerq.BlockSource, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	resp, err := src.Next(ctx)
	if err == nil {
		t.Fatalf("expected no delivery, got %+v", resp)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// Sequence returns [from, from+1, ..., to].
func Sequence(from, to uint64) []uint64 {
	var out []uint64
	for h := from; h <= to; h++ {
		out = append(out, h)
	}
	return out
}
