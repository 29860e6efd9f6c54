package ledgerqtest

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/types"
)

// RunComplianceSuite runs the standard behavior checks against a
// ledgerq.Connection.
//
// The connect function must return a connection backed by h.Processor.
// It is called once per subtest with a fresh harness.
func RunComplianceSuite(t *testing.T, connect func(t *testing.T, h *Harness) ledgerq.Connection) {
	t.Helper()

	setup := func(t *testing.T) (*Harness, ledgerq.Connection) {
		h := NewHarness(t)
		conn := connect(t, h)
		t.Cleanup(func() { conn.Close() })
		return h, conn
	}
	ctx := context.Background()

	t.Run("point_query_passthrough", func(t *testing.T) {
		h, conn := setup(t)
		q := MakeQuery("alice@test")

		resp, err := conn.QueryHandle(ctx, q)
		if err != nil {
			t.Fatalf("QueryHandle failed: %v", err)
		}
		if resp.QueryHash != q.Hash() {
			t.Errorf("query hash %s, want %s", resp.QueryHash, q.Hash())
		}
		if resp.Account == nil || resp.Account.AccountID != "alice@test" {
			t.Errorf("unexpected response %+v", resp)
		}
		if n := h.Executor.ValidateAndExecuteCalls.Load(); n != 1 {
			t.Errorf("expected 1 executor call, got %d", n)
		}
	})

	t.Run("point_query_error_response", func(t *testing.T) {
		h, conn := setup(t)
		h.Executor.ValidateAndExecuteFn = func(_ context.Context, q types.Query, _ bool) *types.QueryResponse {
			return &types.QueryResponse{
				QueryHash: q.Hash(),
				Error: &types.ErrorQueryResponse{
					Kind:    types.ErrorStatefulFailed,
					Message: "query signatories did not pass validation",
					Code:    3,
				},
			}
		}

		resp, err := conn.QueryHandle(ctx, MakeQuery("alice@test"))
		if err != nil {
			t.Fatalf("validation failures must not be errors: %v", err)
		}
		if !resp.ErrorIs(types.ErrorStatefulFailed) || resp.Error.Code != 3 {
			t.Errorf("unexpected response %+v", resp.Error)
		}
	})

	t.Run("point_query_unavailable", func(t *testing.T) {
		h, conn := setup(t)
		h.Executors.ErrFn = Unavailable()

		resp, err := conn.QueryHandle(ctx, MakeQuery("alice@test"))
		if !errors.Is(err, ledgerq.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable, got %v", err)
		}
		if resp != nil {
			t.Errorf("expected no response, got %+v", resp)
		}
	})

	t.Run("point_query_idempotent", func(t *testing.T) {
		_, conn := setup(t)
		q := MakeQuery("alice@test")

		first, err := conn.QueryHandle(ctx, q)
		if err != nil {
			t.Fatalf("QueryHandle failed: %v", err)
		}
		second, err := conn.QueryHandle(ctx, q)
		if err != nil {
			t.Fatalf("QueryHandle failed: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("responses differ: %+v != %+v", first, second)
		}
	})

	t.Run("blocks_query_rejected", func(t *testing.T) {
		h, conn := setup(t)
		h.Executor.ValidateBlocksQueryFn = func(context.Context, types.BlocksQuery, uint64, bool) bool { return false }
		h.CommitBlocks(3)

		src, err := conn.BlocksQueryHandle(ctx, MakeBlocksQuery(Height(1)))
		if err != nil {
			t.Fatalf("BlocksQueryHandle failed: %v", err)
		}
		defer src.Close()

		resp, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !resp.IsError() {
			t.Fatalf("expected error response, got %+v", resp)
		}
		if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF after rejection, got %v", err)
		}
		if n := h.Processor.NumSubscriptions(); n != 0 {
			t.Errorf("rejected stream holds %d subscriptions", n)
		}
		if n := h.Storage.GetBlocksFromCalls.Load(); n != 0 {
			t.Errorf("rejected stream read history %d times", n)
		}
	})

	t.Run("blocks_query_catchup", func(t *testing.T) {
		h, conn := setup(t)
		h.CommitBlocks(4)

		src, err := conn.BlocksQueryHandle(ctx, MakeBlocksQuery(Height(2)))
		if err != nil {
			t.Fatalf("BlocksQueryHandle failed: %v", err)
		}
		defer src.Close()

		assertHeights(t, CollectHeights(t, src, 3), Sequence(2, 4))
		h.CommitBlocks(2)
		assertHeights(t, CollectHeights(t, src, 2), Sequence(5, 6))
	})

	t.Run("blocks_query_live_only", func(t *testing.T) {
		h, conn := setup(t)
		h.CommitBlocks(3)

		src, err := conn.BlocksQueryHandle(ctx, MakeBlocksQuery(nil))
		if err != nil {
			t.Fatalf("BlocksQueryHandle failed: %v", err)
		}
		defer src.Close()
		h.WaitForSubscriptions(1)

		h.CommitBlocks(5)
		assertHeights(t, CollectHeights(t, src, 5), Sequence(4, 8))
		ExpectIdle(t, src, 50*time.Millisecond)

		if n := h.Storage.GetBlocksFromCalls.Load(); n != 0 {
			t.Errorf("live-only stream read history %d times", n)
		}
	})

	t.Run("blocks_query_concurrent_commits", func(t *testing.T) {
		h, conn := setup(t)
		h.CommitBlocks(10)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				h.CommitBlocks(1)
			}
		}()

		src, err := conn.BlocksQueryHandle(ctx, MakeBlocksQuery(Height(3)))
		if err != nil {
			t.Fatalf("BlocksQueryHandle failed: %v", err)
		}
		defer src.Close()

		wg.Wait()
		assertHeights(t, CollectHeights(t, src, 48), Sequence(3, 50))
		ExpectIdle(t, src, 50*time.Millisecond)
	})

	t.Run("close_releases_subscriptions", func(t *testing.T) {
		h, conn := setup(t)
		h.CommitBlocks(2)

		live, err := conn.BlocksQueryHandle(ctx, MakeBlocksQuery(nil))
		if err != nil {
			t.Fatalf("BlocksQueryHandle failed: %v", err)
		}
		catchup, err := conn.BlocksQueryHandle(ctx, MakeBlocksQuery(Height(1)))
		if err != nil {
			t.Fatalf("BlocksQueryHandle failed: %v", err)
		}
		assertHeights(t, CollectHeights(t, catchup, 2), Sequence(1, 2))
		h.WaitForSubscriptions(2)

		live.Close()
		catchup.Close()
		h.WaitForSubscriptions(0)
	})
}

func assertHeights(t testing.TB, got, want []uint64) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delivered heights %v, want %v", got, want)
	}
}
