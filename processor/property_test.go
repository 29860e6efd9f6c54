package processor_test

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/blockberries/ledgerq/processor"
	"github.com/blockberries/ledgerq/response"
	ledgerqtest "github.com/blockberries/ledgerq/testing"
)

// Whatever the interleaving of commits, reads and queue overflows, a
// catchup stream from H delivers H, H+1, ... with no gaps or repeats.
func TestCatchupDeliversContiguousHeights(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := rapid.IntRange(0, 8).Draw(rt, "initial")
		start := rapid.Uint64Range(1, uint64(initial)+3).Draw(rt, "start")
		during := rapid.IntRange(0, 5).Draw(rt, "during")
		cfg := processor.Config{
			BufferCapacity: rapid.IntRange(0, 4).Draw(rt, "buffer_capacity"),
			LiveCapacity:   rapid.IntRange(0, 4).Draw(rt, "live_capacity"),
		}
		steps := rapid.SliceOfN(rapid.IntRange(0, 4), 0, 6).Draw(rt, "steps")

		storage := ledgerqtest.NewMemStorage()
		defer storage.Close()
		storage.CommitNext(initial)

		var once sync.Once
		storage.BeforeSnapshot = func(uint64) {
			once.Do(func() { storage.CommitNext(during) })
		}

		p, err := processor.New(storage, &ledgerqtest.MockExecutorFactory{Executor: &ledgerqtest.MockExecutor{}},
			response.Factory{}, storage, processor.WithConfig(cfg))
		if err != nil {
			rt.Fatalf("processor.New: %v", err)
		}
		defer p.Close()

		s, err := p.BlocksQueryHandle(context.Background(), ledgerqtest.MakeBlocksQuery(ledgerqtest.Height(start)))
		if err != nil {
			rt.Fatalf("BlocksQueryHandle: %v", err)
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), ledgerqtest.DefaultTimeout)
		defer cancel()

		next := start
		read := func() {
			resp, err := s.Next(ctx)
			if err != nil {
				rt.Fatalf("Next at %d: %v", next, err)
			}
			h, ok := resp.Height()
			if !ok {
				rt.Fatalf("error response at %d: %+v", next, resp.Error)
			}
			if h != next {
				rt.Fatalf("delivered height %d, want %d", h, next)
			}
			next++
		}
		top := func() uint64 {
			h, _ := storage.TopBlockHeight(ctx)
			return h
		}

		// The first read triggers the historical snapshot and with it the
		// commits made during the read.
		if next <= uint64(initial+during) {
			read()
		}
		for _, k := range steps {
			storage.CommitNext(k)
			if next <= top() {
				read()
			}
		}
		for next <= top() {
			read()
		}
	})
}

// Commits from another goroutine race the historical read and the splice
// into the live feed. With bounded queues and a single processor the
// stream from H still delivers exactly H..top.
func TestCatchupContiguousUnderConcurrentCommits(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	rapid.Check(t, func(rt *rapid.T) {
		initial := rapid.IntRange(0, 6).Draw(rt, "initial")
		start := rapid.Uint64Range(1, uint64(initial)+2).Draw(rt, "start")
		batches := rapid.SliceOfN(rapid.IntRange(1, 3), 1, 6).Draw(rt, "batches")
		cfg := processor.Config{
			BufferCapacity: rapid.IntRange(1, 4).Draw(rt, "buffer_capacity"),
			LiveCapacity:   rapid.IntRange(1, 4).Draw(rt, "live_capacity"),
		}

		top := uint64(initial) + 2
		for _, n := range batches {
			top += uint64(n)
		}

		storage := ledgerqtest.NewMemStorage()
		defer storage.Close()
		storage.CommitNext(initial)

		p, err := processor.New(storage, &ledgerqtest.MockExecutorFactory{Executor: &ledgerqtest.MockExecutor{}},
			response.Factory{}, storage, processor.WithConfig(cfg))
		if err != nil {
			rt.Fatalf("processor.New: %v", err)
		}
		defer p.Close()

		s, err := p.BlocksQueryHandle(context.Background(), ledgerqtest.MakeBlocksQuery(ledgerqtest.Height(start)))
		if err != nil {
			rt.Fatalf("BlocksQueryHandle: %v", err)
		}
		defer s.Close()

		var wg sync.WaitGroup
		defer wg.Wait()
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Two commits bracket the batches so the stream is always
			// behind at least one of them.
			storage.CommitNext(1)
			for _, n := range batches {
				storage.CommitNext(n)
				runtime.Gosched()
			}
			storage.CommitNext(1)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), ledgerqtest.DefaultTimeout)
		defer cancel()

		for next := start; next <= top; next++ {
			resp, err := s.Next(ctx)
			if err != nil {
				rt.Fatalf("Next at %d of %d: %v", next, top, err)
			}
			h, ok := resp.Height()
			if !ok {
				rt.Fatalf("error response at %d: %+v", next, resp.Error)
			}
			if h != next {
				rt.Fatalf("delivered height %d, want %d", h, next)
			}
		}
	})
}
