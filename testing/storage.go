package ledgerqtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/pubsub"
	"github.com/blockberries/ledgerq/types"
)

var (
	_ ledgerq.BlockStorage   = (*MemStorage)(nil)
	_ ledgerq.CommitNotifier = (*MemStorage)(nil)
)

// MemStorage is an in-memory block store and commit notifier.
type MemStorage struct {
	mu      sync.Mutex
	blocks  []types.Block
	commits *pubsub.Server[types.Block]

	// BeforeSnapshot, when set, runs at the start of every GetBlocksFrom
	// call, before the snapshot is taken. Tests use it to commit blocks
	// while a stream is being set up.
	BeforeSnapshot func(height uint64)
	// TopErr, when set, is returned by TopBlockHeight.
	TopErr error
	// HistoryErr, when set, is returned by GetBlocksFrom.
	HistoryErr error
	// HistoryClosed, when set, runs when an iterator returned by
	// GetBlocksFrom is closed.
	HistoryClosed func()

	GetBlocksFromCalls atomic.Int64
}

// NewMemStorage returns an empty store.
func NewMemStorage() *MemStorage {
	return &MemStorage{commits: pubsub.NewServer[types.Block]()}
}

// Commit appends block and notifies commit subscribers.
func (s *MemStorage) Commit(block types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.blocks)) + 1; block.Height != want {
		return fmt.Errorf("commit height %d, want %d", block.Height, want)
	}
	s.blocks = append(s.blocks, block)
	s.commits.Publish(block)
	return nil
}

// CommitNext commits n consecutive blocks on top of the chain.
func (s *MemStorage) CommitNext(n int) []types.Block {
	out := make([]types.Block, 0, n)
	for i := 0; i < n; i++ {
		s.mu.Lock()
		b := MakeBlock(uint64(len(s.blocks)) + 1)
		s.blocks = append(s.blocks, b)
		s.commits.Publish(b)
		s.mu.Unlock()
		out = append(out, b)
	}
	return out
}

func (s *MemStorage) SubscribeCommits() (*pubsub.Subscription[types.Block], error) {
	return s.commits.Subscribe(0)
}

// NumCommitSubscriptions returns the number of open commit
// subscriptions.
func (s *MemStorage) NumCommitSubscriptions() int {
	return s.commits.NumSubscriptions()
}

func (s *MemStorage) TopBlockHeight(context.Context) (uint64, error) {
	if s.TopErr != nil {
		return 0, s.TopErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.blocks)), nil
}

func (s *MemStorage) GetBlocksFrom(_ context.Context, height uint64) (ledgerq.BlockIterator, error) {
	s.GetBlocksFromCalls.Add(1)
	if s.BeforeSnapshot != nil {
		s.BeforeSnapshot(height)
	}
	if s.HistoryErr != nil {
		return nil, s.HistoryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if height == 0 || height > uint64(len(s.blocks)) {
		return nil, fmt.Errorf("height %d: %w", height, ledgerq.ErrBlockNotFound)
	}
	snap := append([]types.Block(nil), s.blocks[height-1:]...)
	return &sliceIterator{blocks: snap, onClose: s.HistoryClosed}, nil
}

func (s *MemStorage) GetBlock(_ context.Context, height uint64) (types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height == 0 || height > uint64(len(s.blocks)) {
		return types.Block{}, fmt.Errorf("height %d: %w", height, ledgerq.ErrBlockNotFound)
	}
	return s.blocks[height-1], nil
}

// Close stops the commit notifier.
func (s *MemStorage) Close() {
	s.commits.Stop()
}

type sliceIterator struct {
	blocks  []types.Block
	closed  atomic.Bool
	onClose func()
}

func (it *sliceIterator) Next() (types.Block, bool, error) {
	if it.closed.Load() || len(it.blocks) == 0 {
		return types.Block{}, false, nil
	}
	b := it.blocks[0]
	it.blocks = it.blocks[1:]
	return b, true, nil
}

func (it *sliceIterator) Close() error {
	if it.closed.Swap(true) {
		return nil
	}
	if it.onClose != nil {
		it.onClose()
	}
	return nil
}
