package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/types"
)

func nextBlock(prev types.Block) types.Block {
	return types.Block{
		Height:      prev.Height + 1,
		PrevHash:    prev.Hash(),
		CreatedTime: types.Timestamp(1000 + prev.Height),
		Txs:         []types.Tx{[]byte{byte(prev.Height)}},
	}
}

func commitN(t *testing.T, s *Store, n int) []types.Block {
	t.Helper()
	var out []types.Block
	prev, err := s.TopBlock(context.Background())
	if err != nil {
		prev = types.Block{}
	}
	for i := 0; i < n; i++ {
		b := types.Block{Height: 1}
		if prev.Height > 0 {
			b = nextBlock(prev)
		}
		require.NoError(t, s.Commit(b))
		out = append(out, b)
		prev = b
	}
	return out
}

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMem(Options{CacheSize: 4, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drain(t *testing.T, it ledgerq.BlockIterator) []uint64 {
	t.Helper()
	defer it.Close()
	var heights []uint64
	for {
		b, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			return heights
		}
		heights = append(heights, b.Height)
	}
}

func TestCommitAndRead(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	top, err := s.TopBlockHeight(ctx)
	require.NoError(t, err)
	require.Zero(t, top)

	blocks := commitN(t, s, 10)
	top, err = s.TopBlockHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 10, top)

	for _, want := range blocks {
		got, err := s.GetBlock(ctx, want.Height)
		require.NoError(t, err)
		require.Equal(t, want.Hash(), got.Hash())
	}

	_, err = s.GetBlock(ctx, 11)
	require.ErrorIs(t, err, ledgerq.ErrBlockNotFound)
}

func TestCommitOrdering(t *testing.T) {
	s := openMem(t)
	require.ErrorIs(t, s.Commit(types.Block{Height: 2}), ErrNonContiguousHeight)
	commitN(t, s, 1)
	require.ErrorIs(t, s.Commit(types.Block{Height: 1}), ErrNonContiguousHeight)
	require.ErrorIs(t, s.Commit(types.Block{Height: 2, PrevHash: types.Hash{1}}), ErrPrevHashMismatch)
}

func TestGetBlocksFrom(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	commitN(t, s, 5)

	it, err := s.GetBlocksFrom(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 4, 5}, drain(t, it))

	it, err = s.GetBlocksFrom(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, drain(t, it))

	_, err = s.GetBlocksFrom(ctx, 0)
	require.ErrorIs(t, err, ledgerq.ErrBlockNotFound)
	_, err = s.GetBlocksFrom(ctx, 6)
	require.ErrorIs(t, err, ledgerq.ErrBlockNotFound)
}

func TestGetBlocksFromIsSnapshot(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	commitN(t, s, 3)

	it, err := s.GetBlocksFrom(ctx, 2)
	require.NoError(t, err)
	commitN(t, s, 2)

	require.Equal(t, []uint64{2, 3}, drain(t, it))
	require.NoError(t, it.Close())
}

func TestSubscribeCommits(t *testing.T) {
	s := openMem(t)
	commitN(t, s, 2)

	sub, err := s.SubscribeCommits()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	commitN(t, s, 3)
	var heights []uint64
	for _, b := range sub.Drain() {
		heights = append(heights, b.Height)
	}
	require.Equal(t, []uint64{3, 4, 5}, heights)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(dir, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	blocks := commitN(t, s, 3)
	require.NoError(t, s.Close())

	s, err = OpenFile(dir, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s.Close()

	top, err := s.TopBlockHeight(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, top)

	// The chain keeps linking after a restart.
	require.NoError(t, s.Commit(nextBlock(blocks[2])))
}
