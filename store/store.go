// Package store persists committed blocks in LevelDB and announces every
// commit to subscribers.
//
// Blocks are keyed by height, so a range scan from a given height walks
// the chain in ascending order. Historical reads run on LevelDB
// snapshots and never take the commit lock.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/pubsub"
	"github.com/blockberries/ledgerq/types"
)

var (
	// ErrNonContiguousHeight is returned by Commit when the block does not
	// extend the chain by exactly one.
	ErrNonContiguousHeight = errors.New("block height does not extend the chain")

	// ErrPrevHashMismatch is returned by Commit when the block does not
	// link to the current top block.
	ErrPrevHashMismatch = errors.New("block does not link to top block")
)

var (
	blockPrefix = []byte("B:")
	topKey      = []byte("M:top")
)

func blockKey(height uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], height)
	return key
}

func encodeHeight(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}

var (
	_ ledgerq.BlockStorage   = (*Store)(nil)
	_ ledgerq.CommitNotifier = (*Store)(nil)
)

// Options configures a Store.
type Options struct {
	// CacheSize is the number of decoded blocks kept for GetBlock.
	CacheSize int
	// Sync forces an fsync on every commit.
	Sync   bool
	Logger zerolog.Logger
}

// Store is a LevelDB block store and commit notifier.
type Store struct {
	db      *leveldb.DB
	cache   *lru.Cache
	commits *pubsub.Server[types.Block]
	wo      *opt.WriteOptions
	logger  zerolog.Logger

	commitMtx sync.Mutex
	top       uint64
	topHash   types.Hash
}

// OpenFile opens or creates a store in dir.
func OpenFile(dir string, o Options) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open block store %s: %w", dir, err)
	}
	return newStore(db, o)
}

// OpenMem returns a store backed by memory.
func OpenMem(o Options) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory block store: %w", err)
	}
	return newStore(db, o)
}

func newStore(db *leveldb.DB, o Options) (*Store, error) {
	if o.CacheSize <= 0 {
		o.CacheSize = 128
	}
	cache, err := lru.New(o.CacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{
		db:      db,
		cache:   cache,
		commits: pubsub.NewServer[types.Block](),
		wo:      &opt.WriteOptions{Sync: o.Sync},
		logger:  o.Logger.With().Str("component", "block_store").Logger(),
	}

	top, err := readTop(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if top > 0 {
		b, err := s.load(top)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load top block %d: %w", top, err)
		}
		s.top, s.topHash = top, b.Hash()
	}
	s.logger.Info().Uint64("top_height", top).Msg("block store opened")
	return s, nil
}

type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

func readTop(g getter) (uint64, error) {
	v, err := g.Get(topKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read top height: %w", err)
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt top height record (%d bytes)", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// Commit appends block to the chain and publishes it to every commit
// subscription. Blocks must be committed in height order starting at 1.
func (s *Store) Commit(block types.Block) error {
	s.commitMtx.Lock()
	defer s.commitMtx.Unlock()

	if block.Height != s.top+1 {
		return fmt.Errorf("%w: got %d, top is %d", ErrNonContiguousHeight, block.Height, s.top)
	}
	if s.top > 0 && block.PrevHash != s.topHash {
		return fmt.Errorf("%w at height %d", ErrPrevHashMismatch, block.Height)
	}

	data, err := cramberry.Marshal(block)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.Height, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Height), data)
	batch.Put(topKey, encodeHeight(block.Height))
	if err := s.db.Write(batch, s.wo); err != nil {
		return fmt.Errorf("write block %d: %w", block.Height, err)
	}

	s.top, s.topHash = block.Height, block.Hash()
	s.cache.Add(block.Height, block)
	s.commits.Publish(block)

	s.logger.Debug().
		Uint64("height", block.Height).
		Int("txs", len(block.Txs)).
		Msg("block committed")
	return nil
}

// SubscribeCommits returns a subscription receiving every block
// committed from now on.
func (s *Store) SubscribeCommits() (*pubsub.Subscription[types.Block], error) {
	return s.commits.Subscribe(0)
}

// TopBlockHeight returns the height of the last committed block.
func (s *Store) TopBlockHeight(_ context.Context) (uint64, error) {
	s.commitMtx.Lock()
	defer s.commitMtx.Unlock()
	return s.top, nil
}

// TopBlock returns the last committed block, or ErrBlockNotFound for an
// empty chain.
func (s *Store) TopBlock(ctx context.Context) (types.Block, error) {
	top, err := s.TopBlockHeight(ctx)
	if err != nil {
		return types.Block{}, err
	}
	return s.GetBlock(ctx, top)
}

// GetBlock returns the block at height.
func (s *Store) GetBlock(_ context.Context, height uint64) (types.Block, error) {
	if v, ok := s.cache.Get(height); ok {
		return v.(types.Block), nil
	}
	b, err := s.load(height)
	if err != nil {
		return types.Block{}, err
	}
	s.cache.Add(height, b)
	return b, nil
}

func (s *Store) load(height uint64) (types.Block, error) {
	data, err := s.db.Get(blockKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return types.Block{}, fmt.Errorf("height %d: %w", height, ledgerq.ErrBlockNotFound)
	}
	if err != nil {
		return types.Block{}, fmt.Errorf("read block %d: %w", height, err)
	}
	return decodeBlock(data)
}

func decodeBlock(data []byte) (types.Block, error) {
	var b types.Block
	if err := cramberry.Unmarshal(data, &b); err != nil {
		return types.Block{}, fmt.Errorf("decode block: %w", err)
	}
	return b, nil
}

// GetBlocksFrom returns an iterator over the blocks with height >= height
// as of a snapshot taken now.
func (s *Store) GetBlocksFrom(_ context.Context, height uint64) (ledgerq.BlockIterator, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	top, err := readTop(snap)
	if err != nil {
		snap.Release()
		return nil, err
	}
	if height == 0 || height > top {
		snap.Release()
		return nil, fmt.Errorf("height %d (top %d): %w", height, top, ledgerq.ErrBlockNotFound)
	}

	rng := util.BytesPrefix(blockPrefix)
	rng.Start = blockKey(height)
	return &blockIterator{
		snap: snap,
		iter: snap.NewIterator(rng, nil),
		next: height,
	}, nil
}

// Close stops the commit notifier and closes the database.
func (s *Store) Close() error {
	s.commits.Stop()
	return s.db.Close()
}

type blockIterator struct {
	snap *leveldb.Snapshot
	iter iterator.Iterator
	next uint64

	done   bool
	closed bool
}

func (it *blockIterator) Next() (types.Block, bool, error) {
	if it.done {
		return types.Block{}, false, nil
	}
	if !it.iter.Next() {
		it.done = true
		return types.Block{}, false, it.iter.Error()
	}
	if want := blockKey(it.next); !bytes.Equal(it.iter.Key(), want) {
		it.done = true
		return types.Block{}, false, fmt.Errorf("block store gap: expected height %d", it.next)
	}
	b, err := decodeBlock(append([]byte(nil), it.iter.Value()...))
	if err != nil {
		it.done = true
		return types.Block{}, false, err
	}
	it.next++
	return b, true, nil
}

func (it *blockIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed, it.done = true, true
	err := it.iter.Error()
	it.iter.Release()
	it.snap.Release()
	return err
}
