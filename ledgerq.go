// Package ledgerq defines the query-serving boundary of a ledger node.
//
// Clients send two kinds of requests: point queries, answered once
// with a [types.QueryResponse], and blocks-queries, answered with an
// unbounded ordered stream of [types.BlockQueryResponse] values. The
// streaming side merges a historical read from [BlockStorage] with the
// live feed from a [CommitNotifier] so that every height from the
// requested one onward is delivered exactly once.
//
// The interfaces in this package are the contracts between the query
// processor and its collaborators. Reference implementations live in
// the store, executor and response packages.
package ledgerq

import (
	"context"

	"github.com/blockberries/ledgerq/pubsub"
	"github.com/blockberries/ledgerq/types"
)

// CommitNotifier announces newly committed blocks.
//
// Blocks are emitted in commit order to every subscription registered
// at the time of the commit. Past commits are never replayed to new
// subscribers. The caller owns the returned subscription and must
// release it with Unsubscribe.
type CommitNotifier interface {
	SubscribeCommits() (*pubsub.Subscription[types.Block], error)
}

// BlockStorage is the read side of the committed block store.
//
// All methods MUST be safe for concurrent use, including concurrent
// with commits.
type BlockStorage interface {
	// TopBlockHeight returns the height of the last committed block, or
	// zero for an empty ledger.
	TopBlockHeight(ctx context.Context) (uint64, error)

	// GetBlocksFrom returns a lazy iterator over every committed block
	// with height >= height, in ascending order. The iterator reflects a
	// snapshot taken at call time. Returns ErrBlockNotFound when height
	// is not committed yet.
	GetBlocksFrom(ctx context.Context, height uint64) (BlockIterator, error)

	// GetBlock returns the block at height, or ErrBlockNotFound.
	GetBlock(ctx context.Context, height uint64) (types.Block, error)
}

// BlockIterator walks a finite, ascending sequence of blocks.
type BlockIterator interface {
	// Next returns the next block. ok is false once the sequence is
	// exhausted or err is non-nil.
	Next() (block types.Block, ok bool, err error)

	// Close releases the underlying snapshot.
	Close() error
}

// QueryExecutorFactory produces executors bound to the current ledger
// state. CreateQueryExecutor returns ErrServiceUnavailable (possibly
// wrapped) when the state backend cannot be reached.
type QueryExecutorFactory interface {
	CreateQueryExecutor(ctx context.Context) (QueryExecutor, error)
}

// QueryExecutor validates and runs a single request against ledger
// state. It has no side effects.
type QueryExecutor interface {
	// ValidateAndExecute checks the query's signatures and permissions
	// and runs it. Validation failures are reported as error variants of
	// the returned response, never as Go errors. When
	// validateSignatories is set the signing keys must belong to the
	// creator account.
	ValidateAndExecute(ctx context.Context, q types.Query, validateSignatories bool) *types.QueryResponse

	// ValidateBlocksQuery is the admission check for a blocks-query.
	ValidateBlocksQuery(ctx context.Context, q types.BlocksQuery, topHeight uint64, validateSignatories bool) bool
}

// ResponseFactory builds response values from domain data.
type ResponseFactory interface {
	CreateBlockQueryResponse(block types.Block) types.BlockQueryResponse
	CreateBlockErrorResponse(message string) types.BlockQueryResponse

	CreateAccountResponse(account types.AccountResponse, queryHash types.Hash) *types.QueryResponse
	CreateSignatoriesResponse(keys []types.PublicKey, queryHash types.Hash) *types.QueryResponse
	CreateAccountDetailResponse(details []types.AccountDetail, queryHash types.Hash) *types.QueryResponse
	CreateBlockResponse(block types.Block, queryHash types.Hash) *types.QueryResponse
	CreateErrorQueryResponse(kind types.ErrorKind, message string, code uint32, queryHash types.Hash) *types.QueryResponse
}

// BlockSource is the client side of a blocks-query stream.
//
// Next blocks until the next response is available. A rejected
// blocks-query yields a single error-shaped response followed by
// io.EOF. Admitted streams never end on their own; they run until the
// context is canceled or Close is called.
type BlockSource interface {
	Next(ctx context.Context) (types.BlockQueryResponse, error)
	Close() error
}

// QueryHandler answers point queries.
//
// A nil response together with ErrServiceUnavailable means no answer
// could be produced and the caller should retry later.
type QueryHandler interface {
	QueryHandle(ctx context.Context, q types.Query) (*types.QueryResponse, error)
}

// BlocksQueryHandler opens blocks-query streams.
type BlocksQueryHandler interface {
	BlocksQueryHandle(ctx context.Context, q types.BlocksQuery) (BlockSource, error)
}

// Connection represents a transport-agnostic connection to a query
// service. Both gRPC clients and in-process adapters implement this.
type Connection interface {
	QueryHandler
	BlocksQueryHandler

	// Close terminates the connection.
	Close() error
}
