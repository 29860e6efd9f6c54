// Package executor validates and runs queries against the world state
// and the block store.
//
// Validation happens in three stages. Stateless checks (counter,
// signatures present and cryptographically valid, well-formed payload)
// run first, then the signing keys are matched against the creator's
// signatories, then the creator's roles are checked for the permission
// the query needs. The first failing stage determines the error
// response.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/state"
	"github.com/blockberries/ledgerq/types"
)

// Error codes carried in ErrorQueryResponse.Code.
const (
	CodeStatelessInvalid uint32 = 1
	CodeNoPermission     uint32 = 2
	CodeBadSignatories   uint32 = 3
	CodeNotFound         uint32 = 4
	CodeInternal         uint32 = 5
)

const msgBadSignatories = "query signatories did not pass validation"

var (
	_ ledgerq.QueryExecutorFactory = (*Factory)(nil)
	_ ledgerq.QueryExecutor        = (*Executor)(nil)
)

// Factory creates executors bound to one world state and block store.
type Factory struct {
	state     *state.WorldState
	blocks    ledgerq.BlockStorage
	responses ledgerq.ResponseFactory
	logger    zerolog.Logger
}

// NewFactory returns a factory over ws and blocks.
func NewFactory(ws *state.WorldState, blocks ledgerq.BlockStorage, responses ledgerq.ResponseFactory, logger zerolog.Logger) *Factory {
	return &Factory{
		state:     ws,
		blocks:    blocks,
		responses: responses,
		logger:    logger.With().Str("component", "query_executor").Logger(),
	}
}

// CreateQueryExecutor returns an executor, or ErrServiceUnavailable once
// the world state has been closed.
func (f *Factory) CreateQueryExecutor(_ context.Context) (ledgerq.QueryExecutor, error) {
	if f.state.Closed() {
		return nil, fmt.Errorf("world state: %w", ledgerq.ErrServiceUnavailable)
	}
	return &Executor{
		state:     f.state,
		blocks:    f.blocks,
		responses: f.responses,
		logger:    f.logger,
	}, nil
}

// Executor answers one query at a time. It holds no mutable state.
type Executor struct {
	state     *state.WorldState
	blocks    ledgerq.BlockStorage
	responses ledgerq.ResponseFactory
	logger    zerolog.Logger
}

// ValidateAndExecute validates q and runs it.
func (e *Executor) ValidateAndExecute(ctx context.Context, q types.Query, validateSignatories bool) *types.QueryResponse {
	hash := q.Hash()

	if msg := statelessCheck(q.QueryCounter, q.Signatures, hash); msg != "" {
		return e.responses.CreateErrorQueryResponse(types.ErrorStatelessFailed, msg, CodeStatelessInvalid, hash)
	}
	if q.Payload.Kind() == "" {
		return e.responses.CreateErrorQueryResponse(types.ErrorStatelessFailed,
			"query payload must set exactly one query", CodeStatelessInvalid, hash)
	}
	if validateSignatories && !e.signatoriesValid(q.CreatorAccountID, q.Signatures) {
		return e.responses.CreateErrorQueryResponse(types.ErrorStatefulFailed, msgBadSignatories, CodeBadSignatories, hash)
	}

	p := q.Payload
	switch {
	case p.GetAccount != nil:
		return e.getAccount(q.CreatorAccountID, p.GetAccount.AccountID, hash)
	case p.GetSignatories != nil:
		return e.getSignatories(q.CreatorAccountID, p.GetSignatories.AccountID, hash)
	case p.GetAccountDetail != nil:
		return e.getAccountDetail(q.CreatorAccountID, *p.GetAccountDetail, hash)
	default:
		return e.getBlock(ctx, q.CreatorAccountID, p.GetBlock.Height, hash)
	}
}

// ValidateBlocksQuery is the admission check for a blocks-query.
func (e *Executor) ValidateBlocksQuery(_ context.Context, q types.BlocksQuery, topHeight uint64, validateSignatories bool) bool {
	log := e.logger.With().
		Str("creator", string(q.CreatorAccountID)).
		Uint64("top_height", topHeight).
		Logger()

	if msg := statelessCheck(q.QueryCounter, q.Signatures, q.Hash()); msg != "" {
		log.Debug().Str("reason", msg).Msg("blocks query rejected")
		return false
	}
	if q.Height != nil && *q.Height == 0 {
		log.Debug().Msg("blocks query rejected: height must be positive")
		return false
	}
	if validateSignatories && !e.signatoriesValid(q.CreatorAccountID, q.Signatures) {
		log.Debug().Msg("blocks query rejected: " + msgBadSignatories)
		return false
	}
	if !e.state.HasPermission(q.CreatorAccountID, state.PermGetBlocks) {
		log.Debug().Msg("blocks query rejected: no permission")
		return false
	}
	return true
}

func statelessCheck(counter uint64, sigs []types.Signature, hash types.Hash) string {
	if counter == 0 {
		return "query counter must be positive"
	}
	if len(sigs) == 0 {
		return "query is not signed"
	}
	for _, sig := range sigs {
		if !sig.Verify(hash) {
			return "bad signature by " + sig.PublicKey.String()
		}
	}
	return ""
}

// signatoriesValid reports whether every signing key belongs to the
// creator account.
func (e *Executor) signatoriesValid(creator types.AccountID, sigs []types.Signature) bool {
	keys, err := e.state.Signatories(creator)
	if err != nil {
		return false
	}
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[string(k)] = struct{}{}
	}
	for _, sig := range sigs {
		if _, ok := allowed[string(sig.PublicKey)]; !ok {
			return false
		}
	}
	return true
}

// permitted reports whether creator may read target's data given the
// per-account and global permissions.
func (e *Executor) permitted(creator, target types.AccountID, my, all state.Permission) bool {
	if creator == target && e.state.HasPermission(creator, my) {
		return true
	}
	return e.state.HasPermission(creator, all)
}

func (e *Executor) noPermission(creator types.AccountID, hash types.Hash) *types.QueryResponse {
	return e.responses.CreateErrorQueryResponse(types.ErrorStatefulFailed,
		fmt.Sprintf("account %s has no permission to perform query", creator), CodeNoPermission, hash)
}

func (e *Executor) getAccount(creator, target types.AccountID, hash types.Hash) *types.QueryResponse {
	if !e.permitted(creator, target, state.PermGetMyAccount, state.PermGetAllAccounts) {
		return e.noPermission(creator, hash)
	}
	acc, err := e.state.Account(target)
	if err != nil {
		return e.lookupFailed(types.ErrorNoAccount, err, hash)
	}
	return e.responses.CreateAccountResponse(types.AccountResponse{
		AccountID: acc.ID,
		Domain:    acc.Domain(),
		Quorum:    acc.Quorum,
		Roles:     acc.Roles,
	}, hash)
}

func (e *Executor) getSignatories(creator, target types.AccountID, hash types.Hash) *types.QueryResponse {
	if !e.permitted(creator, target, state.PermGetMySignatories, state.PermGetAllSignatories) {
		return e.noPermission(creator, hash)
	}
	keys, err := e.state.Signatories(target)
	if err != nil {
		return e.lookupFailed(types.ErrorNoSignatories, err, hash)
	}
	if len(keys) == 0 {
		return e.responses.CreateErrorQueryResponse(types.ErrorNoSignatories,
			fmt.Sprintf("account %s has no signatories", target), CodeNotFound, hash)
	}
	return e.responses.CreateSignatoriesResponse(keys, hash)
}

func (e *Executor) getAccountDetail(creator types.AccountID, q types.GetAccountDetail, hash types.Hash) *types.QueryResponse {
	if !e.permitted(creator, q.AccountID, state.PermGetMyAccDetail, state.PermGetAllAccDetail) {
		return e.noPermission(creator, hash)
	}
	details, err := e.state.AccountDetails(q.AccountID, q.Key)
	if err != nil {
		return e.lookupFailed(types.ErrorNoAccountDetail, err, hash)
	}
	return e.responses.CreateAccountDetailResponse(details, hash)
}

func (e *Executor) getBlock(ctx context.Context, creator types.AccountID, height uint64, hash types.Hash) *types.QueryResponse {
	if !e.state.HasPermission(creator, state.PermGetBlocks) {
		return e.noPermission(creator, hash)
	}
	block, err := e.blocks.GetBlock(ctx, height)
	switch {
	case errors.Is(err, ledgerq.ErrBlockNotFound):
		return e.responses.CreateErrorQueryResponse(types.ErrorNoBlock,
			fmt.Sprintf("block at height %d not found", height), CodeNotFound, hash)
	case err != nil:
		e.logger.Error().Err(err).Uint64("height", height).Msg("reading block failed")
		return e.responses.CreateErrorQueryResponse(types.ErrorNoBlock,
			"block storage error", CodeInternal, hash)
	}
	return e.responses.CreateBlockResponse(block, hash)
}

func (e *Executor) lookupFailed(kind types.ErrorKind, err error, hash types.Hash) *types.QueryResponse {
	code := CodeNotFound
	if errors.Is(err, state.ErrClosed) {
		code = CodeInternal
	}
	return e.responses.CreateErrorQueryResponse(kind, err.Error(), code, hash)
}
