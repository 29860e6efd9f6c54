// Package ledgerqtest provides test utilities for the query layer:
// configurable executor mocks, an in-memory block store, a harness
// wiring them into a processor, and a compliance suite that any
// ledgerq.Connection must pass.
package ledgerqtest

import (
	"context"
	"sync/atomic"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/types"
)

// Compile-time interface checks.
var (
	_ ledgerq.QueryExecutor        = (*MockExecutor)(nil)
	_ ledgerq.QueryExecutorFactory = (*MockExecutorFactory)(nil)
)

// MockExecutor is a configurable QueryExecutor. Unconfigured methods
// answer every query successfully and admit every blocks-query.
type MockExecutor struct {
	ValidateAndExecuteFn  func(context.Context, types.Query, bool) *types.QueryResponse
	ValidateBlocksQueryFn func(context.Context, types.BlocksQuery, uint64, bool) bool

	// Call counters (atomic for concurrent access).
	ValidateAndExecuteCalls  atomic.Int64
	ValidateBlocksQueryCalls atomic.Int64
}

func (m *MockExecutor) ValidateAndExecute(ctx context.Context, q types.Query, validateSignatories bool) *types.QueryResponse {
	m.ValidateAndExecuteCalls.Add(1)
	if m.ValidateAndExecuteFn != nil {
		return m.ValidateAndExecuteFn(ctx, q, validateSignatories)
	}
	return &types.QueryResponse{
		QueryHash: q.Hash(),
		Account: &types.AccountResponse{
			AccountID: q.CreatorAccountID,
			Domain:    "test",
			Quorum:    1,
		},
	}
}

func (m *MockExecutor) ValidateBlocksQuery(ctx context.Context, q types.BlocksQuery, top uint64, validateSignatories bool) bool {
	m.ValidateBlocksQueryCalls.Add(1)
	if m.ValidateBlocksQueryFn != nil {
		return m.ValidateBlocksQueryFn(ctx, q, top, validateSignatories)
	}
	return true
}

// MockExecutorFactory hands out Executor, or fails with the error
// returned by ErrFn.
type MockExecutorFactory struct {
	Executor ledgerq.QueryExecutor
	// ErrFn, when set and returning non-nil, makes creation fail.
	ErrFn func() error

	CreateCalls atomic.Int64
}

func (f *MockExecutorFactory) CreateQueryExecutor(context.Context) (ledgerq.QueryExecutor, error) {
	f.CreateCalls.Add(1)
	if f.ErrFn != nil {
		if err := f.ErrFn(); err != nil {
			return nil, err
		}
	}
	return f.Executor, nil
}

// Unavailable returns an ErrFn that always fails with
// ErrServiceUnavailable.
func Unavailable() func() error {
	return func() error { return ledgerq.ErrServiceUnavailable }
}
