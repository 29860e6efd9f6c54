// Package local provides an in-process ledgerq connection.
//
// For clients compiled into the same binary as the ledger node, this
// adapter calls the query processor directly with no serialization
// overhead.
package local

import (
	"context"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/processor"
	"github.com/blockberries/ledgerq/types"
)

// Compile-time interface check.
var _ ledgerq.Connection = (*Connection)(nil)

// Connection wraps a query processor.
type Connection struct {
	p *processor.Processor
}

// NewConnection creates an in-process connection to p. Closing the
// connection does not close the processor.
func NewConnection(p *processor.Processor) *Connection {
	return &Connection{p: p}
}

func (c *Connection) QueryHandle(ctx context.Context, q types.Query) (*types.QueryResponse, error) {
	return c.p.QueryHandle(ctx, q)
}

func (c *Connection) BlocksQueryHandle(ctx context.Context, q types.BlocksQuery) (ledgerq.BlockSource, error) {
	s, err := c.p.BlocksQueryHandle(ctx, q)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Connection) Close() error { return nil }

// Processor returns the underlying processor for advanced use cases.
func (c *Connection) Processor() *processor.Processor {
	return c.p
}
