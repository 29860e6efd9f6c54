// Package response builds query and block-stream response values.
package response

import (
	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/types"
)

var _ ledgerq.ResponseFactory = Factory{}

// Factory is the stateless ResponseFactory used by the node. The zero
// value is ready to use.
type Factory struct{}

func (Factory) CreateBlockQueryResponse(block types.Block) types.BlockQueryResponse {
	b := block
	return types.BlockQueryResponse{Block: &b}
}

func (Factory) CreateBlockErrorResponse(message string) types.BlockQueryResponse {
	return types.BlockQueryResponse{Error: &types.BlockErrorResponse{Message: message}}
}

func (Factory) CreateAccountResponse(account types.AccountResponse, queryHash types.Hash) *types.QueryResponse {
	account.Roles = append([]string(nil), account.Roles...)
	return &types.QueryResponse{QueryHash: queryHash, Account: &account}
}

func (Factory) CreateSignatoriesResponse(keys []types.PublicKey, queryHash types.Hash) *types.QueryResponse {
	return &types.QueryResponse{
		QueryHash:   queryHash,
		Signatories: &types.SignatoriesResponse{Keys: append([]types.PublicKey(nil), keys...)},
	}
}

func (Factory) CreateAccountDetailResponse(details []types.AccountDetail, queryHash types.Hash) *types.QueryResponse {
	return &types.QueryResponse{
		QueryHash:     queryHash,
		AccountDetail: &types.AccountDetailResponse{Details: append([]types.AccountDetail(nil), details...)},
	}
}

func (Factory) CreateBlockResponse(block types.Block, queryHash types.Hash) *types.QueryResponse {
	return &types.QueryResponse{QueryHash: queryHash, Block: &types.BlockResponse{Block: block}}
}

func (Factory) CreateErrorQueryResponse(kind types.ErrorKind, message string, code uint32, queryHash types.Hash) *types.QueryResponse {
	return &types.QueryResponse{
		QueryHash: queryHash,
		Error: &types.ErrorQueryResponse{
			Kind:    kind,
			Message: message,
			Code:    code,
		},
	}
}
