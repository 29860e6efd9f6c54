package response

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerq/types"
)

func TestBlockQueryResponses(t *testing.T) {
	var f Factory

	block := types.Block{Height: 3}
	resp := f.CreateBlockQueryResponse(block)
	require.False(t, resp.IsError())
	h, ok := resp.Height()
	require.True(t, ok)
	require.EqualValues(t, 3, h)

	// The response owns its copy of the block.
	block.Height = 9
	require.EqualValues(t, 3, resp.Block.Height)

	errResp := f.CreateBlockErrorResponse("stateful invalid")
	require.True(t, errResp.IsError())
	require.Nil(t, errResp.Block)
	require.Equal(t, "stateful invalid", errResp.Error.Message)
	_, ok = errResp.Height()
	require.False(t, ok)
}

func TestQueryResponses(t *testing.T) {
	var f Factory
	qh := types.Hash{0xaa}

	roles := []string{"user"}
	acc := f.CreateAccountResponse(types.AccountResponse{AccountID: "alice@test", Roles: roles}, qh)
	roles[0] = "admin"
	require.Equal(t, qh, acc.QueryHash)
	require.Equal(t, []string{"user"}, acc.Account.Roles)
	require.False(t, acc.IsError())

	sigs := f.CreateSignatoriesResponse([]types.PublicKey{{1, 2}}, qh)
	require.Len(t, sigs.Signatories.Keys, 1)

	det := f.CreateAccountDetailResponse([]types.AccountDetail{{Key: "k", Value: "v"}}, qh)
	require.Equal(t, "v", det.AccountDetail.Details[0].Value)

	blk := f.CreateBlockResponse(types.Block{Height: 5}, qh)
	require.EqualValues(t, 5, blk.Block.Block.Height)

	e := f.CreateErrorQueryResponse(types.ErrorStatefulFailed, "query signatories did not pass validation", 3, qh)
	require.True(t, e.ErrorIs(types.ErrorStatefulFailed))
	require.EqualValues(t, 3, e.Error.Code)
	require.Equal(t, qh, e.QueryHash)
}
