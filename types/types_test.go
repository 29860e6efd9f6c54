package types_test

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerq/types"
)

// roundTrip marshals v, unmarshals into a new T, and returns it.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	data, err := cramberry.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out T
	if err := cramberry.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return out
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return priv
}

func TestTimestamp_MillisecondPrecision(t *testing.T) {
	at := time.Date(2024, 6, 15, 12, 30, 45, 123456789, time.UTC)
	ts := types.TimeToTimestamp(at)
	require.Equal(t, at.Truncate(time.Millisecond), ts.ToTime())
	require.Equal(t, types.Timestamp(0), types.TimeToTimestamp(time.Unix(-10, 0)))
}

func TestBlockHash_IgnoresSignatures(t *testing.T) {
	b := types.Block{Height: 7, CreatedTime: 1000, Txs: []types.Tx{[]byte("tx")}}
	signed := types.SignBlock(b, newKey(t))

	require.Len(t, signed.Signatures, 1)
	require.Empty(t, b.Signatures, "signing must not mutate the original")
	require.Equal(t, b.Hash(), signed.Hash())

	b2 := b
	b2.Height = 8
	require.NotEqual(t, b.Hash(), b2.Hash())
}

func TestQuerySignature_VerifiesAgainstHash(t *testing.T) {
	priv := newKey(t)
	q := types.SignQuery(types.Query{
		CreatorAccountID: "alice@test",
		QueryCounter:     1,
		CreatedTime:      types.Now(),
		Payload:          types.QueryPayload{GetAccount: &types.GetAccount{AccountID: "alice@test"}},
	}, priv)

	require.True(t, q.Signatures[0].Verify(q.Hash()))

	tampered := q
	tampered.QueryCounter = 2
	require.False(t, q.Signatures[0].Verify(tampered.Hash()))
	require.False(t, types.Signature{PublicKey: []byte{1}}.Verify(q.Hash()))
}

func TestBlocksQueryHash_DependsOnHeight(t *testing.T) {
	h := uint64(3)
	withHeight := types.BlocksQuery{CreatorAccountID: "alice@test", QueryCounter: 1, Height: &h}
	noHeight := types.BlocksQuery{CreatorAccountID: "alice@test", QueryCounter: 1}
	require.NotEqual(t, withHeight.Hash(), noHeight.Hash())

	signed := types.SignBlocksQuery(withHeight, newKey(t))
	require.Equal(t, withHeight.Hash(), signed.Hash())
}

func TestQueryPayload_Kind(t *testing.T) {
	cases := []struct {
		name    string
		payload types.QueryPayload
		want    string
	}{
		{"empty", types.QueryPayload{}, ""},
		{"account", types.QueryPayload{GetAccount: &types.GetAccount{}}, "GetAccount"},
		{"block", types.QueryPayload{GetBlock: &types.GetBlock{Height: 1}}, "GetBlock"},
		{"two set", types.QueryPayload{
			GetAccount:     &types.GetAccount{},
			GetSignatories: &types.GetSignatories{},
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.payload.Kind())
		})
	}
}

func TestBlockQueryResponse_UnionSurvivesEncoding(t *testing.T) {
	ok := roundTrip(t, types.BlockQueryResponse{Block: &types.Block{Height: 42}})
	require.False(t, ok.IsError())
	h, has := ok.Height()
	require.True(t, has)
	require.Equal(t, uint64(42), h)

	bad := roundTrip(t, types.BlockQueryResponse{Error: &types.BlockErrorResponse{Message: "stateful invalid"}})
	require.True(t, bad.IsError())
	require.Nil(t, bad.Block)
	_, has = bad.Height()
	require.False(t, has)
}

func TestQueryResponse_ErrorIs(t *testing.T) {
	var nilResp *types.QueryResponse
	require.False(t, nilResp.IsError())

	resp := &types.QueryResponse{Error: &types.ErrorQueryResponse{
		Kind: types.ErrorStatefulFailed, Message: "query signatories did not pass validation", Code: 3,
	}}
	require.True(t, resp.ErrorIs(types.ErrorStatefulFailed))
	require.False(t, resp.ErrorIs(types.ErrorNoAccount))
	require.Equal(t, "StatefulFailed", resp.Error.Kind.String())
}
