package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/ledgerq/config"
	ledgerqgrpc "github.com/blockberries/ledgerq/grpc"
	ledgerqtest "github.com/blockberries/ledgerq/testing"
	"github.com/blockberries/ledgerq/types"
)

func writeGenesis(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "genesis.json")
	doc := fmt.Sprintf(`{
  "roles": {"user": ["get_my_account", "get_blocks"]},
  "accounts": [
    {"id": "alice@test", "quorum": 1, "roles": ["user"], "signatories": [%q]}
  ]
}`, hex.EncodeToString(pub))
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))
	return file
}

func testConfig(t *testing.T, genesis string) *config.Config {
	conf := config.DefaultConfig()
	conf.MetricsAddr = ""
	conf.DBDir = filepath.Join(t.TempDir(), "blocks")
	conf.GenesisFile = genesis
	return conf
}

func startNode(t *testing.T, conf *config.Config) (*Node, *ledgerqgrpc.Client) {
	t.Helper()
	n, err := New(conf, zerolog.Nop())
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, lis) }()

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	client, err := ledgerqgrpc.Dial(dctx, lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, n.Close())
	})
	return n, client
}

func TestNode_QueryAndFollow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	n, client := startNode(t, testConfig(t, writeGenesis(t, pub)))
	ctx := context.Background()

	resp, err := client.QueryHandle(ctx, types.SignQuery(ledgerqtest.MakeQuery("alice@test"), priv))
	require.NoError(t, err)
	require.False(t, resp.IsError(), "%+v", resp.Error)
	require.Equal(t, types.AccountID("alice@test"), resp.Account.AccountID)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.CommitNext(ctx))
	}

	src, err := client.BlocksQueryHandle(ctx, types.SignBlocksQuery(ledgerqtest.MakeBlocksQuery(ledgerqtest.Height(2)), priv))
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, []uint64{2, 3}, ledgerqtest.CollectHeights(t, src, 2))
	require.NoError(t, n.CommitNext(ctx))
	require.Equal(t, []uint64{4}, ledgerqtest.CollectHeights(t, src, 1))
}

func TestNode_UnsignedBlocksQueryRejected(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, client := startNode(t, testConfig(t, writeGenesis(t, pub)))

	src, err := client.BlocksQueryHandle(context.Background(), ledgerqtest.MakeBlocksQuery(nil))
	require.NoError(t, err)
	defer src.Close()

	resp, err := src.Next(context.Background())
	require.NoError(t, err)
	require.True(t, resp.IsError())
}

func TestNode_DevProducer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	conf := testConfig(t, writeGenesis(t, pub))
	conf.Dev.BlockInterval = 10 * time.Millisecond
	_, client := startNode(t, conf)

	src, err := client.BlocksQueryHandle(context.Background(),
		types.SignBlocksQuery(ledgerqtest.MakeBlocksQuery(ledgerqtest.Height(1)), priv))
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, ledgerqtest.Sequence(1, 5), ledgerqtest.CollectHeights(t, src, 5))
}

func TestNode_ReopenKeepsChain(t *testing.T) {
	conf := testConfig(t, "")

	n, err := New(conf, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, n.CommitNext(context.Background()))
	}
	require.NoError(t, n.Close())

	n, err = New(conf, zerolog.Nop())
	require.NoError(t, err)
	defer n.Close()
	top, err := n.Store().TopBlockHeight(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, top)
	require.NoError(t, n.CommitNext(context.Background()))
}

func TestNode_BadGenesis(t *testing.T) {
	file := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(file, []byte("{"), 0o600))
	_, err := New(testConfig(t, file), zerolog.Nop())
	require.Error(t, err)
}
