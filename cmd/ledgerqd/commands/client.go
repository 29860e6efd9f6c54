package commands

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	ledgerqgrpc "github.com/blockberries/ledgerq/grpc"
	"github.com/blockberries/ledgerq/types"
)

const dialTimeout = 5 * time.Second

// clientFlags are shared by the commands talking to a running node.
// The key may also be given as LEDGERQ_KEY.
func clientFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagAddr, "127.0.0.1:50051", "node gRPC address")
	cmd.Flags().String("account", "", "creator account id (name@domain)")
	cmd.Flags().String("key", "", "hex-encoded ed25519 private key of the creator")
	cmd.Flags().Uint64("counter", 1, "query counter")
}

type clientSettings struct {
	Addr    string
	Account types.AccountID
	Key     ed25519.PrivateKey
	Counter uint64
}

func loadClientSettings(cmd *cobra.Command, v *viper.Viper) (clientSettings, error) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return clientSettings{}, err
	}
	v.SetEnvPrefix("LEDGERQ")
	v.AutomaticEnv()

	s := clientSettings{
		Addr:    v.GetString(flagAddr),
		Account: types.AccountID(v.GetString("account")),
		Counter: v.GetUint64("counter"),
	}
	if s.Account == "" {
		return s, errors.New("--account is required")
	}
	raw, err := hex.DecodeString(v.GetString("key"))
	if err != nil {
		return s, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return s, fmt.Errorf("key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	s.Key = ed25519.PrivateKey(raw)
	return s, nil
}

func dial(ctx context.Context, addr string) (*ledgerqgrpc.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return ledgerqgrpc.Dial(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func queryCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query {account|signatories|detail|block} <target>",
		Short: "Send a signed point query to a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadClientSettings(cmd, v)
			if err != nil {
				return err
			}
			payload, err := parsePayload(args[0], args[1], v.GetString("detail-key"))
			if err != nil {
				return err
			}
			q := types.SignQuery(types.Query{
				CreatorAccountID: s.Account,
				QueryCounter:     s.Counter,
				CreatedTime:      types.Now(),
				Payload:          payload,
			}, s.Key)

			client, err := dial(cmd.Context(), s.Addr)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.QueryHandle(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	clientFlags(cmd)
	cmd.Flags().String("detail-key", "", "restrict a detail query to one key")
	return cmd
}

func parsePayload(kind, target, detailKey string) (types.QueryPayload, error) {
	switch kind {
	case "account":
		return types.QueryPayload{GetAccount: &types.GetAccount{AccountID: types.AccountID(target)}}, nil
	case "signatories":
		return types.QueryPayload{GetSignatories: &types.GetSignatories{AccountID: types.AccountID(target)}}, nil
	case "detail":
		return types.QueryPayload{GetAccountDetail: &types.GetAccountDetail{
			AccountID: types.AccountID(target),
			Key:       detailKey,
		}}, nil
	case "block":
		height, err := strconv.ParseUint(target, 10, 64)
		if err != nil {
			return types.QueryPayload{}, fmt.Errorf("block height: %w", err)
		}
		return types.QueryPayload{GetBlock: &types.GetBlock{Height: height}}, nil
	default:
		return types.QueryPayload{}, fmt.Errorf("unknown query kind %q", kind)
	}
}

func tailCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow committed blocks, optionally replaying from a height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadClientSettings(cmd, v)
			if err != nil {
				return err
			}
			q := types.BlocksQuery{
				CreatorAccountID: s.Account,
				QueryCounter:     s.Counter,
				CreatedTime:      types.Now(),
			}
			if cmd.Flags().Changed("from") {
				from := v.GetUint64("from")
				q.Height = &from
			}
			q = types.SignBlocksQuery(q, s.Key)

			client, err := dial(cmd.Context(), s.Addr)
			if err != nil {
				return err
			}
			defer client.Close()

			src, err := client.BlocksQueryHandle(cmd.Context(), q)
			if err != nil {
				return err
			}
			defer src.Close()

			for {
				resp, err := src.Next(cmd.Context())
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if resp.IsError() {
					return fmt.Errorf("stream rejected: %s", resp.Error.Message)
				}
				b := resp.Block
				fmt.Fprintf(cmd.OutOrStdout(), "%d %s txs=%d time=%s\n",
					b.Height, b.Hash(), len(b.Txs), b.CreatedTime.ToTime().UTC().Format(time.RFC3339Nano))
			}
		},
	}
	clientFlags(cmd)
	cmd.Flags().Uint64("from", 1, "replay committed blocks from this height before following")
	return cmd
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for signing queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"public_key":  hex.EncodeToString(pub),
				"private_key": hex.EncodeToString(priv),
			})
		},
	}
}
