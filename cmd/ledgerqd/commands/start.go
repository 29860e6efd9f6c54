package commands

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blockberries/ledgerq/node"
)

func startCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the query node",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logger, err := newLogger(conf.LogLevel)
			if err != nil {
				return err
			}

			n, err := node.New(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			lis, err := net.Listen("tcp", conf.ListenAddr)
			if err != nil {
				return multierror.Append(fmt.Errorf("listen %s: %w", conf.ListenAddr, err), n.Close())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runErr := n.Run(ctx, lis)
			logger.Info().Msg("shutting down")
			return multierror.Append(runErr, n.Close()).ErrorOrNil()
		},
	}
	cmd.Flags().String("listen_addr", "", "gRPC listen address")
	cmd.Flags().String("metrics_addr", "", "Prometheus metrics listen address, empty to disable")
	cmd.Flags().String("db_dir", "", "block store directory, empty for in-memory")
	cmd.Flags().String("genesis_file", "", "genesis world state (JSON)")
	cmd.Flags().String("log_level", "", "log level (debug, info, warn, error)")
	cmd.Flags().Duration("dev.block_interval", 0, "produce an empty block at this interval, 0 to disable")
	return cmd
}
