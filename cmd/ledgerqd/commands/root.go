// Package commands implements the ledgerqd command line.
package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blockberries/ledgerq/config"
)

const (
	flagConfig = "config"
	flagAddr   = "addr"
)

// RootCommand constructs the root command-line entry point.
func RootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "ledgerqd",
		Short:         "Ledger query node: point queries and committed block streams",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().String(flagConfig, "", "path to a config file")
	cmd.AddCommand(
		startCommand(v),
		queryCommand(v),
		tailCommand(v),
		keygenCommand(),
	)
	return cmd
}

// loadConfig binds the command flags into v and loads the config.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	file, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, err
	}
	return config.Load(v, file)
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl), nil
}
