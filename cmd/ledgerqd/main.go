package main

import (
	"os"

	"github.com/blockberries/ledgerq/cmd/ledgerqd/commands"
)

func main() {
	if err := commands.RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
