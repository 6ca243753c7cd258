// Command node runs a single-validator tolstake node: the pool engine, the
// block producer and the JSON-RPC endpoint.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "node",
		Short:        "Stake pool ledger node",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "config.json", "config file path")
	root.PersistentFlags().String("key", "validator.key", "keystore file path")

	root.AddCommand(newInitCmd(), newGenKeyCmd(), newRunCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// keystorePassword reads the keystore password from the environment; CLI
// flags would leak it via ps.
func keystorePassword() string {
	return os.Getenv("TOLSTAKE_PASSWORD")
}
