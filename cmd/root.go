// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"staking-reward-ledger/config"
	"staking-reward-ledger/logging"
)

var rootCmd = &cobra.Command{
	Use:   "staking-ledger",
	Short: "NFT staking reward and governance ledger",
	Long: `Tracks NFT staking positions, credits rewards exactly once per event,
pays out claims through the treasury signer and runs stake-weighted
governance votes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newAccrueCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newDeriveCmd())
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and configures the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(os.Stdout, cfg.LogFormat, cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}
