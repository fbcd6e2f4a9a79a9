// Package cmd implements nfsectl, an operator CLI that runs the NFSe
// batches against the same database and ERP account as the server.
package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	logLevel string
	compact  bool
)

var rootCmd = &cobra.Command{
	Use:   "nfsectl",
	Short: "Run NFSe batches from the command line",
	Long: `nfsectl drives the NFSe pipeline without going through the HTTP API.

It reads the same NFSE_* environment variables and config.yaml as the server.

Examples:
  # Create RPS records for three ERP orders
  nfsectl generate 1001 1002 1003

  # Submit queued records to the municipal processor
  nfsectl submit 6f1c7c2e-0c4e-4a57-9a55-3f5f0d1c2b11

  # Reconcile processing records
  nfsectl sync

  # Print the ERP consent URL
  nfsectl authorize-url`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&compact, "compact", false, "Print JSON on a single line")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
