// Package cmd implements the invoicectl commands. Every command runs the same
// services as the API server against the configured storage.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/invoice-sync/internal/app"
	"github.com/invoice-sync/internal/config"
)

var (
	version = "0.1.0"

	// Global flags
	companyID string
	timeout   time.Duration
	verbose   bool

	deps *app.App
)

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "Operate e-invoice sync jobs, imports and ledger links",
	Long: `invoicectl drives the invoice sync service from the command line.

It reads the same environment (.env) as the server and the worker and works
directly on the configured storage.

Examples:
  # Backfill three years of purchase invoices and wait for the job
  invoicectl sync run --company c1 --direction purchase

  # Import a CSV export, replacing everything not yet in the ledger
  invoicectl import csv invoices.csv --company c1 --clear

  # Post every pending sales invoice to the ledger
  invoicectl ledger import --company c1`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil {
			deps.Close()
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&companyID, "company", "", "Company id (env: INVOICECTL_COMPANY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall command timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

func setup(cmd *cobra.Command, args []string) error {
	if companyID == "" {
		companyID = os.Getenv("INVOICECTL_COMPANY")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	app.InitLogging(cfg)

	deps, err = app.New(cmd.Context(), cfg)
	return err
}

func requireCompany() error {
	if companyID == "" {
		return fmt.Errorf("--company is required")
	}
	return nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
