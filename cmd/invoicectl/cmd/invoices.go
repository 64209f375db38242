package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Maintain stored invoices",
}

var invoicesEnrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill in invoices that arrived without their document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		enriched, err := deps.Reconciliation.EnrichIncomplete(ctx, companyID)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, map[string]int{"enriched": enriched})
	},
}

var invoicesDeleteCmd = &cobra.Command{
	Use:   "delete <invoice-id>...",
	Short: "Delete invoices from the local archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		for _, id := range args {
			if err := deps.Reconciliation.Delete(ctx, id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Fprintf(os.Stderr, "Deleted %s\n", id)
		}
		return nil
	},
}

var invoicesDocumentCmd = &cobra.Command{
	Use:   "document <remote-id>",
	Short: "Write the invoice XML to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		content, err := deps.Reconciliation.Document(ctx, companyID, args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(content)
		return err
	},
}

func init() {
	rootCmd.AddCommand(invoicesCmd)
	invoicesCmd.AddCommand(invoicesEnrichCmd, invoicesDeleteCmd, invoicesDocumentCmd)
}
