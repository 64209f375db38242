package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Post sales invoices to the ledger and repair links",
}

var ledgerImportCmd = &cobra.Command{
	Use:   "import [invoice-id]...",
	Short: "Post sales invoices to the ledger",
	Long: `Post the given sales invoices to the ledger, or every pending sales invoice
of --company when no id is given. Invoices already in the ledger are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		if len(args) > 0 {
			return printJSON(os.Stdout, deps.Reconciliation.BulkImportByIDs(ctx, companyID, args))
		}

		var pending []*models.StoredInvoice
		filter := models.InvoiceFilter{
			CompanyID:   companyID,
			Direction:   types.DirectionSales,
			LocalStatus: types.LocalStatusPending,
			Limit:       500,
		}
		for {
			page, total, err := deps.Reconciliation.List(ctx, filter)
			if err != nil {
				return err
			}
			pending = append(pending, page...)
			filter.Offset += len(page)
			if len(page) == 0 || filter.Offset >= total {
				break
			}
		}
		if len(pending) == 0 {
			fmt.Fprintln(os.Stderr, "No pending sales invoices")
		}
		return printJSON(os.Stdout, deps.Reconciliation.BulkImportToLedger(ctx, pending))
	},
}

var ledgerSyncMissingCmd = &cobra.Command{
	Use:   "sync-missing",
	Short: "Re-create ledger entries that were deleted on the ledger side",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		relinked, err := deps.Reconciliation.SyncMissingLedgerEntries(ctx, companyID)
		if printErr := printJSON(os.Stdout, map[string]int{"relinked": relinked}); printErr != nil {
			return printErr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerImportCmd, ledgerSyncMissingCmd)
}
