package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invoice-sync/internal/service"
	"github.com/invoice-sync/internal/types"
)

var (
	clearExisting bool
	companyTaxID  string
	xmlDirection  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import invoices from files",
}

var importCSVCmd = &cobra.Command{
	Use:   "csv <file>",
	Short: "Import a CSV export",
	Long: fmt.Sprintf(`Import a CSV export in chunks.

The header must be: %v
Malformed rows are reported and skipped; the rest of the file is imported.
With --clear, invoices of the company that are not yet in the ledger are
deleted before the first chunk.`, service.CSVColumns),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		batch := deps.Imports.ImportCSV(ctx, companyID, content, clearExisting)
		return printJSON(os.Stdout, batch)
	},
}

var importXMLCmd = &cobra.Command{
	Use:   "xml <file>...",
	Short: "Import single invoice XML documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		input := service.XMLImportInput{CompanyID: companyID, CompanyTaxID: companyTaxID}
		if xmlDirection != "" {
			dir, err := types.ParseDirection(xmlDirection)
			if err != nil {
				return err
			}
			input.Direction = dir
		} else if companyTaxID == "" {
			return fmt.Errorf("either --direction or --tax-id is required")
		}

		results := make(map[string]interface{}, len(args))
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			results[path] = deps.Imports.ImportXML(ctx, input, content)
		}
		return printJSON(os.Stdout, results)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importCSVCmd, importXMLCmd)

	importCSVCmd.Flags().BoolVar(&clearExisting, "clear", false, "Delete invoices not yet in the ledger before importing")
	importXMLCmd.Flags().StringVarP(&xmlDirection, "direction", "d", "", "purchase or sales")
	importXMLCmd.Flags().StringVar(&companyTaxID, "tax-id", "", "Company tax id, to derive the direction from the document")
}
