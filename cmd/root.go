package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoiceflow/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoiceflow",
	Short: "Invoiceflow - invoice extraction, review and accounting sync",
	Long: `Invoiceflow turns invoice documents into structured, reviewable records
and pushes approved invoices into accounting systems.

Documents are processed in two phases: OCR text is extracted and stored
first, then structured into invoice fields with a confidence score per
field. Every extracted invoice lands in review; approved invoices can be
synced to QuickBooks, an Excel workbook or a Google Sheet.

Configuration is read from the environment (and a .env file if present).`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Invoiceflow CLI executed")

		fmt.Println("Welcome to Invoiceflow!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
