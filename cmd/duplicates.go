package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"invoiceflow/internal/duplicates"
	"invoiceflow/internal/logger"
	"invoiceflow/pkg/models"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Find duplicate invoices in a JSON list",
	Long: `Group invoices that appear to describe the same bill.

Invoices match on the same invoice number and total, on the same vendor
and total within the date window, or on near-identical OCR text. Each
invoice appears in at most one group.

With --candidate, only that invoice is checked against the others, using
the ingest rule (same vendor and invoice number, total within 1%).

The input is a JSON array of invoice records as written by "process".`,
	Example: `  # Group duplicates in an export
  invoiceflow duplicates --input invoices.json

  # Check one invoice against the rest with a 30 day window
  invoiceflow duplicates --input invoices.json --candidate inv-123 --window-days 30`,
	Args: cobra.NoArgs,
	RunE: runDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().StringP("input", "i", "", "JSON file with an array of invoices (required)")
	duplicatesCmd.Flags().Int("window-days", 0, "Date window in days (default: DUPLICATE_WINDOW_DAYS)")
	duplicatesCmd.Flags().String("candidate", "", "Check only this invoice ID against the others")
	duplicatesCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	_ = duplicatesCmd.MarkFlagRequired("input")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("duplicates")

	inputPath, _ := cmd.Flags().GetString("input")
	windowDays, _ := cmd.Flags().GetInt("window-days")
	candidateID, _ := cmd.Flags().GetString("candidate")
	outputPath, _ := cmd.Flags().GetString("output")

	if windowDays < 0 {
		return fmt.Errorf("--window-days must be positive")
	}
	if windowDays == 0 {
		cfg, err := loadConfig(log)
		if err != nil {
			return err
		}
		windowDays = cfg.DuplicateWindowDays
	}

	var invoices []models.Invoice
	if err := readJSONFile(inputPath, &invoices, log); err != nil {
		return err
	}

	log.Info().
		Str("file", inputPath).
		Int("invoices", len(invoices)).
		Int("window_days", windowDays).
		Str("candidate", candidateID).
		Msg("Starting duplicate detection")

	if candidateID != "" {
		return runCandidateCheck(invoices, candidateID, windowDays, outputPath)
	}

	groups := duplicates.DetectDuplicates(invoices, windowDays)
	if groups == nil {
		groups = []models.DuplicateMatch{}
	}

	log.Info().
		Int("groups", len(groups)).
		Msg("Duplicate detection completed")

	return writeJSON(groups, outputPath, log)
}

func runCandidateCheck(invoices []models.Invoice, candidateID string, windowDays int, outputPath string) error {
	log := logger.WithComponent("duplicates")

	var (
		candidate *models.Invoice
		others    []models.Invoice
	)
	for i := range invoices {
		if invoices[i].ID == candidateID && candidate == nil {
			candidate = &invoices[i]
			continue
		}
		others = append(others, invoices[i])
	}
	if candidate == nil {
		return fmt.Errorf("invoice %q not found in input", candidateID)
	}

	check := duplicates.DetectDuplicateInvoice(*candidate, others, windowDays)
	if check.Matches == nil {
		check.Matches = []models.Invoice{}
	}

	log.Info().
		Str("invoice_id", candidateID).
		Bool("duplicate", check.IsDuplicate).
		Int("matches", len(check.Matches)).
		Msg("Duplicate check completed")

	return writeJSON(check, outputPath, log)
}
