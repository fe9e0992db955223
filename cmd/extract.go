package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceflow/internal/confidence"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/normalize"
	"invoiceflow/internal/ocr"
	"invoiceflow/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract invoice fields from OCR text with pattern matching",
	Long: `Parse raw invoice text (for example OCR output) into structured fields
using the pattern extractor. No network calls are made.

Each extracted field carries a confidence score. The overall score decides
the review level, and the totals are checked against the line items.

Environment variables:
  DATE_ORDER                 - MDY (default) or DMY for ambiguous dates
  CONFIDENCE_WEIGHTS         - per-field overrides, e.g. "total=0.9,vendor_name=0.6"
  REVIEW_THRESHOLD           - below this an invoice needs careful review (default 0.7)
  HIGH_CONFIDENCE_THRESHOLD  - at or above this confidence is high (default 0.9)`,
	Example: `  # Extract fields from OCR text
  invoiceflow extract --text invoice.txt

  # Read text from stdin and treat 03/04/2024 as 3 April
  cat invoice.txt | invoiceflow extract --text - --date-order DMY

  # Save the result
  invoiceflow extract --text invoice.txt -o extracted.json`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

// ExtractOutput is the JSON written by the extract command.
type ExtractOutput struct {
	Invoice *models.ExtractedInvoice    `json:"invoice"`
	Level   confidence.Level            `json:"confidence_level"`
	Totals  extraction.TotalsValidation `json:"totals"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("text", "t", "", "Text file to parse, or - for stdin (required)")
	extractCmd.Flags().String("date-order", "", "Override DATE_ORDER (MDY or DMY)")
	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	_ = extractCmd.MarkFlagRequired("text")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	textPath, _ := cmd.Flags().GetString("text")
	dateOrderFlag, _ := cmd.Flags().GetString("date-order")
	outputPath, _ := cmd.Flags().GetString("output")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	order := cfg.DateOrder()
	if dateOrderFlag != "" {
		order, err = normalize.ParseDateOrder(dateOrderFlag)
		if err != nil {
			return fmt.Errorf("invalid --date-order: %w", err)
		}
	}

	text, err := readText(textPath, log)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to extract from %s", textPath)
	}

	log.Info().
		Str("file", textPath).
		Stringer("date_order", order).
		Int("characters", len(text)).
		Msg("Starting field extraction")

	extracted := extraction.NewExtractor(cfg.ExtractionWeights(), order).Parse(text)
	out := ExtractOutput{
		Invoice: extracted,
		Level:   cfg.ReviewPolicy().Classify(extracted.Confidence.Overall),
		Totals:  extraction.ValidateTotals(extracted),
	}
	if !out.Totals.Valid {
		log.Warn().Str("reason", out.Totals.Message).Msg("Totals do not reconcile")
	}

	log.Info().
		Int("fields", len(extracted.Confidence.Fields)).
		Float64("confidence", extracted.Confidence.Overall).
		Str("level", string(out.Level)).
		Msg("Extraction completed")

	return writeJSON(out, outputPath, log)
}

// readText reads a text input file, or stdin for "-".
func readText(path string, log zerolog.Logger) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, ocr.MaxFileSizeBytes))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	if _, err := validateInputFile(path, ocr.MaxFileSizeBytes, log); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
