package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceflow/internal/analysis"
	"invoiceflow/internal/config"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/ocr"
	"invoiceflow/internal/pipeline"
	"invoiceflow/internal/store"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run OCR, field extraction and duplicate detection on an invoice document",
	Long: `Process an invoice PDF or image end to end and store the result for review.

Phase 1 extracts text: the PDF text layer is tried first and Google Cloud
Vision is used for scans and images. The text is stored before analysis
starts. Phase 2 structures the stored text with the selected pathway
(OpenAI, Document AI or pattern matching). A failing AI pathway falls back
to pattern matching. The invoice is then checked against the company's
other invoices for duplicates.

Environment variables:
  GOOGLE_APPLICATION_CREDENTIALS / GOOGLE_CREDENTIALS - Vision OCR and Document AI
  OPENAI_API_KEY, OPENAI_MODEL                         - openai pathway
  GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION,
  DOCUMENT_AI_PROCESSOR_ID                             - documentai pathway
  DATABASE_URL                                         - PostgreSQL store (default: STATE_FILE)`,
	Example: `  # Process a PDF with the default pathway
  invoiceflow process --file invoice.pdf --company acme

  # Use Document AI and save the outcome
  invoiceflow process --file scan.png --company acme --ai documentai -o outcome.json

  # Pattern matching only, no AI calls
  invoiceflow process --file invoice.pdf --company acme --ai regex`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("file", "f", "", "Invoice PDF or image to process (required)")
	processCmd.Flags().StringP("company", "c", "default", "Company the invoice belongs to")
	processCmd.Flags().String("ai", "", "Structuring pathway: openai, documentai or regex (default: openai when OPENAI_API_KEY is set, else regex)")
	processCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	processCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	_ = processCmd.MarkFlagRequired("file")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	filePath, _ := cmd.Flags().GetString("file")
	companyID, _ := cmd.Flags().GetString("company")
	pathway, _ := cmd.Flags().GetString("ai")
	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if pathway == "" {
		pathway = analysis.SourceRegex
		if cfg.OpenAIAPIKey != "" {
			pathway = analysis.SourceOpenAI
		}
	}

	log.Info().
		Str("file", filePath).
		Str("company_id", companyID).
		Str("ai", pathway).
		Int("timeout", timeoutSecs).
		Msg("Starting invoice processing")

	if _, err := validateInputFile(filePath, ocr.MaxFileSizeBytes, log); err != nil {
		return err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	doc := ocr.Document{
		Name:     filepath.Base(filePath),
		MimeType: ocr.DetectMimeType(filePath, data),
		Data:     data,
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	ocrService, closeOCR := createOCRService(ctx, cfg, doc, log)
	defer closeOCR()

	structurer, closeStructurer, err := createStructurer(ctx, cfg, pathway, log)
	if err != nil {
		return handleAnalysisError(err, log)
	}
	defer closeStructurer()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	processor, err := pipeline.NewProcessor(cfg.Pipeline(), pipeline.Deps{
		OCR:        ocrService,
		Structurer: structurer,
		Fallback:   analysis.NewRegexStructurer(cfg.ExtractionWeights(), cfg.DateOrder()),
		Invoices:   st,
	})
	if err != nil {
		return err
	}

	outcome, err := processor.Process(ctx, companyID, doc)
	if err != nil {
		return handleProcessError(err, log)
	}

	event := log.Info()
	if outcome.Duplicates.IsDuplicate {
		event = log.Warn()
	}
	event.
		Str("invoice_id", outcome.Invoice.ID).
		Str("status", string(outcome.Invoice.Status)).
		Str("level", string(outcome.Level)).
		Bool("duplicate", outcome.Duplicates.IsDuplicate).
		Msg("Invoice processing completed")

	return writeJSON(outcome, outputPath, log)
}

// createOCRService chains the PDF text layer with Google Vision. Vision is
// skipped when no Google credentials are configured; images then cannot be read.
func createOCRService(ctx context.Context, cfg *config.Config, doc ocr.Document, log zerolog.Logger) (ocr.Service, func()) {
	services := []ocr.Service{ocr.NewPDFTextService()}
	closer := func() {}

	if cfg.GoogleCredentials == "" && cfg.GoogleCredentialsFile == "" {
		if ocr.IsImage(doc.MimeType) {
			log.Warn().Msg("Google Cloud credentials not configured, images cannot be read without Vision OCR")
		}
		return ocr.NewChain(services...), closer
	}

	vision, err := ocr.NewVisionService(ctx, cfg.Vision())
	if err != nil {
		log.Warn().Err(err).Msg("Vision OCR unavailable, using PDF text layer only")
		return ocr.NewChain(services...), closer
	}
	services = append(services, vision)
	closer = func() {
		if err := vision.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Vision client")
		}
	}
	return ocr.NewChain(services...), closer
}

// createStructurer builds the structuring pathway selected by name.
func createStructurer(ctx context.Context, cfg *config.Config, pathway string, log zerolog.Logger) (analysis.Structurer, func(), error) {
	noop := func() {}

	switch strings.ToLower(pathway) {
	case analysis.SourceRegex:
		return analysis.NewRegexStructurer(cfg.ExtractionWeights(), cfg.DateOrder()), noop, nil
	case analysis.SourceOpenAI:
		s, err := analysis.NewOpenAIStructurer(cfg.OpenAI())
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case analysis.SourceDocumentAI, "documentai":
		s, err := analysis.NewDocumentAIStructurer(ctx, cfg.DocumentAI())
		if err != nil {
			return nil, noop, err
		}
		return s, closeWithLog(s, "Document AI", log), nil
	default:
		return nil, noop, fmt.Errorf("unknown --ai pathway %q (use openai, documentai or regex)", pathway)
	}
}

func closeWithLog(c io.Closer, name string, log zerolog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msgf("Failed to close %s client", name)
		}
	}
}

// handleProcessError provides user-friendly error messages for pipeline failures
func handleProcessError(err error, log zerolog.Logger) error {
	var pipeErr *pipeline.PipelineError
	if errors.As(err, &pipeErr) && pipeErr.Op == "RunOCR" {
		return handleOCRError(err, log)
	}

	switch {
	case errors.Is(err, pipeline.ErrRawTextMissing):
		log.Error().Err(err).Msg("Invoice processing failed")
		return fmt.Errorf("the invoice has no stored OCR text, run OCR first")
	case errors.Is(err, store.ErrNotFound):
		log.Error().Err(err).Msg("Invoice processing failed")
		return fmt.Errorf("invoice record not found in the store")
	default:
		return handleAnalysisError(err, log)
	}
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrFileTooLarge):
		return fmt.Errorf("file is too large (maximum 20MB). Try compressing or splitting the file")
	case errors.Is(err, ocr.ErrTooManyPages):
		return fmt.Errorf("PDF has too many pages (maximum 5 pages). Try splitting into smaller files")
	case errors.Is(err, ocr.ErrInvalidPDF):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity")
	case errors.Is(err, ocr.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported document format. Use a PDF, PNG, JPEG, TIFF, GIF or BMP file")
	case errors.Is(err, ocr.ErrNoTextLayer):
		return fmt.Errorf("the PDF has no text layer and Vision OCR is not available. Configure GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS to read scanned documents")
	case errors.Is(err, ocr.ErrEmptyDocument):
		return fmt.Errorf("no readable text found in the document. The file may be blank or corrupted")
	case errors.Is(err, ocr.ErrMissingCredentials),
		strings.Contains(errStr, "Unauthenticated"),
		strings.Contains(errStr, "invalid_grant"),
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check your credentials:\n\n"+
			"1. Set GOOGLE_APPLICATION_CREDENTIALS to your service account JSON file path\n"+
			"2. Or set GOOGLE_CREDENTIALS with inline JSON\n"+
			"3. Ensure the service account has the 'Cloud Vision API User' role\n\n"+
			"Original error: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Please ensure your Google Cloud service account has the 'Cloud Vision API User' role")
	case strings.Contains(errStr, "QUOTA_EXCEEDED"), strings.Contains(errStr, "quota"):
		return fmt.Errorf("Google Cloud Vision API quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. This may be due to network issues, API quota limits, or service unavailability: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

// handleAnalysisError provides user-friendly error messages for structuring failures
func handleAnalysisError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Invoice analysis failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("invoice analysis timed out. Try increasing --timeout or LLM_TIMEOUT")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("invoice analysis was canceled")
	case errors.Is(err, analysis.ErrMissingAPIKey):
		return fmt.Errorf("OpenAI API key not configured. Set OPENAI_API_KEY or use --ai regex")
	case errors.Is(err, analysis.ErrInvalidConfiguration):
		return fmt.Errorf("Document AI is not configured. Set GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID: %w", err)
	case errors.Is(err, analysis.ErrMissingCredentials), errors.Is(err, analysis.ErrInvalidCredentials):
		return fmt.Errorf("Google Cloud credentials are missing or invalid. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
	case errors.Is(err, analysis.ErrProcessorNotFound):
		return fmt.Errorf("Document AI processor not found. Check DOCUMENT_AI_PROCESSOR_ID and GOOGLE_CLOUD_LOCATION")
	case errors.Is(err, analysis.ErrQuotaExceeded):
		return fmt.Errorf("AI provider quota exceeded. Retry later or use --ai regex")
	case errors.Is(err, analysis.ErrEmptyText):
		return fmt.Errorf("no text to analyze, the document produced empty OCR output")
	default:
		return fmt.Errorf("invoice analysis failed: %w", err)
	}
}
