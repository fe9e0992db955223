// Package pipeline runs invoice processing in two durable phases.
//
// Phase 1 (RunOCR) turns the uploaded document into raw text and persists it
// before anything else happens. Phase 2 (Analyze) reads only that persisted
// text, so it can be retried, or rerun with another structurer, without the
// original file. Every extracted invoice lands in needs_review; approval is a
// human decision.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoiceflow/internal/analysis"
	"invoiceflow/internal/confidence"
	"invoiceflow/internal/duplicates"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/ocr"
	"invoiceflow/internal/store"
	"invoiceflow/pkg/models"
)

// Config holds pipeline settings
type Config struct {
	OCRTimeout          time.Duration
	AnalysisTimeout     time.Duration
	DuplicateWindowDays int
	Policy              confidence.Policy
}

// DefaultConfig returns default pipeline settings
func DefaultConfig() Config {
	return Config{
		OCRTimeout:          60 * time.Second,
		AnalysisTimeout:     60 * time.Second,
		DuplicateWindowDays: duplicates.DefaultWindowDays,
		Policy:              confidence.DefaultPolicy(),
	}
}

// Deps are the processor's collaborators. Fallback defaults to the regex structurer.
type Deps struct {
	OCR        ocr.Service
	Structurer analysis.Structurer
	Fallback   analysis.Structurer
	Invoices   store.InvoiceStore
}

// Processor drives invoices through OCR, analysis and duplicate checks.
type Processor struct {
	cfg        Config
	ocr        ocr.Service
	structurer analysis.Structurer
	fallback   analysis.Structurer
	invoices   store.InvoiceStore
	log        zerolog.Logger
}

// Outcome summarizes a full Process run.
type Outcome struct {
	Invoice    *models.Invoice             `json:"invoice"`
	OCR        *ocr.Result                 `json:"ocr"`
	Level      confidence.Level            `json:"confidence_level"`
	Totals     extraction.TotalsValidation `json:"totals"`
	Duplicates duplicates.DuplicateCheck   `json:"duplicates"`
}

// NewProcessor creates a processor. Invoices is required; OCR and Structurer
// are only needed by the phases that use them.
func NewProcessor(cfg Config, deps Deps) (*Processor, error) {
	if deps.Invoices == nil {
		return nil, fmt.Errorf("NewProcessor: %w: invoice store", ErrMissingDependency)
	}
	defaults := DefaultConfig()
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = defaults.OCRTimeout
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaults.AnalysisTimeout
	}
	if cfg.DuplicateWindowDays <= 0 {
		cfg.DuplicateWindowDays = defaults.DuplicateWindowDays
	}
	if cfg.Policy == (confidence.Policy{}) {
		cfg.Policy = defaults.Policy
	}
	if deps.Fallback == nil {
		deps.Fallback = analysis.NewRegexStructurer(nil, 0)
	}
	if deps.Structurer == nil {
		deps.Structurer = deps.Fallback
	}

	return &Processor{
		cfg:        cfg,
		ocr:        deps.OCR,
		structurer: deps.Structurer,
		fallback:   deps.Fallback,
		invoices:   deps.Invoices,
		log:        logger.WithComponent("pipeline"),
	}, nil
}

// Ingest stores a new inbox invoice for an uploaded document.
func (p *Processor) Ingest(ctx context.Context, companyID string, doc ocr.Document) (*models.Invoice, error) {
	const op = "Ingest"

	if doc.MimeType == "" {
		doc.MimeType = ocr.DetectMimeType(doc.Name, doc.Data)
	}
	inv := &models.Invoice{
		CompanyID:     companyID,
		Status:        models.StatusInbox,
		AttachmentURL: doc.Name,
		MimeType:      doc.MimeType,
	}
	if err := p.invoices.Save(ctx, inv); err != nil {
		return nil, NewPipelineError(op, "", err)
	}

	invLog := logger.WithInvoice(p.log, inv.ID)
	invLog.Info().
		Str("company_id", companyID).
		Str("file", doc.Name).
		Str("mime_type", doc.MimeType).
		Msg("Invoice ingested")
	return inv, nil
}

// RunOCR is phase 1: extract text from the document and persist it. On
// success the invoice moves to needs_review; on failure it is left unchanged.
func (p *Processor) RunOCR(ctx context.Context, invoiceID string, doc ocr.Document) (*ocr.Result, error) {
	const op = "RunOCR"
	log := logger.WithInvoice(p.log, invoiceID)

	if p.ocr == nil {
		return nil, NewPipelineError(op, invoiceID, fmt.Errorf("%w: OCR service", ErrMissingDependency))
	}
	if _, err := p.invoices.Get(ctx, invoiceID); err != nil {
		return nil, NewPipelineError(op, invoiceID, err)
	}
	if doc.MimeType == "" {
		doc.MimeType = ocr.DetectMimeType(doc.Name, doc.Data)
	}

	ocrCtx, cancel := context.WithTimeout(ctx, p.cfg.OCRTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.ocr.Extract(ocrCtx, doc)
	if err != nil {
		log.Error().Err(err).Str("file", doc.Name).Msg("OCR failed")
		return nil, NewPipelineError(op, invoiceID, err)
	}

	if err := p.invoices.SaveRawText(ctx, invoiceID, result.Text, result.Confidence); err != nil {
		return nil, NewPipelineError(op, invoiceID, err)
	}

	log.Info().
		Str("source", result.Source).
		Int("pages", result.PageCount).
		Int("characters", len(result.Text)).
		Float64("confidence", result.Confidence).
		Dur("duration", time.Since(start)).
		Msg("OCR text persisted")
	return result, nil
}

// Analyze is phase 2: structure the persisted OCR text. A failing structurer
// is replaced by the fallback and the failure is noted on the result.
func (p *Processor) Analyze(ctx context.Context, invoiceID string) (*models.ExtractedInvoice, error) {
	const op = "Analyze"
	log := logger.WithInvoice(p.log, invoiceID)

	inv, err := p.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, NewPipelineError(op, invoiceID, err)
	}
	if strings.TrimSpace(inv.RawOCR) == "" {
		return nil, NewPipelineError(op, invoiceID, ErrRawTextMissing)
	}

	extracted, err := p.structure(ctx, inv.RawOCR)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewPipelineError(op, invoiceID, err)
		}
		log.Warn().Err(err).Msg("Structurer failed, falling back to pattern extraction")

		extracted, err = p.fallback.Structure(ctx, inv.RawOCR)
		if err != nil {
			return nil, NewPipelineError(op, invoiceID, err)
		}
		addNote(extracted, "primary extraction failed, fields from pattern matching")
	}

	totals := extraction.ValidateTotals(extracted)
	if !totals.Valid {
		log.Warn().Str("reason", totals.Message).Msg("Totals do not reconcile")
		addNote(extracted, totals.Message)
	}

	if err := p.invoices.SaveExtraction(ctx, invoiceID, extracted); err != nil {
		return nil, NewPipelineError(op, invoiceID, err)
	}

	log.Info().
		Str("source", extracted.Source).
		Int("fields", len(extracted.Confidence.Fields)).
		Float64("confidence", extracted.Confidence.Overall).
		Str("level", string(p.cfg.Policy.Classify(extracted.Confidence.Overall))).
		Msg("Extraction stored for review")
	return extracted, nil
}

func (p *Processor) structure(ctx context.Context, rawText string) (*models.ExtractedInvoice, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AnalysisTimeout)
	defer cancel()

	extracted, err := p.structurer.Structure(callCtx, rawText)
	if err != nil {
		return nil, err
	}
	if extracted == nil {
		return nil, fmt.Errorf("structurer returned no result")
	}
	return extracted, nil
}

// CheckDuplicates compares the invoice with the company's other invoices and
// marks it duplicate on a match.
func (p *Processor) CheckDuplicates(ctx context.Context, invoiceID string) (duplicates.DuplicateCheck, error) {
	const op = "CheckDuplicates"

	inv, err := p.invoices.Get(ctx, invoiceID)
	if err != nil {
		return duplicates.DuplicateCheck{}, NewPipelineError(op, invoiceID, err)
	}
	existing, err := p.invoices.ListByCompany(ctx, inv.CompanyID)
	if err != nil {
		return duplicates.DuplicateCheck{}, NewPipelineError(op, invoiceID, err)
	}

	// rejected invoices and earlier duplicates are not evidence
	candidates := existing[:0]
	for _, other := range existing {
		if other.Status != models.StatusRejected && other.Status != models.StatusDuplicate {
			candidates = append(candidates, other)
		}
	}

	if inv.VendorID == "" {
		if vendorID, ok := resolveVendorID(inv, candidates); ok {
			inv.VendorID = vendorID
			if err := p.invoices.Save(ctx, inv); err != nil {
				return duplicates.DuplicateCheck{}, NewPipelineError(op, invoiceID, err)
			}
			invLog := logger.WithInvoice(p.log, invoiceID)
			invLog.Debug().
				Str("vendor_id", vendorID).
				Msg("Vendor matched by name")
		}
	}

	check := duplicates.DetectDuplicateInvoice(*inv, candidates, p.cfg.DuplicateWindowDays)
	if !check.IsDuplicate {
		return check, nil
	}

	if err := p.invoices.UpdateStatus(ctx, invoiceID, models.StatusDuplicate); err != nil {
		return check, NewPipelineError(op, invoiceID, err)
	}

	matches := make([]string, 0, len(check.Matches))
	for _, m := range check.Matches {
		matches = append(matches, m.ID)
	}
	invLog := logger.WithInvoice(p.log, invoiceID)
	invLog.Warn().
		Strs("matches", matches).
		Msg("Invoice marked as duplicate")
	return check, nil
}

// resolveVendorID matches the invoice's extracted vendor name against the
// vendors already assigned on the company's other invoices.
func resolveVendorID(inv *models.Invoice, others []models.Invoice) (string, bool) {
	name := duplicates.VendorName(inv)
	if name == "" {
		return "", false
	}

	var known []duplicates.VendorCandidate
	seen := map[string]bool{}
	for i := range others {
		other := &others[i]
		otherName := duplicates.VendorName(other)
		if other.ID == inv.ID || other.VendorID == "" || otherName == "" || seen[other.VendorID+"|"+otherName] {
			continue
		}
		seen[other.VendorID+"|"+otherName] = true
		known = append(known, duplicates.VendorCandidate{ID: other.VendorID, Name: otherName})
	}

	match, _, ok := duplicates.MatchVendor(name, known, duplicates.DefaultVendorMatchThreshold)
	if !ok {
		return "", false
	}
	return match.ID, true
}

// Process runs ingest, both phases and the duplicate check for one document.
func (p *Processor) Process(ctx context.Context, companyID string, doc ocr.Document) (*Outcome, error) {
	inv, err := p.Ingest(ctx, companyID, doc)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	if out.OCR, err = p.RunOCR(ctx, inv.ID, doc); err != nil {
		return nil, err
	}
	extracted, err := p.Analyze(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	out.Level = p.cfg.Policy.Classify(extracted.Confidence.Overall)
	out.Totals = extraction.ValidateTotals(extracted)

	if out.Duplicates, err = p.CheckDuplicates(ctx, inv.ID); err != nil {
		return nil, err
	}
	if out.Invoice, err = p.invoices.Get(ctx, inv.ID); err != nil {
		return nil, NewPipelineError("Process", inv.ID, err)
	}
	return out, nil
}

func addNote(e *models.ExtractedInvoice, note string) {
	if e.Confidence.Notes == "" {
		e.Confidence.Notes = note
		return
	}
	e.Confidence.Notes += "; " + note
}
