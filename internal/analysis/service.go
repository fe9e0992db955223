// Package analysis structures raw OCR text into the canonical ExtractedInvoice.
//
// Three pathways populate the same schema:
//   - OpenAIStructurer: chat completion returning a JSON object, validated and
//     mapped by ParseLLMResponse.
//   - DocumentAIStructurer: Google Document AI invoice entities with
//     per-entity confidence.
//   - RegexStructurer: the local pattern extractor, used as the fallback.
//
// Every pathway reads only the persisted OCR text, never the original file.
package analysis

import (
	"context"

	"invoiceflow/internal/extraction"
	"invoiceflow/internal/normalize"
	"invoiceflow/pkg/models"
)

// Result sources recorded in ExtractedInvoice.Source.
const (
	SourceOpenAI     = "openai"
	SourceDocumentAI = "document_ai"
	SourceRegex      = extraction.SourceRegex
)

// Field names recorded in Confidence.Fields in addition to the regex extractor's.
const (
	FieldVendorAddress = "vendor_address"
	FieldVendorTaxID   = "vendor_tax_id"
	FieldCurrency      = "currency"
	FieldPaymentTerms  = "payment_terms"
	FieldDiscount      = "discount"
	FieldLineItems     = "line_items"
)

// Structurer turns raw OCR text into a structured invoice.
type Structurer interface {
	Structure(ctx context.Context, rawText string) (*models.ExtractedInvoice, error)
}

// RegexStructurer adapts the pattern extractor to the Structurer interface.
type RegexStructurer struct {
	extractor *extraction.Extractor
}

// NewRegexStructurer creates the fallback structurer. A nil weight table
// selects the default weights.
func NewRegexStructurer(weights extraction.Weights, order normalize.DateOrder) *RegexStructurer {
	return &RegexStructurer{extractor: extraction.NewExtractor(weights, order)}
}

// Structure never fails on content; it only reports cancellation.
func (r *RegexStructurer) Structure(ctx context.Context, rawText string) (*models.ExtractedInvoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapAnalysisError("RegexStructurer.Structure", err, "")
	}
	return r.extractor.Parse(rawText), nil
}
