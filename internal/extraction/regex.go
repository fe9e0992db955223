// Package extraction pulls structured invoice fields out of raw OCR text with
// regular expressions. It needs no external service and is used when the AI
// structuring step is unavailable or fails, and as a baseline to compare
// against.
package extraction

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"invoiceflow/internal/confidence"
	"invoiceflow/internal/normalize"
	"invoiceflow/pkg/models"
)

// SourceRegex tags results produced by this package.
const SourceRegex = "regex"

var (
	invoiceNumberPattern  = regexp.MustCompile(`(?i)(?:invoice|inv)\s*(?:number|no|#)?\s*:?\s*([A-Z0-9-]+)`)
	poNumberPattern       = regexp.MustCompile(`(?i)\b(?:po|purchase\s*order)\s*(?:number|no|#)?\s*:?\s*([A-Z0-9-]+)`)
	datePattern           = regexp.MustCompile(`(?i)(?:invoice\s*)?(?:date|dated?|date\s+of\s+issue)\s*:?\s*(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`)
	standaloneDatePattern = regexp.MustCompile(`\b(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})\b`)
	dueDatePattern        = regexp.MustCompile(`(?i)(?:due\s*date|payment\s*due)\s*:?\s*(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`)
	totalPattern          = regexp.MustCompile(`(?i)\b(?:total|grand\s*total|amount\s*due|total\s*amount|gross\s*worth)\s*:?\s*\$?\s*([\d \t,]+\.?\d{0,2})`)
	subtotalPattern       = regexp.MustCompile(`(?i)\b(?:subtotal|sub-total|sub\s*total|net\s*worth)\s*:?\s*\$?\s*([\d \t,]+\.?\d{0,2})`)
	taxPattern            = regexp.MustCompile(`(?i)\b(?:tax|vat|gst|sales\s*tax)\s*:?\s*\$?\s*([\d \t,]+\.?\d{0,2})`)
	emailPattern          = regexp.MustCompile(`([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	vendorPattern         = regexp.MustCompile(`(?i)\b(?:from|seller|vendor|bill\s*from)\s*:?\s*(.+?)(?:\n|$)`)
)

// Extractor applies the field patterns with a configurable weight table and
// date convention. The zero value is not usable; use NewExtractor.
type Extractor struct {
	weights Weights
	order   normalize.DateOrder
}

// NewExtractor creates an extractor. A nil weight table selects DefaultWeights.
func NewExtractor(weights Weights, order normalize.DateOrder) *Extractor {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Extractor{weights: weights, order: order}
}

// ParseInvoiceData extracts fields with the default weights and US date order.
func ParseInvoiceData(rawText string) *models.ExtractedInvoice {
	return NewExtractor(nil, normalize.MonthFirst).Parse(rawText)
}

// Parse extracts every field it can find in rawText. It never fails: fields
// that cannot be found or parsed stay nil and contribute no confidence.
func (e *Extractor) Parse(rawText string) *models.ExtractedInvoice {
	result := models.NewExtractedInvoice(SourceRegex)
	conf := &result.Confidence

	lines := nonEmptyLines(rawText)

	if name := firstCapture(vendorPattern, rawText, notBlank); name != "" {
		result.Vendor.Name = models.Ptr(name)
		confidence.Set(conf, FieldVendorName, e.weights.Get(FieldVendorName))
	} else if len(lines) > 0 {
		result.Vendor.Name = models.Ptr(lines[0])
		confidence.Set(conf, FieldVendorName, e.weights.Get(WeightVendorNameFallback))
	}

	if number := firstCapture(invoiceNumberPattern, rawText, hasDigit); number != "" {
		result.InvoiceNumber = models.Ptr(number)
		confidence.Set(conf, FieldInvoiceNumber, e.weights.Get(FieldInvoiceNumber))
	}

	if date, ok := e.firstDate(datePattern, rawText); ok {
		result.InvoiceDate = models.Ptr(date)
		confidence.Set(conf, FieldInvoiceDate, e.weights.Get(FieldInvoiceDate))
	} else if date, ok := e.firstDate(standaloneDatePattern, rawText); ok {
		result.InvoiceDate = models.Ptr(date)
		confidence.Set(conf, FieldInvoiceDate, e.weights.Get(WeightInvoiceDateFallback))
	}

	if date, ok := e.firstDate(dueDatePattern, rawText); ok {
		result.DueDate = models.Ptr(date)
		confidence.Set(conf, FieldDueDate, e.weights.Get(FieldDueDate))
	}

	if amount := firstPositiveAmount(totalPattern, rawText); amount != nil {
		result.Total = amount
		confidence.Set(conf, FieldTotal, e.weights.Get(FieldTotal))
	}
	if amount := firstPositiveAmount(subtotalPattern, rawText); amount != nil {
		result.Subtotal = amount
		confidence.Set(conf, FieldSubtotal, e.weights.Get(FieldSubtotal))
	}
	if amount := firstPositiveAmount(taxPattern, rawText); amount != nil {
		result.TaxTotal = amount
		confidence.Set(conf, FieldTaxTotal, e.weights.Get(FieldTaxTotal))
	}

	if email := firstCapture(emailPattern, rawText, notBlank); email != "" {
		result.Vendor.Email = models.Ptr(email)
		confidence.Set(conf, FieldVendorEmail, e.weights.Get(FieldVendorEmail))
	}

	if po := firstCapture(poNumberPattern, rawText, hasDigit); po != "" {
		result.PONumber = models.Ptr(po)
		confidence.Set(conf, FieldPONumber, e.weights.Get(FieldPONumber))
	}

	return result
}

func (e *Extractor) firstDate(pattern *regexp.Regexp, text string) (string, bool) {
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		if date, ok := normalize.NormalizeDate(m[1], e.order); ok {
			return date, true
		}
	}
	return "", false
}

// firstCapture returns the first trimmed capture group accepted by keep.
// Identifier patterns also match words like "Invoice Date", so callers
// require at least one digit there. Matches may overlap: after a rejected
// match the search resumes one rune past where it started.
func firstCapture(pattern *regexp.Regexp, text string, keep func(string) bool) string {
	for offset := 0; offset < len(text); {
		loc := pattern.FindStringSubmatchIndex(text[offset:])
		if loc == nil || loc[2] < 0 {
			return ""
		}
		if v := strings.TrimSpace(text[offset+loc[2] : offset+loc[3]]); keep(v) {
			return v
		}
		_, size := utf8.DecodeRuneInString(text[offset+loc[0]:])
		offset += loc[0] + max(size, 1)
	}
	return ""
}

// firstPositiveAmount returns the first captured amount that parses to a
// strictly positive value. Zero and negative amounts count as not found.
func firstPositiveAmount(pattern *regexp.Regexp, text string) *float64 {
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		if v, ok := normalize.ParseAmount(m[1]); ok && v > 0 {
			return models.Ptr(v)
		}
	}
	return nil
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func notBlank(s string) bool {
	return s != ""
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
