package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"invoiceflow/internal/confidence"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/normalize"
	"invoiceflow/pkg/models"
)

// DefaultModelConfidence is assigned to every returned field when the model
// does not report a usable overall confidence.
const DefaultModelConfidence = 0.8

var codeFence = regexp.MustCompile("```[A-Za-z]*")

// ParseLLMResponse extracts the first top-level JSON object from a model
// reply, validates it against the invoice schema and maps it onto the
// canonical ExtractedInvoice. Markdown code fences around the object are
// ignored. Any failure wraps ErrMalformedResponse.
func ParseLLMResponse(text string) (*models.ExtractedInvoice, error) {
	return parseLLMResponse(text, normalize.MonthFirst, SourceOpenAI)
}

func parseLLMResponse(text string, order normalize.DateOrder, source string) (*models.ExtractedInvoice, error) {
	const op = "ParseLLMResponse"

	span, err := extractJSONObject(text)
	if err != nil {
		return nil, NewAnalysisError(op, fmt.Errorf("%w: %v", ErrMalformedResponse, err), "")
	}

	var doc any
	if err := json.Unmarshal([]byte(span), &doc); err != nil {
		return nil, NewAnalysisError(op, fmt.Errorf("%w: %v", ErrMalformedResponse, err), "")
	}
	if err := validateAgainstSchema(doc); err != nil {
		return nil, NewAnalysisError(op, fmt.Errorf("%w: %v", ErrMalformedResponse, err), "")
	}

	var payload llmInvoice
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return nil, NewAnalysisError(op, fmt.Errorf("%w: %v", ErrMalformedResponse, err), "")
	}

	return payload.toExtracted(order, source), nil
}

// extractJSONObject returns the first balanced {...} span, skipping braces
// inside string literals.
func extractJSONObject(text string) (string, error) {
	cleaned := codeFence.ReplaceAllString(text, "")

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", errors.New("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON object")
}

// llmInvoice mirrors the requested reply. financial_summary and vendor_name
// are accepted as alternative spellings of the flat fields.
type llmInvoice struct {
	Vendor           llmVendor      `json:"vendor"`
	VendorName       flexText       `json:"vendor_name"`
	InvoiceNumber    flexText       `json:"invoice_number"`
	PONumber         flexText       `json:"po_number"`
	InvoiceDate      flexText       `json:"invoice_date"`
	DueDate          flexText       `json:"due_date"`
	Currency         flexText       `json:"currency"`
	PaymentTerms     flexText       `json:"payment_terms"`
	Subtotal         flexAmount     `json:"subtotal"`
	TaxTotal         flexAmount     `json:"tax_total"`
	Discount         flexAmount     `json:"discount"`
	Total            flexAmount     `json:"total"`
	FinancialSummary *llmSummary    `json:"financial_summary"`
	LineItems        []llmLineItem  `json:"line_items"`
	Confidence       *llmConfidence `json:"confidence"`
}

type llmVendor struct {
	Name    flexText `json:"name"`
	Email   flexText `json:"email"`
	Address flexText `json:"address"`
	TaxID   flexText `json:"tax_id"`
}

// UnmarshalJSON also accepts a bare vendor name string.
func (v *llmVendor) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return v.Name.UnmarshalJSON(trimmed)
	}
	type plain llmVendor
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*v = llmVendor(p)
	return nil
}

type llmSummary struct {
	Subtotal flexAmount `json:"subtotal"`
	TaxTotal flexAmount `json:"tax_total"`
	Discount flexAmount `json:"discount"`
	Total    flexAmount `json:"total"`
}

type llmLineItem struct {
	Description flexText   `json:"description"`
	Quantity    flexAmount `json:"quantity"`
	UnitPrice   flexAmount `json:"unit_price"`
	Amount      flexAmount `json:"amount"`
	Total       flexAmount `json:"total"`
	TaxAmount   flexAmount `json:"tax_amount"`
}

type llmConfidence struct {
	Overall flexAmount `json:"overall"`
	Notes   flexText   `json:"notes"`
}

// flexText holds a trimmed non-empty string; numbers are kept in their JSON spelling.
type flexText struct {
	value *string
}

func (f *flexText) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s != "" && !strings.EqualFold(s, "null") {
			f.value = &s
		}
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		f.value = &s
	}
	return nil
}

// flexAmount holds a number given either as a JSON number or as a formatted string.
type flexAmount struct {
	value *float64
}

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		f.value = &t
	case string:
		f.value = normalize.ParseAmountPtr(t)
	}
	return nil
}

// firstAmount returns the first positive amount. Zero and negative values
// count as not found, as in pattern extraction.
func firstAmount(values ...flexAmount) *float64 {
	for _, v := range values {
		if v.value != nil && *v.value > 0 {
			return v.value
		}
	}
	return nil
}

func (p *llmInvoice) toExtracted(order normalize.DateOrder, source string) *models.ExtractedInvoice {
	result := models.NewExtractedInvoice(source)

	score := DefaultModelConfidence
	if p.Confidence != nil {
		if o := p.Confidence.Overall.value; o != nil && *o >= 0 && *o <= 1 {
			score = *o
		}
		if notes := p.Confidence.Notes.value; notes != nil {
			result.Confidence.Notes = *notes
		}
	}
	fields := map[string]float64{}
	mark := func(field string, present bool) {
		if present {
			fields[field] = score
		}
	}

	vendorName := p.Vendor.Name.value
	if vendorName == nil {
		vendorName = p.VendorName.value
	}
	result.Vendor = models.Vendor{
		Name:    vendorName,
		Email:   p.Vendor.Email.value,
		Address: p.Vendor.Address.value,
		TaxID:   p.Vendor.TaxID.value,
	}
	mark(extraction.FieldVendorName, vendorName != nil)
	mark(extraction.FieldVendorEmail, result.Vendor.Email != nil)
	mark(FieldVendorAddress, result.Vendor.Address != nil)
	mark(FieldVendorTaxID, result.Vendor.TaxID != nil)

	result.InvoiceNumber = p.InvoiceNumber.value
	mark(extraction.FieldInvoiceNumber, result.InvoiceNumber != nil)
	result.PONumber = p.PONumber.value
	mark(extraction.FieldPONumber, result.PONumber != nil)

	result.InvoiceDate = canonicalDate(p.InvoiceDate.value, order)
	mark(extraction.FieldInvoiceDate, result.InvoiceDate != nil)
	result.DueDate = canonicalDate(p.DueDate.value, order)
	mark(extraction.FieldDueDate, result.DueDate != nil)

	if p.Currency.value != nil {
		result.Currency = normalize.NormalizeCurrency(*p.Currency.value)
		mark(FieldCurrency, true)
	}
	result.PaymentTerms = p.PaymentTerms.value
	mark(FieldPaymentTerms, result.PaymentTerms != nil)

	var summary llmSummary
	if p.FinancialSummary != nil {
		summary = *p.FinancialSummary
	}
	result.Subtotal = firstAmount(p.Subtotal, summary.Subtotal)
	mark(extraction.FieldSubtotal, result.Subtotal != nil)
	result.TaxTotal = firstAmount(p.TaxTotal, summary.TaxTotal)
	mark(extraction.FieldTaxTotal, result.TaxTotal != nil)
	result.Discount = firstAmount(p.Discount, summary.Discount)
	mark(FieldDiscount, result.Discount != nil)
	result.Total = firstAmount(p.Total, summary.Total)
	mark(extraction.FieldTotal, result.Total != nil)

	for _, li := range p.LineItems {
		if item, ok := li.toLineItem(); ok {
			result.LineItems = append(result.LineItems, item)
		}
	}
	mark(FieldLineItems, len(result.LineItems) > 0)

	result.Confidence.Fields = fields
	confidence.Recompute(&result.Confidence)
	return result
}

// toLineItem fills a missing quantity with 1 and derives whichever of
// amount and unit price is missing from the other.
func (li llmLineItem) toLineItem() (models.LineItem, bool) {
	amount := firstAmount(li.Amount, li.Total)
	desc := models.StringValue(li.Description.value)
	if desc == "" && amount == nil && li.UnitPrice.value == nil {
		return models.LineItem{}, false
	}

	qty := 1.0
	if q := li.Quantity.value; q != nil && *q > 0 {
		qty = *q
	}

	item := models.LineItem{
		Description: desc,
		Quantity:    qty,
		TaxAmount:   li.TaxAmount.value,
	}
	switch {
	case amount != nil && li.UnitPrice.value != nil:
		item.Amount, item.UnitPrice = *amount, *li.UnitPrice.value
	case amount != nil:
		item.Amount, item.UnitPrice = *amount, *amount/qty
	default:
		item.UnitPrice = *li.UnitPrice.value
		item.Amount = item.UnitPrice * qty
	}
	return item, true
}

// canonicalDate keeps ISO dates and normalizes numeric ones; anything else is dropped.
func canonicalDate(value *string, order normalize.DateOrder) *string {
	if value == nil {
		return nil
	}
	if _, err := time.Parse("2006-01-02", *value); err == nil {
		return value
	}
	if d, ok := normalize.NormalizeDate(*value, order); ok {
		return &d
	}
	return nil
}
