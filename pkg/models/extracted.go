package models

// DefaultCurrency is used whenever a document does not state its currency.
const DefaultCurrency = "USD"

// Vendor identifies the party that issued the invoice.
type Vendor struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Address *string `json:"address"`
	TaxID   *string `json:"tax_id"`
}

// LineItem is one billed position of an invoice.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	Amount      float64  `json:"amount"`
	TaxAmount   *float64 `json:"tax_amount,omitempty"`
	GLAccount   string   `json:"gl_account,omitempty"`
}

// Confidence holds per-field extraction confidence on a 0..1 scale.
// Overall is always the arithmetic mean of Fields, 0 when Fields is empty.
type Confidence struct {
	Overall float64            `json:"overall"`
	Fields  map[string]float64 `json:"fields"`
	Notes   string             `json:"notes,omitempty"`
}

// ExtractedInvoice is the canonical structured result of every extraction pathway.
// Dates use the YYYY-MM-DD form; nil means the field was not found.
type ExtractedInvoice struct {
	Vendor        Vendor     `json:"vendor"`
	InvoiceNumber *string    `json:"invoice_number"`
	PONumber      *string    `json:"po_number"`
	InvoiceDate   *string    `json:"invoice_date"`
	DueDate       *string    `json:"due_date"`
	Currency      string     `json:"currency"`
	PaymentTerms  *string    `json:"payment_terms"`
	LineItems     []LineItem `json:"line_items"`
	Subtotal      *float64   `json:"subtotal"`
	TaxTotal      *float64   `json:"tax_total"`
	Discount      *float64   `json:"discount"`
	Total         *float64   `json:"total"`
	Confidence    Confidence `json:"confidence"`
	Source        string     `json:"source,omitempty"`
}

// NewExtractedInvoice returns an empty result with the default currency and no recorded fields.
func NewExtractedInvoice(source string) *ExtractedInvoice {
	return &ExtractedInvoice{
		Currency:   DefaultCurrency,
		LineItems:  []LineItem{},
		Confidence: Confidence{Fields: map[string]float64{}},
		Source:     source,
	}
}

// StringValue dereferences an optional string, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FloatValue dereferences an optional amount, returning 0 for nil.
func FloatValue(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
