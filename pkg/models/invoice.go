package models

import "time"

// InvoiceStatus is the review lifecycle state of a stored invoice.
type InvoiceStatus string

const (
	StatusInbox       InvoiceStatus = "inbox"
	StatusNeedsReview InvoiceStatus = "needs_review"
	StatusApproved    InvoiceStatus = "approved"
	StatusSynced      InvoiceStatus = "synced"
	StatusRejected    InvoiceStatus = "rejected"
	StatusDuplicate   InvoiceStatus = "duplicate"
)

// Invoice is the persisted invoice record. The canonical fields are promoted
// from the latest ExtractedInvoice so they can be edited during review.
type Invoice struct {
	ID        string        `json:"id"`
	CompanyID string        `json:"company_id"`
	VendorID  string        `json:"vendor_id,omitempty"`
	Status    InvoiceStatus `json:"status"`

	InvoiceNumber string     `json:"invoice_number,omitempty"`
	PONumber      string     `json:"po_number,omitempty"`
	InvoiceDate   string     `json:"invoice_date,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	PaymentTerms  string     `json:"payment_terms,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	Subtotal      *float64   `json:"subtotal,omitempty"`
	TaxTotal      *float64   `json:"tax_total,omitempty"`
	Discount      *float64   `json:"discount,omitempty"`
	Total         *float64   `json:"total,omitempty"`
	Notes         string     `json:"notes,omitempty"`

	RawOCR        string            `json:"raw_ocr,omitempty"`
	OCRConfidence float64           `json:"ocr_confidence,omitempty"`
	Extracted     *ExtractedInvoice `json:"extracted_data,omitempty"`

	AttachmentURL string `json:"attachment_url,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`

	ExternalBillID string     `json:"external_bill_id,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyExtraction copies the canonical fields of an extraction result onto the record.
func (inv *Invoice) ApplyExtraction(e *ExtractedInvoice) {
	if e == nil {
		return
	}
	inv.Extracted = e
	inv.InvoiceNumber = StringValue(e.InvoiceNumber)
	inv.PONumber = StringValue(e.PONumber)
	inv.InvoiceDate = StringValue(e.InvoiceDate)
	inv.DueDate = StringValue(e.DueDate)
	inv.Currency = e.Currency
	inv.PaymentTerms = StringValue(e.PaymentTerms)
	inv.LineItems = e.LineItems
	inv.Subtotal = e.Subtotal
	inv.TaxTotal = e.TaxTotal
	inv.Discount = e.Discount
	inv.Total = e.Total
}

// Confidence returns the overall extraction confidence, 0 when nothing was extracted.
func (inv *Invoice) Confidence() float64 {
	if inv.Extracted == nil {
		return 0
	}
	return inv.Extracted.Confidence.Overall
}
