package models

// DuplicateReason tags why two invoices were grouped together.
type DuplicateReason string

const (
	ReasonSameInvoiceNumber DuplicateReason = "same_invoice_number_and_amount"
	ReasonVendorAmountDate  DuplicateReason = "same_vendor_amount_and_date_window"
	ReasonOCRTextSimilarity DuplicateReason = "ocr_text_similarity"
)

// Similarity is a 0..100 match score. It is a different scale from extraction
// confidence and the two must not be compared.
type Similarity int

// DuplicateMatch groups an invoice with the invoices it resembles.
type DuplicateMatch struct {
	Original   Invoice         `json:"original"`
	Duplicates []Invoice       `json:"duplicates"`
	Reason     DuplicateReason `json:"reason"`
	Similarity Similarity      `json:"similarity"`
}
