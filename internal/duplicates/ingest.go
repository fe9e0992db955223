package duplicates

import (
	"math"
	"strings"

	"invoiceflow/pkg/models"
)

// DuplicateCheck is the result of an ingest-time duplicate check.
type DuplicateCheck struct {
	IsDuplicate bool             `json:"is_duplicate"`
	Matches     []models.Invoice `json:"matches"`
}

// DetectDuplicateInvoice checks a newly ingested invoice against existing
// ones. An existing invoice matches when the vendor agrees (by ID, or by
// extracted name when an ID is missing), the invoice numbers are equal or at
// least one is missing, the totals differ by no more than 1% of the
// candidate's total and the dates (when both known) are within windowDays.
// All four conditions must hold; equal invoice numbers alone are not enough.
func DetectDuplicateInvoice(candidate models.Invoice, existing []models.Invoice, windowDays int) DuplicateCheck {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	check := DuplicateCheck{Matches: []models.Invoice{}}
	for i := range existing {
		other := &existing[i]
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}
		if isNearDuplicate(&candidate, other, windowDays) {
			check.Matches = append(check.Matches, *other)
		}
	}
	check.IsDuplicate = len(check.Matches) > 0
	return check
}

func isNearDuplicate(candidate, other *models.Invoice, windowDays int) bool {
	if !sameVendor(candidate, other) {
		return false
	}

	numberA, numberB := strings.TrimSpace(candidate.InvoiceNumber), strings.TrimSpace(other.InvoiceNumber)
	if numberA != "" && numberB != "" && numberA != numberB {
		return false
	}

	if candidate.Total == nil || other.Total == nil {
		return false
	}
	threshold := math.Abs(*candidate.Total) * RelativeAmountTolerance
	if math.Abs(*candidate.Total-*other.Total) > threshold {
		return false
	}

	return withinWindow(candidate.InvoiceDate, other.InvoiceDate, windowDays)
}

// sameVendor compares vendor IDs when both invoices carry one, otherwise the
// extracted vendor names. A candidate with no vendor at all is not
// constrained; a known vendor never matches an invoice with no comparable one.
func sameVendor(candidate, other *models.Invoice) bool {
	idA, idB := strings.TrimSpace(candidate.VendorID), strings.TrimSpace(other.VendorID)
	if idA != "" && idB != "" {
		return idA == idB
	}

	nameA, nameB := VendorName(candidate), VendorName(other)
	if nameA != "" && nameB != "" {
		return FuzzyMatch(nameA, nameB) >= DefaultVendorMatchThreshold
	}

	return idA == "" && nameA == ""
}

// VendorName returns the trimmed extracted vendor name of an invoice, or "".
func VendorName(inv *models.Invoice) string {
	if inv.Extracted == nil || inv.Extracted.Vendor.Name == nil {
		return ""
	}
	return strings.TrimSpace(*inv.Extracted.Vendor.Name)
}
