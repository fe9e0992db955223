// Package duplicates finds invoices that describe the same bill.
//
// Two comparators exist on purpose. DetectDuplicates groups invoices for the
// review screen and treats amounts as equal only within one cent.
// DetectDuplicateInvoice runs when a new invoice arrives and flags near
// duplicates whose totals differ by up to one percent.
package duplicates

import (
	"math"
	"strings"
	"time"

	"invoiceflow/pkg/models"
)

const (
	// DefaultWindowDays bounds how far apart two invoice dates may be.
	DefaultWindowDays = 90

	// AbsoluteAmountTolerance is the grouping policy: totals must differ by less than one cent.
	AbsoluteAmountTolerance = 0.01

	// RelativeAmountTolerance is the ingest policy: totals may differ by up to 1% of the candidate's total.
	RelativeAmountTolerance = 0.01

	// TextSimilarityThreshold is the word overlap above which OCR texts are considered the same document.
	TextSimilarityThreshold = 0.8
)

// Similarity scores per grouping reason.
const (
	SimilaritySameInvoiceNumber models.Similarity = 100
	SimilarityVendorAmountDate  models.Similarity = 90
	SimilarityOCRText           models.Similarity = 85
)

// DetectDuplicates groups invoices that appear to be the same bill. Each
// invoice ends up in at most one group: once placed, as original or
// duplicate, it is no longer compared. The input slice is not modified.
func DetectDuplicates(invoices []models.Invoice, windowDays int) []models.DuplicateMatch {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	processed := make([]bool, len(invoices))
	var groups []models.DuplicateMatch

	for i := range invoices {
		seed := &invoices[i]
		if processed[i] {
			continue
		}

		var (
			dups       []models.Invoice
			reason     models.DuplicateReason
			similarity models.Similarity
			members    []int
		)
		for j := range invoices {
			other := &invoices[j]
			if j == i || processed[j] {
				continue
			}
			r, s, ok := comparePair(seed, other, windowDays)
			if !ok {
				continue
			}
			if len(dups) == 0 {
				reason, similarity = r, s
			}
			dups = append(dups, *other)
		}

		if len(dups) == 0 {
			continue
		}

		processed[i] = true
		for _, j := range members {
			processed[j] = true
		}
		groups = append(groups, models.DuplicateMatch{
			Original:   *seed,
			Duplicates: dups,
			Reason:     reason,
			Similarity: similarity,
		})
	}

	return groups
}

// comparePair applies the grouping rules in order and stops at the first
// rule that decides.
func comparePair(a, b *models.Invoice, windowDays int) (models.DuplicateReason, models.Similarity, bool) {
	vendorA, vendorB := strings.TrimSpace(a.VendorID), strings.TrimSpace(b.VendorID)
	if vendorA != "" && vendorB != "" && vendorA != vendorB {
		return "", 0, false
	}

	numberA, numberB := strings.TrimSpace(a.InvoiceNumber), strings.TrimSpace(b.InvoiceNumber)
	if numberA != "" && numberA == numberB {
		return models.ReasonSameInvoiceNumber, SimilaritySameInvoiceNumber, true
	}

	if vendorA != "" && vendorA == vendorB &&
		a.Total != nil && b.Total != nil &&
		math.Abs(*a.Total-*b.Total) < AbsoluteAmountTolerance &&
		withinWindow(a.InvoiceDate, b.InvoiceDate, windowDays) {
		return models.ReasonVendorAmountDate, SimilarityVendorAmountDate, true
	}

	if strings.TrimSpace(a.RawOCR) != "" && strings.TrimSpace(b.RawOCR) != "" &&
		WordOverlap(a.RawOCR, b.RawOCR) > TextSimilarityThreshold {
		return models.ReasonOCRTextSimilarity, SimilarityOCRText, true
	}

	return "", 0, false
}

// withinWindow reports whether two YYYY-MM-DD dates are at most windowDays
// apart. Missing or unparseable dates do not constrain the match.
func withinWindow(a, b string, windowDays int) bool {
	da, errA := time.Parse(time.DateOnly, strings.TrimSpace(a))
	db, errB := time.Parse(time.DateOnly, strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return true
	}
	days := math.Abs(da.Sub(db).Hours() / 24)
	return days <= float64(windowDays)
}
