package duplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/pkg/models"
)

func TestDetectDuplicatesSameInvoiceNumber(t *testing.T) {
	invoices := []models.Invoice{
		{ID: "a", InvoiceNumber: "INV-1"},
		{ID: "b", InvoiceNumber: "INV-1"},
	}

	groups := DetectDuplicates(invoices, DefaultWindowDays)

	require.Len(t, groups, 1)
	assert.Equal(t, "a", groups[0].Original.ID)
	require.Len(t, groups[0].Duplicates, 1)
	assert.Equal(t, "b", groups[0].Duplicates[0].ID)
	assert.Equal(t, models.ReasonSameInvoiceNumber, groups[0].Reason)
	assert.Equal(t, models.Similarity(100), groups[0].Similarity)
}

func TestDetectDuplicatesVendorFilterWins(t *testing.T) {
	invoices := []models.Invoice{
		{ID: "a", VendorID: "v1", InvoiceNumber: "INV-1"},
		{ID: "b", VendorID: "v2", InvoiceNumber: "INV-1"},
	}
	assert.Empty(t, DetectDuplicates(invoices, DefaultWindowDays))
}

func TestDetectDuplicatesVendorAmountWindow(t *testing.T) {
	invoices := []models.Invoice{
		{ID: "a", VendorID: "v1", Total: models.Ptr(250.00), InvoiceDate: "2024-01-10"},
		{ID: "b", VendorID: "v1", Total: models.Ptr(250.004), InvoiceDate: "2024-03-01"},
		{ID: "c", VendorID: "v1", Total: models.Ptr(250.00), InvoiceDate: "2024-12-01"},
		{ID: "d", VendorID: "v1", Total: models.Ptr(251.00), InvoiceDate: "2024-01-10"},
	}

	groups := DetectDuplicates(invoices, 90)

	require.Len(t, groups, 1)
	assert.Equal(t, models.ReasonVendorAmountDate, groups[0].Reason)
	assert.Equal(t, models.Similarity(90), groups[0].Similarity)
	require.Len(t, groups[0].Duplicates, 1)
	assert.Equal(t, "b", groups[0].Duplicates[0].ID)
}

func TestDetectDuplicatesOCRTextSimilarity(t *testing.T) {
	text := "acme supplies invoice widgets qty 10 unit price 5 total 50 thank you"
	invoices := []models.Invoice{
		{ID: "a", RawOCR: text},
		{ID: "b", RawOCR: "ACME Supplies invoice widgets qty 10 unit price 5 total 50 thank you!"},
		{ID: "c", RawOCR: "completely different document about something else"},
	}

	groups := DetectDuplicates(invoices, DefaultWindowDays)

	require.Len(t, groups, 1)
	assert.Equal(t, models.ReasonOCRTextSimilarity, groups[0].Reason)
	assert.Equal(t, models.Similarity(85), groups[0].Similarity)
	assert.Equal(t, "b", groups[0].Duplicates[0].ID)
}

func TestDetectDuplicatesEachInvoiceInOneGroup(t *testing.T) {
	invoices := []models.Invoice{
		{ID: "a", InvoiceNumber: "1"},
		{ID: "b", InvoiceNumber: "1", VendorID: "v", Total: models.Ptr(10.0)},
		{ID: "c", VendorID: "v", Total: models.Ptr(10.0)},
		{ID: "d", InvoiceNumber: "1"},
		{ID: "e", VendorID: "v", Total: models.Ptr(10.0)},
	}

	groups := DetectDuplicates(invoices, DefaultWindowDays)

	seen := map[string]int{}
	for _, g := range groups {
		seen[g.Original.ID]++
		for _, d := range g.Duplicates {
			seen[d.ID]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "invoice %s appears in %d groups", id, n)
	}
	require.Len(t, groups, 2)
	assert.Equal(t, models.ReasonSameInvoiceNumber, groups[0].Reason)
	assert.Equal(t, models.ReasonVendorAmountDate, groups[1].Reason)
	assert.Equal(t, "c", groups[1].Original.ID)
}

func TestDetectDuplicatesDoesNotMutateInput(t *testing.T) {
	invoices := []models.Invoice{{ID: "a", InvoiceNumber: "1"}, {ID: "b", InvoiceNumber: "1"}}
	snapshot := append([]models.Invoice(nil), invoices...)

	DetectDuplicates(invoices, 0)

	assert.Equal(t, snapshot, invoices)
}

func TestDetectDuplicateInvoice(t *testing.T) {
	base := models.Invoice{ID: "new", VendorID: "v1", Total: models.Ptr(100.00), InvoiceDate: "2024-05-01"}

	tests := []struct {
		name     string
		existing models.Invoice
		want     bool
	}{
		{"within one percent", models.Invoice{ID: "x", VendorID: "v1", Total: models.Ptr(100.99)}, true},
		{"two percent apart", models.Invoice{ID: "x", VendorID: "v1", Total: models.Ptr(102.00)}, false},
		{"other vendor", models.Invoice{ID: "x", VendorID: "v2", Total: models.Ptr(100.00)}, false},
		{"outside window", models.Invoice{ID: "x", VendorID: "v1", Total: models.Ptr(100.00), InvoiceDate: "2023-01-01"}, false},
		{"inside window", models.Invoice{ID: "x", VendorID: "v1", Total: models.Ptr(100.00), InvoiceDate: "2024-03-15"}, true},
		{"missing total", models.Invoice{ID: "x", VendorID: "v1"}, false},
		{"same record", models.Invoice{ID: "new", VendorID: "v1", Total: models.Ptr(100.00)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectDuplicateInvoice(base, []models.Invoice{tt.existing}, DefaultWindowDays)
			assert.Equal(t, tt.want, got.IsDuplicate)
			if tt.want {
				assert.Len(t, got.Matches, 1)
			} else {
				assert.Empty(t, got.Matches)
			}
		})
	}
}

func TestDetectDuplicateInvoiceInvoiceNumbers(t *testing.T) {
	candidate := models.Invoice{VendorID: "v1", InvoiceNumber: "A-1", Total: models.Ptr(100.00), InvoiceDate: "2024-01-01"}

	equal := DetectDuplicateInvoice(candidate,
		[]models.Invoice{{ID: "x", VendorID: "v1", InvoiceNumber: "A-1", Total: models.Ptr(100.50), InvoiceDate: "2024-01-05"}}, 90)
	assert.True(t, equal.IsDuplicate)

	otherAmount := DetectDuplicateInvoice(candidate,
		[]models.Invoice{{ID: "x", VendorID: "v1", InvoiceNumber: "A-1", Total: models.Ptr(500.00), InvoiceDate: "2024-01-01"}}, 90)
	assert.False(t, otherAmount.IsDuplicate, "equal numbers still need matching totals")

	otherYear := DetectDuplicateInvoice(candidate,
		[]models.Invoice{{ID: "x", VendorID: "v1", InvoiceNumber: "A-1", Total: models.Ptr(100.00), InvoiceDate: "2020-01-01"}}, 90)
	assert.False(t, otherYear.IsDuplicate, "equal numbers still need dates within the window")

	different := DetectDuplicateInvoice(candidate,
		[]models.Invoice{{ID: "x", VendorID: "v1", InvoiceNumber: "A-2", Total: models.Ptr(100.00)}}, 90)
	assert.False(t, different.IsDuplicate)

	missing := DetectDuplicateInvoice(candidate,
		[]models.Invoice{{ID: "x", VendorID: "v1", Total: models.Ptr(100.50)}}, 90)
	assert.True(t, missing.IsDuplicate)
}

func TestDetectDuplicateInvoiceVendorNames(t *testing.T) {
	named := func(id, vendor string, total float64, date string) models.Invoice {
		e := models.NewExtractedInvoice("regex")
		e.Vendor.Name = models.Ptr(vendor)
		return models.Invoice{ID: id, Total: models.Ptr(total), InvoiceDate: date, Extracted: e}
	}

	acme := named("a", "Acme", 100.00, "2024-03-01")

	tests := []struct {
		name      string
		candidate models.Invoice
		want      bool
	}{
		{"other vendor", named("b", "Zenith", 100.50, "2024-03-06"), false},
		{"same vendor", named("b", "Acme", 100.50, "2024-03-06"), true},
		{"ocr variant of the name", named("b", "ACME.", 100.50, "2024-03-06"), true},
		{"vendor unknown", models.Invoice{ID: "b", Total: models.Ptr(100.50), InvoiceDate: "2024-03-06"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectDuplicateInvoice(tt.candidate, []models.Invoice{acme}, 90)
			assert.Equal(t, tt.want, got.IsDuplicate)
		})
	}
}

func TestDetectDuplicatesWithoutIDs(t *testing.T) {
	invoices := []models.Invoice{
		{InvoiceNumber: "INV-1"},
		{InvoiceNumber: "INV-1"},
		{InvoiceNumber: "INV-2", VendorID: "v", Total: models.Ptr(10.0)},
		{InvoiceNumber: "INV-3", VendorID: "v", Total: models.Ptr(10.0)},
	}

	groups := DetectDuplicates(invoices, DefaultWindowDays)

	require.Len(t, groups, 2)
	assert.Equal(t, models.ReasonSameInvoiceNumber, groups[0].Reason)
	assert.Equal(t, models.Similarity(100), groups[0].Similarity)
	require.Len(t, groups[0].Duplicates, 1)
	assert.Equal(t, models.ReasonVendorAmountDate, groups[1].Reason)
	assert.Equal(t, "INV-2", groups[1].Original.InvoiceNumber)
	require.Len(t, groups[1].Duplicates, 1)
	assert.Equal(t, "INV-3", groups[1].Duplicates[0].InvoiceNumber)
}
