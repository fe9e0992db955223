package accounting

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/pkg/models"
)

func TestBuildBillPayload(t *testing.T) {
	payload, err := BuildBillPayload(approvedInvoice(), "V1", syncNow)
	require.NoError(t, err)

	assert.Equal(t, "INV-1001", payload.IdempotencyKey)
	assert.Equal(t, "INV-1001", payload.InvoiceNumber)
	assert.Equal(t, "2024-03-15", payload.InvoiceDate)
	assert.Equal(t, "2024-04-14", payload.DueDate)
	assert.Equal(t, "V1", payload.VendorID)
	assert.Equal(t, "USD", payload.Currency)
	assert.True(t, payload.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, payload.TaxTotal.Equal(decimal.NewFromInt(8)))
	assert.True(t, payload.Total.Equal(decimal.NewFromInt(108)))
	assert.Equal(t, "Synced from InvoiceFlow - Invoice #INV-1001", payload.Notes)

	require.Len(t, payload.LineItems, 1)
	assert.Equal(t, "Widgets", payload.LineItems[0].Description)
	assert.True(t, payload.LineItems[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, payload.LineItems[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestBuildBillPayloadDefaults(t *testing.T) {
	inv := &models.Invoice{
		ID:     "a1b2c3d4e5f6",
		Status: models.StatusApproved,
		LineItems: []models.LineItem{
			{Amount: 42.5},
		},
		Total: models.Ptr(42.5),
	}

	payload, err := BuildBillPayload(inv, "V9", syncNow)
	require.NoError(t, err)

	assert.Equal(t, "INV-a1b2c3d4", payload.IdempotencyKey)
	assert.Equal(t, "2024-03-20", payload.InvoiceDate)
	assert.Equal(t, "2024-04-19", payload.DueDate)
	assert.Equal(t, "USD", payload.Currency)
	assert.Equal(t, "Synced from InvoiceFlow - Invoice #a1b2c3d4", payload.Notes)

	require.Len(t, payload.LineItems, 1)
	line := payload.LineItems[0]
	assert.Equal(t, "No description", line.Description)
	assert.True(t, line.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, line.UnitPrice.Equal(decimal.RequireFromString("42.5")))
}

func TestBuildBillPayloadWithoutLines(t *testing.T) {
	inv := approvedInvoice()
	inv.LineItems = nil

	payload, err := BuildBillPayload(inv, "V1", syncNow)
	require.NoError(t, err)
	require.Len(t, payload.LineItems, 1)
	assert.Equal(t, "Invoice INV-1001", payload.LineItems[0].Description)
	assert.True(t, payload.LineItems[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestBuildBillPayloadComputesMissingTotal(t *testing.T) {
	inv := approvedInvoice()
	inv.Total = nil
	inv.Discount = models.Ptr(10.0)

	payload, err := BuildBillPayload(inv, "V1", syncNow)
	require.NoError(t, err)
	assert.True(t, payload.Total.Equal(decimal.NewFromInt(98)))
}

func TestBuildBillPayloadFallsBackToExtraction(t *testing.T) {
	inv := &models.Invoice{ID: "inv-2", Status: models.StatusApproved}
	inv.Extracted = models.NewExtractedInvoice("regex")
	inv.Extracted.InvoiceNumber = models.Ptr("A-77")
	inv.Extracted.DueDate = models.Ptr("2024-05-01")
	inv.Extracted.Total = models.Ptr(12.0)
	inv.Extracted.Currency = "eur"
	inv.Extracted.Vendor.Name = models.Ptr("Globex")

	payload, err := BuildBillPayload(inv, "V2", syncNow)
	require.NoError(t, err)
	assert.Equal(t, "A-77", payload.IdempotencyKey)
	assert.Equal(t, "2024-05-01", payload.DueDate)
	assert.Equal(t, "EUR", payload.Currency)
	assert.Equal(t, "Globex", payload.VendorName)
	assert.True(t, payload.Total.Equal(decimal.NewFromInt(12)))
}

func TestBuildBillPayloadRejects(t *testing.T) {
	inv := approvedInvoice()
	inv.Status = models.StatusNeedsReview
	_, err := BuildBillPayload(inv, "V1", syncNow)
	assert.True(t, errors.Is(err, ErrNotApproved))

	_, err = BuildBillPayload(approvedInvoice(), " ", syncNow)
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = BuildBillPayload(nil, "V1", syncNow)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}
