package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"invoiceflow/pkg/models"
)

func TestValidateTotals(t *testing.T) {
	items := []models.LineItem{
		{Description: "Widgets", Quantity: 2, UnitPrice: 25, Amount: 50},
		{Description: "Gadgets", Quantity: 1, UnitPrice: 49.99, Amount: 49.99},
	}

	t.Run("consistent", func(t *testing.T) {
		inv := &models.ExtractedInvoice{
			LineItems: items,
			Subtotal:  models.Ptr(99.99),
			TaxTotal:  models.Ptr(8.00),
			Discount:  models.Ptr(5.00),
			Total:     models.Ptr(102.99),
		}
		got := ValidateTotals(inv)
		assert.True(t, got.Valid)
		assert.Empty(t, got.Message)
		assert.Equal(t, "102.99", got.ComputedTotal.StringFixed(2))
	})

	t.Run("rounding within a cent", func(t *testing.T) {
		inv := &models.ExtractedInvoice{LineItems: items, Subtotal: models.Ptr(100.00)}
		assert.True(t, ValidateTotals(inv).Valid)
	})

	t.Run("subtotal mismatch", func(t *testing.T) {
		inv := &models.ExtractedInvoice{LineItems: items, Subtotal: models.Ptr(120.00), Total: models.Ptr(120.00)}
		got := ValidateTotals(inv)
		assert.False(t, got.Valid)
		assert.Contains(t, got.Message, "Subtotal mismatch: line items sum to 99.99, but subtotal is 120.00")
	})

	t.Run("total mismatch", func(t *testing.T) {
		inv := &models.ExtractedInvoice{Subtotal: models.Ptr(100.00), TaxTotal: models.Ptr(10.00), Total: models.Ptr(100.00)}
		got := ValidateTotals(inv)
		assert.False(t, got.Valid)
		assert.Contains(t, got.Message, "Total mismatch: calculated total is 110.00")
	})

	t.Run("nothing to compare", func(t *testing.T) {
		assert.True(t, ValidateTotals(&models.ExtractedInvoice{Total: models.Ptr(10.0)}).Valid)
	})
}
