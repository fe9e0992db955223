package extraction

import (
	"fmt"

	"github.com/shopspring/decimal"

	"invoiceflow/pkg/models"
)

// TotalsTolerance is the rounding slack allowed when reconciling amounts.
var TotalsTolerance = decimal.RequireFromString("0.01")

// TotalsValidation reports whether an invoice's amounts add up. It is a
// review signal only; extraction results are never rejected because of it.
type TotalsValidation struct {
	Valid            bool            `json:"valid"`
	Message          string          `json:"message,omitempty"`
	ComputedSubtotal decimal.Decimal `json:"computed_subtotal"`
	ComputedTotal    decimal.Decimal `json:"computed_total"`
}

// ValidateTotals checks that the line items sum to the subtotal and that
// subtotal + tax - discount matches the total. Checks whose inputs are missing
// are skipped.
func ValidateTotals(inv *models.ExtractedInvoice) TotalsValidation {
	lineSum := decimal.Zero
	for _, item := range inv.LineItems {
		lineSum = lineSum.Add(decimal.NewFromFloat(item.Amount))
	}

	subtotal := lineSum
	if inv.Subtotal != nil {
		subtotal = decimal.NewFromFloat(*inv.Subtotal)
	}

	result := TotalsValidation{
		Valid:            true,
		ComputedSubtotal: lineSum,
		ComputedTotal: subtotal.
			Add(optionalDecimal(inv.TaxTotal)).
			Sub(optionalDecimal(inv.Discount)),
	}

	if inv.Subtotal != nil && len(inv.LineItems) > 0 &&
		lineSum.Sub(subtotal).Abs().GreaterThan(TotalsTolerance) {
		result.Valid = false
		result.Message = fmt.Sprintf("Subtotal mismatch: line items sum to %s, but subtotal is %s",
			lineSum.StringFixed(2), subtotal.StringFixed(2))
		return result
	}

	hasBasis := inv.Subtotal != nil || len(inv.LineItems) > 0
	if inv.Total != nil && hasBasis {
		total := decimal.NewFromFloat(*inv.Total)
		if result.ComputedTotal.Sub(total).Abs().GreaterThan(TotalsTolerance) {
			result.Valid = false
			result.Message = fmt.Sprintf("Total mismatch: calculated total is %s, but total is %s",
				result.ComputedTotal.StringFixed(2), total.StringFixed(2))
		}
	}

	return result
}

func optionalDecimal(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
