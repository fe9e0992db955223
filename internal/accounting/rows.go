package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillRowHeaders is the column layout of spreadsheet-backed providers.
var BillRowHeaders = []string{
	"Invoice Number",
	"Vendor ID",
	"Invoice Date",
	"Due Date",
	"Line Items",
	"Subtotal",
	"Tax",
	"Total",
	"Currency",
	"Notes",
	"Synced At",
}

const notAvailable = "N/A"

// BillRow flattens a payload into one spreadsheet row in BillRowHeaders order.
// Column A carries the idempotency key.
func BillRow(p *BillPayload, syncedAt time.Time) []any {
	lines := make([]string, 0, len(p.LineItems))
	for _, item := range p.LineItems {
		qty := item.Quantity
		if !qty.IsPositive() {
			qty = decimal.NewFromInt(1)
		}
		unit := item.Amount.Div(qty)
		lines = append(lines, fmt.Sprintf("%s (%s x $%s)", item.Description, qty.String(), unit.StringFixed(2)))
	}

	return []any{
		p.IdempotencyKey,
		orNotAvailable(p.VendorID),
		p.InvoiceDate,
		orNotAvailable(p.DueDate),
		strings.Join(lines, "; "),
		p.Subtotal.InexactFloat64(),
		p.TaxTotal.InexactFloat64(),
		p.Total.InexactFloat64(),
		p.Currency,
		p.Notes,
		syncedAt.UTC().Format(time.RFC3339),
	}
}

// BillFromRow reads back a row written by BillRow. Missing cells are empty.
func BillFromRow(row []string) *Bill {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	total, err := decimal.NewFromString(cell(7))
	if err != nil {
		total = decimal.Zero
	}
	bill := &Bill{
		ID:        cell(0),
		DocNumber: cell(0),
		VendorID:  cell(1),
		TxnDate:   cell(2),
		DueDate:   cell(3),
		Total:     total,
		Balance:   total,
		Currency:  cell(8),
	}
	if bill.VendorID == notAvailable {
		bill.VendorID = ""
	}
	if bill.DueDate == notAvailable {
		bill.DueDate = ""
	}
	return bill
}

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
