package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoiceflow/pkg/models"
)

const (
	// DefaultDueDays is added to the invoice date when no due date was extracted.
	DefaultDueDays = 30

	defaultLineDescription = "No description"
	notesPrefix            = "Synced from InvoiceFlow - Invoice #"
)

// BuildBillPayload turns an approved invoice into the provider-neutral bill
// payload. Missing fields get the defaults accounting systems require.
func BuildBillPayload(inv *models.Invoice, vendorID string, now time.Time) (*BillPayload, error) {
	const op = "BuildBillPayload"

	if inv == nil {
		return nil, fmt.Errorf("%s: %w: invoice is nil", op, ErrInvalidPayload)
	}
	if inv.Status != models.StatusApproved {
		return nil, fmt.Errorf("%s: invoice %s is %s: %w", op, inv.ID, inv.Status, ErrNotApproved)
	}
	if strings.TrimSpace(vendorID) == "" {
		return nil, fmt.Errorf("%s: %w: vendor is required", op, ErrInvalidPayload)
	}

	number := firstNonEmpty(inv.InvoiceNumber, extractedString(inv, func(e *models.ExtractedInvoice) *string { return e.InvoiceNumber }))
	key := number
	if key == "" {
		key = "INV-" + shortID(inv.ID)
	}

	invoiceDate := firstNonEmpty(inv.InvoiceDate, extractedString(inv, func(e *models.ExtractedInvoice) *string { return e.InvoiceDate }))
	if invoiceDate == "" {
		invoiceDate = now.Format(time.DateOnly)
	}

	dueDate := firstNonEmpty(inv.DueDate, extractedString(inv, func(e *models.ExtractedInvoice) *string { return e.DueDate }))
	if dueDate == "" {
		base := now
		if d, err := time.Parse(time.DateOnly, invoiceDate); err == nil {
			base = d
		}
		dueDate = base.AddDate(0, 0, DefaultDueDays).Format(time.DateOnly)
	}

	currency := inv.Currency
	if currency == "" && inv.Extracted != nil {
		currency = inv.Extracted.Currency
	}
	if currency == "" {
		currency = models.DefaultCurrency
	}

	payload := &BillPayload{
		InvoiceID:      inv.ID,
		IdempotencyKey: key,
		InvoiceNumber:  key,
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		VendorID:       vendorID,
		Subtotal:       money(amountOf(inv.Subtotal, inv, func(e *models.ExtractedInvoice) *float64 { return e.Subtotal })),
		TaxTotal:       money(amountOf(inv.TaxTotal, inv, func(e *models.ExtractedInvoice) *float64 { return e.TaxTotal })),
		Discount:       money(amountOf(inv.Discount, inv, func(e *models.ExtractedInvoice) *float64 { return e.Discount })),
		Currency:       strings.ToUpper(currency),
		Notes:          inv.Notes,
	}

	if inv.Extracted != nil {
		payload.VendorName = models.StringValue(inv.Extracted.Vendor.Name)
		payload.VendorEmail = models.StringValue(inv.Extracted.Vendor.Email)
	}

	if total := amountOf(inv.Total, inv, func(e *models.ExtractedInvoice) *float64 { return e.Total }); total != nil {
		payload.Total = money(total)
	} else {
		payload.Total = payload.Subtotal.Add(payload.TaxTotal).Sub(payload.Discount)
	}

	items := inv.LineItems
	if len(items) == 0 && inv.Extracted != nil {
		items = inv.Extracted.LineItems
	}
	for _, item := range items {
		payload.LineItems = append(payload.LineItems, billLine(item))
	}
	if len(payload.LineItems) == 0 {
		// providers reject bills without lines, so the whole amount becomes one line
		amount := payload.Subtotal
		if amount.IsZero() {
			amount = payload.Total
		}
		payload.LineItems = []BillLineItem{{
			Description: "Invoice " + key,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   amount,
			Amount:      amount,
		}}
	}

	if payload.Notes == "" {
		payload.Notes = notesPrefix + firstNonEmpty(number, shortID(inv.ID))
	}

	return payload, nil
}

func billLine(item models.LineItem) BillLineItem {
	qty := decimal.NewFromFloat(item.Quantity)
	if item.Quantity <= 0 {
		qty = decimal.NewFromInt(1)
	}
	unit := decimal.NewFromFloat(item.UnitPrice).Round(2)
	amount := decimal.NewFromFloat(item.Amount).Round(2)
	if amount.IsZero() && !unit.IsZero() {
		amount = unit.Mul(qty).Round(2)
	}
	if unit.IsZero() && !amount.IsZero() {
		unit = amount.Div(qty).Round(2)
	}

	desc := strings.TrimSpace(item.Description)
	if desc == "" {
		desc = defaultLineDescription
	}

	line := BillLineItem{
		Description: desc,
		Quantity:    qty,
		UnitPrice:   unit,
		Amount:      amount,
		GLAccount:   item.GLAccount,
	}
	if item.TaxAmount != nil {
		tax := decimal.NewFromFloat(*item.TaxAmount).Round(2)
		line.TaxAmount = &tax
	}
	return line
}

func money(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v).Round(2)
}

func amountOf(own *float64, inv *models.Invoice, pick func(*models.ExtractedInvoice) *float64) *float64 {
	if own != nil {
		return own
	}
	if inv.Extracted != nil {
		return pick(inv.Extracted)
	}
	return nil
}

func extractedString(inv *models.Invoice, pick func(*models.ExtractedInvoice) *string) string {
	if inv.Extracted == nil {
		return ""
	}
	return models.StringValue(pick(inv.Extracted))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
