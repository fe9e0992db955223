package quickbooks

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"invoiceflow/internal/accounting"
)

const defaultExpenseAccount = "1"

type ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type emailAddr struct {
	Address string `json:"Address"`
}

type phone struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

type physicalAddr struct {
	Line1 string `json:"Line1"`
}

type qbVendor struct {
	ID               string        `json:"Id,omitempty"`
	SyncToken        string        `json:"SyncToken,omitempty"`
	Sparse           bool          `json:"sparse,omitempty"`
	DisplayName      string        `json:"DisplayName,omitempty"`
	PrimaryEmailAddr *emailAddr    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *phone        `json:"PrimaryPhone,omitempty"`
	BillAddr         *physicalAddr `json:"BillAddr,omitempty"`
	TaxIdentifier    string        `json:"TaxIdentifier,omitempty"`
}

type qbLineDetail struct {
	AccountRef     ref    `json:"AccountRef"`
	BillableStatus string `json:"BillableStatus"`
	TaxCodeRef     *ref   `json:"TaxCodeRef,omitempty"`
}

type qbLine struct {
	ID                            string        `json:"Id,omitempty"`
	Amount                        json.Number   `json:"Amount"`
	DetailType                    string        `json:"DetailType"`
	Description                   string        `json:"Description,omitempty"`
	AccountBasedExpenseLineDetail *qbLineDetail `json:"AccountBasedExpenseLineDetail,omitempty"`
}

type qbBill struct {
	ID          string      `json:"Id,omitempty"`
	VendorRef   ref         `json:"VendorRef"`
	TxnDate     string      `json:"TxnDate,omitempty"`
	DueDate     string      `json:"DueDate,omitempty"`
	DocNumber   string      `json:"DocNumber,omitempty"`
	PrivateNote string      `json:"PrivateNote,omitempty"`
	CurrencyRef *ref        `json:"CurrencyRef,omitempty"`
	Line        []qbLine    `json:"Line"`
	TotalAmt    json.Number `json:"TotalAmt,omitempty"`
	Balance     json.Number `json:"Balance,omitempty"`
}

type queryResponse struct {
	QueryResponse struct {
		Vendor []qbVendor `json:"Vendor"`
		Bill   []qbBill   `json:"Bill"`
	} `json:"QueryResponse"`
}

type vendorResponse struct {
	Vendor qbVendor `json:"Vendor"`
}

type billResponse struct {
	Bill qbBill `json:"Bill"`
}

type companyInfoResponse struct {
	CompanyInfo struct {
		CompanyName string `json:"CompanyName"`
	} `json:"CompanyInfo"`
}

func toVendor(v qbVendor) accounting.Vendor {
	out := accounting.Vendor{
		ID:         v.ID,
		Name:       v.DisplayName,
		TaxID:      v.TaxIdentifier,
		ExternalID: v.ID,
	}
	if v.PrimaryEmailAddr != nil {
		out.Email = v.PrimaryEmailAddr.Address
	}
	if v.BillAddr != nil {
		out.Address = v.BillAddr.Line1
	}
	return out
}

func fromVendorPayload(p accounting.VendorPayload) qbVendor {
	v := qbVendor{
		DisplayName:   p.Name,
		TaxIdentifier: p.TaxID,
	}
	if p.Email != "" {
		v.PrimaryEmailAddr = &emailAddr{Address: p.Email}
	}
	if p.Phone != "" {
		v.PrimaryPhone = &phone{FreeFormNumber: p.Phone}
	}
	if p.Address != "" {
		v.BillAddr = &physicalAddr{Line1: p.Address}
	}
	return v
}

// mapBillPayload converts the provider-neutral payload into a QuickBooks Bill.
// DocNumber carries the idempotency key so CheckIdempotency can find it.
func mapBillPayload(p *accounting.BillPayload) qbBill {
	bill := qbBill{
		VendorRef:   ref{Value: p.VendorID},
		TxnDate:     p.InvoiceDate,
		DueDate:     p.DueDate,
		DocNumber:   p.IdempotencyKey,
		PrivateNote: p.Notes,
		TotalAmt:    amount(p.Total),
	}
	if p.Currency != "" {
		bill.CurrencyRef = &ref{Value: p.Currency}
	}

	for i, item := range p.LineItems {
		account := item.GLAccount
		if account == "" {
			account = defaultExpenseAccount
		}
		detail := &qbLineDetail{
			AccountRef:     ref{Value: account},
			BillableStatus: "NotBillable",
		}
		if item.TaxCode != "" {
			detail.TaxCodeRef = &ref{Value: item.TaxCode}
		}
		bill.Line = append(bill.Line, qbLine{
			ID:                            strconv.Itoa(i + 1),
			Amount:                        amount(item.Amount),
			DetailType:                    "AccountBasedExpenseLineDetail",
			Description:                   item.Description,
			AccountBasedExpenseLineDetail: detail,
		})
	}
	return bill
}

func toBill(b qbBill, appURL string) *accounting.Bill {
	out := &accounting.Bill{
		ID:        b.ID,
		DocNumber: b.DocNumber,
		VendorID:  b.VendorRef.Value,
		TxnDate:   b.TxnDate,
		DueDate:   b.DueDate,
		Total:     number(b.TotalAmt),
		Balance:   number(b.Balance),
	}
	if b.CurrencyRef != nil {
		out.Currency = b.CurrencyRef.Value
	}
	if b.ID != "" {
		out.URL = appURL + b.ID
	}
	return out
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func number(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero
	}
	return d
}
