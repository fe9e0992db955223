package excel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"invoiceflow/internal/accounting"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(Config{OutputDir: t.TempDir()}, accounting.Session{CompanyID: "acme"})
	a.now = func() time.Time { return time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC) }
	return a
}

func payload(key string) *accounting.BillPayload {
	return &accounting.BillPayload{
		IdempotencyKey: key,
		InvoiceNumber:  key,
		InvoiceDate:    "2024-03-15",
		VendorID:       "Acme Corp",
		LineItems: []accounting.BillLineItem{
			{Description: "Widgets", Quantity: decimal.NewFromInt(2), Amount: decimal.NewFromInt(100)},
		},
		Subtotal: decimal.NewFromInt(100),
		TaxTotal: decimal.NewFromInt(8),
		Total:    decimal.NewFromInt(108),
		Currency: "USD",
		Notes:    "Synced from InvoiceFlow - Invoice #" + key,
	}
}

func TestConnect(t *testing.T) {
	a := testAdapter(t)

	meta, err := a.Connect(context.Background(), accounting.OAuthCredentials{})
	require.NoError(t, err)
	assert.Equal(t, "acme", meta.ProviderCompanyID)
	assert.Equal(t, "Excel", meta.ProviderCompanyName)
	assert.Equal(t, "invoices_acme.xlsx", meta.Metadata["file_name"])
	assert.FileExists(t, a.Path())

	status, err := a.GetConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsConnected)
}

func TestCreateBillAppendsRows(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	exists, err := a.CheckIdempotency(ctx, "INV-1001")
	require.NoError(t, err)
	assert.False(t, exists)

	result, err := a.CreateBill(ctx, payload("INV-1001"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "INV-1001", result.BillID)

	_, err = a.CreateBill(ctx, payload("INV-1002"))
	require.NoError(t, err)

	_, err = a.CreateBill(ctx, payload("INV-1001"))
	var conflict *accounting.IdempotencyConflictError
	require.True(t, errors.As(err, &conflict))

	f, err := excelize.OpenFile(filepath.Join(a.cfg.OutputDir, "invoices_acme.xlsx"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(DefaultSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, accounting.BillRowHeaders, rows[0])
	assert.Equal(t, "INV-1001", rows[1][0])
	assert.Equal(t, "Acme Corp", rows[1][1])
	assert.Equal(t, "N/A", rows[1][3])
	assert.Equal(t, "Widgets (2 x $50.00)", rows[1][4])
	assert.Equal(t, "108", rows[1][7])
	assert.Equal(t, "2024-03-20T09:00:00Z", rows[1][10])
	assert.Equal(t, "INV-1002", rows[2][0])

	bill, err := a.GetBill(ctx, "INV-1002")
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.Equal(t, "2024-03-15", bill.TxnDate)
	assert.Empty(t, bill.DueDate)
	assert.True(t, bill.Total.Equal(decimal.NewFromInt(108)))

	missing, err := a.GetBill(ctx, "INV-9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVendorsAreNames(t *testing.T) {
	a := testAdapter(t)

	id, err := a.CreateVendor(context.Background(), accounting.VendorPayload{Name: " Globex "})
	require.NoError(t, err)
	assert.Equal(t, "Globex", id)

	vendors, err := a.GetVendors(context.Background(), "Globex")
	require.NoError(t, err)
	assert.Empty(t, vendors)

	_, err = a.CreateVendor(context.Background(), accounting.VendorPayload{})
	assert.True(t, errors.Is(err, accounting.ErrInvalidPayload))
}

func TestAttachFileUnsupported(t *testing.T) {
	err := testAdapter(t).AttachFile(context.Background(), "INV-1", accounting.Attachment{})
	assert.True(t, errors.Is(err, accounting.ErrNotSupported))
}

func TestHandleProviderError(t *testing.T) {
	got := testAdapter(t).HandleProviderError(errors.New("disk full"))
	assert.Equal(t, "EXCEL_ERROR", got.Code)
	assert.Equal(t, "disk full", got.Message)
	assert.False(t, got.IsTransient)
}

func TestFactoryRequiresCompany(t *testing.T) {
	_, err := NewFactory(DefaultConfig())(accounting.Session{})
	assert.True(t, errors.Is(err, accounting.ErrInvalidPayload))
}
