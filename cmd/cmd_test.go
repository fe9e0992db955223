package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/accounting/excel"
	"invoiceflow/internal/store"
	"invoiceflow/pkg/models"
)

const invoiceText = `ACME Corporation
Invoice #: INV-2024-001
Date: 03/15/2024
Subtotal: $100.00
Tax: $8.50
Total: $108.50
`

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "invoice.txt")
	output := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(input, []byte(invoiceText), 0o600))

	require.NoError(t, runCLI(t, "extract", "--text", input, "-o", output))

	var out ExtractOutput
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))

	require.NotNil(t, out.Invoice)
	assert.Equal(t, "INV-2024-001", models.StringValue(out.Invoice.InvoiceNumber))
	assert.Equal(t, "2024-03-15", models.StringValue(out.Invoice.InvoiceDate))
	require.NotNil(t, out.Invoice.Total)
	assert.InDelta(t, 108.50, *out.Invoice.Total, 0.001)
	assert.True(t, out.Totals.Valid)
	assert.NotEmpty(t, out.Level)
}

func TestDuplicatesCommand(t *testing.T) {
	dir := t.TempDir()
	total := 250.0
	invoices := []models.Invoice{
		{ID: "a", CompanyID: "acme", InvoiceNumber: "INV-9", InvoiceDate: "2024-01-10", Total: &total, Extracted: vendorOnly("Globex")},
		{ID: "b", CompanyID: "acme", InvoiceNumber: "INV-9", InvoiceDate: "2024-01-12", Total: &total, Extracted: vendorOnly("Globex")},
		{ID: "c", CompanyID: "acme", InvoiceNumber: "INV-10", InvoiceDate: "2024-06-01", Total: &total, Extracted: vendorOnly("Initech")},
	}
	input := filepath.Join(dir, "invoices.json")
	writeJSONFixture(t, input, invoices)

	output := filepath.Join(dir, "groups.json")
	require.NoError(t, runCLI(t, "duplicates", "--input", input, "--window-days", "90", "-o", output))

	var groups []models.DuplicateMatch
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "a", groups[0].Original.ID)
	require.Len(t, groups[0].Duplicates, 1)
	assert.Equal(t, "b", groups[0].Duplicates[0].ID)
}

func TestConnectAndSyncExcel(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.json")
	t.Setenv("STATE_FILE", stateFile)
	t.Setenv("EXCEL_OUTPUT_DIR", dir)
	t.Setenv("DATABASE_URL", "")

	require.NoError(t, runCLI(t, "connect", "excel", "--company", "acme"))
	assert.FileExists(t, filepath.Join(dir, excel.FileName("acme")))

	total, subtotal, tax := 108.5, 100.0, 8.5
	inv := models.Invoice{
		CompanyID:     "acme",
		Status:        models.StatusNeedsReview,
		InvoiceNumber: "INV-2024-001",
		InvoiceDate:   "2024-03-15",
		Subtotal:      &subtotal,
		TaxTotal:      &tax,
		Total:         &total,
		Extracted:     vendorOnly("ACME Corporation"),
	}
	invoicePath := filepath.Join(dir, "invoice.json")
	writeJSONFixture(t, invoicePath, inv)

	output := filepath.Join(dir, "sync.json")
	require.NoError(t, runCLI(t, "sync", "--invoice", invoicePath, "--company", "acme", "--approve", "-o", output))

	var out SyncOutput
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))

	require.NotNil(t, out.Outcome)
	assert.Equal(t, models.SyncSucceeded, out.Outcome.Status)
	assert.Equal(t, "INV-2024-001", out.Outcome.BillID)
	assert.Equal(t, models.StatusSynced, out.Invoice.Status)
	require.Len(t, out.History, 1)
	assert.Equal(t, models.SyncSucceeded, out.History[0].Status)

	st, err := store.OpenSnapshot(stateFile)
	require.NoError(t, err)
	saved, err := st.Get(context.Background(), out.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, saved.Status)
	assert.Equal(t, "INV-2024-001", saved.ExternalBillID)

	conn, err := st.Find(context.Background(), "acme", string(accounting.ProviderExcel))
	require.NoError(t, err)
	assert.True(t, conn.IsDefault)
	assert.NotNil(t, conn.LastSyncAt)
}

func TestResolveConnection(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	st := store.NewMemory()

	_, err := resolveConnection(ctx, st, "acme", "", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default accounting connection")

	_, err = resolveConnection(ctx, st, "acme", "freshbooks", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Supported providers")

	excelConn := &models.AccountingConnection{CompanyID: "acme", Provider: "excel"}
	require.NoError(t, st.Upsert(ctx, excelConn))

	got, err := resolveConnection(ctx, st, "acme", "", log)
	require.NoError(t, err)
	assert.Equal(t, excelConn.ID, got.ID)

	require.NoError(t, st.Deactivate(ctx, excelConn.ID))
	_, err = resolveConnection(ctx, st, "acme", "excel", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not connected to Excel")
}

func TestHandleSyncError(t *testing.T) {
	log := zerolog.Nop()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, "did not respond in time"},
		{"not approved", accounting.ErrNotApproved, "only approved invoices"},
		{"token expired", &accounting.TokenExpiredError{Provider: accounting.ProviderQuickBooks}, "invoiceflow connect quickbooks"},
		{"state mismatch", accounting.ErrStateMismatch, "OAuth state does not match"},
		{"oauth", &accounting.OAuthError{Provider: accounting.ProviderQuickBooks, Code: "invalid_grant"}, "authorization failed"},
		{"transient", &accounting.SyncError{Code: "503", Message: "down", IsTransient: true}, "temporarily unavailable"},
		{"permanent", &accounting.SyncError{Code: "6000", Message: "bad"}, "sync failed (6000)"},
		{"unsupported", &accounting.UnsupportedProviderError{Provider: "xero", Reason: "Xero integration not yet implemented"}, "not yet implemented"},
		{"other", errors.New("boom"), "accounting operation failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, handleSyncError(tt.err, log).Error(), tt.want)
		})
	}
}

func TestValidateInputFile(t *testing.T) {
	log := zerolog.Nop()
	dir := t.TempDir()

	_, err := validateInputFile(filepath.Join(dir, "missing.pdf"), 0, log)
	assert.ErrorContains(t, err, "file not found")

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = validateInputFile(empty, 0, log)
	assert.ErrorContains(t, err, "file is empty")

	big := filepath.Join(dir, "big.pdf")
	require.NoError(t, os.WriteFile(big, make([]byte, 16), 0o600))
	_, err = validateInputFile(big, 8, log)
	assert.ErrorContains(t, err, "file too large")

	_, err = validateInputFile(dir, 0, log)
	assert.ErrorContains(t, err, "not a regular file")
}

func vendorOnly(name string) *models.ExtractedInvoice {
	e := models.NewExtractedInvoice("regex")
	e.Vendor.Name = &name
	return e
}

func writeJSONFixture(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
