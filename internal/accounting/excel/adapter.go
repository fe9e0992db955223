// Package excel implements a file-based accounting provider that appends
// synced bills to a per-company xlsx workbook.
package excel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/logger"
)

// DefaultSheet is the worksheet bills are appended to.
const DefaultSheet = "Invoices"

// Config holds Excel adapter settings
type Config struct {
	OutputDir string
	Sheet     string
}

// DefaultConfig returns default Excel adapter settings
func DefaultConfig() Config {
	return Config{OutputDir: ".", Sheet: DefaultSheet}
}

// workbooks serializes read-modify-write cycles on the same file.
var workbooks sync.Mutex

// Adapter writes bills into invoices_{companyID}.xlsx.
type Adapter struct {
	cfg     Config
	session accounting.Session
	now     func() time.Time
	log     zerolog.Logger
}

var _ accounting.Adapter = (*Adapter)(nil)

// New creates an Excel adapter for one company.
func New(cfg Config, session accounting.Session) *Adapter {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Sheet == "" {
		cfg.Sheet = DefaultSheet
	}
	return &Adapter{
		cfg:     cfg,
		session: session,
		now:     time.Now,
		log:     logger.WithProvider(logger.WithComponent("accounting"), string(accounting.ProviderExcel)),
	}
}

// NewFactory returns a registry factory for Excel adapters.
func NewFactory(cfg Config) accounting.Factory {
	return func(session accounting.Session) (accounting.Adapter, error) {
		if session.CompanyID == "" {
			return nil, fmt.Errorf("excel: %w: company id is required", accounting.ErrInvalidPayload)
		}
		return New(cfg, session), nil
	}
}

// FileName returns the workbook name used for a company.
func FileName(companyID string) string {
	return fmt.Sprintf("invoices_%s.xlsx", companyID)
}

// Path returns the workbook location of this adapter's company.
func (a *Adapter) Path() string {
	return filepath.Join(a.cfg.OutputDir, FileName(a.session.CompanyID))
}

// Provider implements accounting.Adapter.
func (a *Adapter) Provider() accounting.Provider {
	return accounting.ProviderExcel
}

// Connect creates the workbook if needed. No network call is made.
func (a *Adapter) Connect(_ context.Context, _ accounting.OAuthCredentials) (*accounting.ConnectionMetadata, error) {
	workbooks.Lock()
	defer workbooks.Unlock()

	f, err := a.open()
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	defer f.Close()

	if err := f.SaveAs(a.Path()); err != nil {
		return nil, a.HandleProviderError(err)
	}

	a.log.Info().Str("file", a.Path()).Msg("Excel workbook ready")

	return &accounting.ConnectionMetadata{
		ProviderCompanyID:   a.session.CompanyID,
		ProviderCompanyName: "Excel",
		Scopes:              []string{},
		Metadata: map[string]string{
			"type":      string(accounting.ProviderExcel),
			"file_name": FileName(a.session.CompanyID),
		},
	}, nil
}

func (a *Adapter) Disconnect(context.Context) error { return nil }

func (a *Adapter) RefreshTokenIfNeeded(context.Context) error { return nil }

// GetConnectionStatus reports the workbook as always connected.
func (a *Adapter) GetConnectionStatus(context.Context) (*accounting.ConnectionStatus, error) {
	return &accounting.ConnectionStatus{
		IsConnected:  true,
		ProviderName: "Excel",
		CompanyName:  "Excel",
		State:        accounting.StateConnected,
	}, nil
}

// GetVendors returns no vendors; spreadsheets have no vendor directory.
func (a *Adapter) GetVendors(context.Context, string) ([]accounting.Vendor, error) {
	return []accounting.Vendor{}, nil
}

func (a *Adapter) GetVendorByID(context.Context, string) (*accounting.Vendor, error) {
	return nil, nil
}

// CreateVendor uses the vendor name as its ID.
func (a *Adapter) CreateVendor(_ context.Context, payload accounting.VendorPayload) (string, error) {
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return "", fmt.Errorf("CreateVendor: %w: vendor name is required", accounting.ErrInvalidPayload)
	}
	return name, nil
}

func (a *Adapter) UpdateVendor(context.Context, string, accounting.VendorPayload) error {
	return nil
}

// CreateBill appends one row unless the invoice number is already present.
func (a *Adapter) CreateBill(_ context.Context, payload *accounting.BillPayload) (*accounting.BillResult, error) {
	const op = "CreateBill"

	if payload == nil || payload.IdempotencyKey == "" {
		return nil, fmt.Errorf("%s: %w: idempotency key is required", op, accounting.ErrInvalidPayload)
	}

	workbooks.Lock()
	defer workbooks.Unlock()

	f, err := a.open()
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	defer f.Close()

	rows, err := f.GetRows(a.cfg.Sheet)
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	if findRow(rows, payload.IdempotencyKey) >= 0 {
		return nil, &accounting.IdempotencyConflictError{
			Provider:       accounting.ProviderExcel,
			IdempotencyKey: payload.IdempotencyKey,
		}
	}

	now := a.now()
	row := accounting.BillRow(payload, now)
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	if err := f.SetSheetRow(a.cfg.Sheet, cell, &row); err != nil {
		return nil, a.HandleProviderError(err)
	}
	if err := f.SaveAs(a.Path()); err != nil {
		return nil, a.HandleProviderError(err)
	}

	a.log.Info().
		Str("invoice_number", payload.IdempotencyKey).
		Str("file", a.Path()).
		Int("row", len(rows)+1).
		Msg("bill row appended")

	vendorID := payload.VendorID
	if vendorID == "" {
		vendorID = "N/A"
	}
	return &accounting.BillResult{
		Success:   true,
		BillID:    payload.IdempotencyKey,
		VendorID:  vendorID,
		CreatedAt: now,
	}, nil
}

// GetBill reads a bill row back by invoice number; nil when absent.
func (a *Adapter) GetBill(_ context.Context, externalBillID string) (*accounting.Bill, error) {
	rows, err := a.rows()
	if err != nil {
		return nil, err
	}
	if i := findRow(rows, externalBillID); i >= 0 {
		return accounting.BillFromRow(rows[i]), nil
	}
	return nil, nil
}

// AttachFile is not supported by workbooks.
func (a *Adapter) AttachFile(context.Context, string, accounting.Attachment) error {
	return fmt.Errorf("AttachFile: %w", accounting.ErrNotSupported)
}

// CheckIdempotency scans the Invoice Number column.
func (a *Adapter) CheckIdempotency(_ context.Context, key string) (bool, error) {
	rows, err := a.rows()
	if err != nil {
		return false, err
	}
	return findRow(rows, key) >= 0, nil
}

// HandleProviderError reports every workbook failure as a permanent EXCEL_ERROR.
func (a *Adapter) HandleProviderError(err error) *accounting.SyncError {
	if err == nil {
		return nil
	}
	var syncErr *accounting.SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	msg := err.Error()
	if msg == "" {
		msg = "Excel sync error"
	}
	return &accounting.SyncError{Code: "EXCEL_ERROR", Message: msg, Err: err}
}

func (a *Adapter) rows() ([][]string, error) {
	workbooks.Lock()
	defer workbooks.Unlock()

	if _, err := os.Stat(a.Path()); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	f, err := excelize.OpenFile(a.Path())
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	defer f.Close()

	rows, err := f.GetRows(a.cfg.Sheet)
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	return rows, nil
}

// open returns the company workbook, creating it with a header row when missing.
func (a *Adapter) open() (*excelize.File, error) {
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	created := false
	f, err := excelize.OpenFile(a.Path())
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		f, created = excelize.NewFile(), true
	default:
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	index, err := f.GetSheetIndex(a.cfg.Sheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	if index != -1 {
		return f, nil
	}

	if _, err := f.NewSheet(a.cfg.Sheet); err != nil {
		f.Close()
		return nil, err
	}
	headers := make([]any, len(accounting.BillRowHeaders))
	for i, h := range accounting.BillRowHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(a.cfg.Sheet, "A1", &headers); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.SetColWidth(a.cfg.Sheet, "A", "D", 15)
	_ = f.SetColWidth(a.cfg.Sheet, "E", "E", 40)
	_ = f.SetColWidth(a.cfg.Sheet, "F", "I", 12)
	_ = f.SetColWidth(a.cfg.Sheet, "J", "J", 30)
	_ = f.SetColWidth(a.cfg.Sheet, "K", "K", 22)

	if created && a.cfg.Sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}
	if index, err = f.GetSheetIndex(a.cfg.Sheet); err == nil && index >= 0 {
		f.SetActiveSheet(index)
	}
	return f, nil
}

// findRow returns the index of the data row whose first cell is key, or -1.
func findRow(rows [][]string, key string) int {
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if strings.TrimSpace(row[0]) == key {
			return i
		}
	}
	return -1
}
