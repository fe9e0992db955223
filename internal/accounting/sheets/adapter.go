// Package sheets implements a spreadsheet-backed accounting provider that
// appends synced bills to a Google Sheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/logger"
)

// DefaultWorksheet is the tab bills are appended to.
const DefaultWorksheet = "Bills"

// RateLimitRetryAfter is applied to Google API 429 responses.
const RateLimitRetryAfter = 60 * time.Second

var spreadsheetURL = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Config holds Google Sheets adapter settings
type Config struct {
	Spreadsheet string // spreadsheet URL or bare ID
	Worksheet   string
	Credentials []byte // service account JSON
}

// NewSheetsService creates a Sheets client authenticated as the configured service account.
func NewSheetsService(ctx context.Context, cfg Config) (*sheets.Service, error) {
	const op = "NewSheetsService"

	if len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("%s: service account credentials are required", op)
	}

	jwt, err := google.JWTConfigFromJSON(cfg.Credentials, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}
	return svc, nil
}

// NewFactory builds the Sheets client once and returns a registry factory.
func NewFactory(ctx context.Context, cfg Config) (accounting.Factory, error) {
	svc, err := NewSheetsService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return func(session accounting.Session) (accounting.Adapter, error) {
		return New(svc, cfg, session)
	}, nil
}

// ExtractSpreadsheetID accepts a Google Sheets URL or a bare spreadsheet ID.
func ExtractSpreadsheetID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := spreadsheetURL.FindStringSubmatch(s); len(m) == 2 {
		return m[1], nil
	}
	if s != "" && !strings.ContainsAny(s, "/:?") {
		return s, nil
	}
	return "", fmt.Errorf("invalid Google Sheets URL format: %q", s)
}

// Adapter appends bills to one worksheet of one spreadsheet.
type Adapter struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
	session       accounting.Session
	now           func() time.Time
	log           zerolog.Logger

	once      sync.Once
	ensureErr error
}

var _ accounting.Adapter = (*Adapter)(nil)

// New creates a Sheets adapter on an existing service.
func New(svc *sheets.Service, cfg Config, session accounting.Session) (*Adapter, error) {
	id, err := ExtractSpreadsheetID(cfg.Spreadsheet)
	if err != nil {
		return nil, fmt.Errorf("sheets: %w", err)
	}
	worksheet := cfg.Worksheet
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}

	log := logger.WithProvider(logger.WithComponent("accounting"), string(accounting.ProviderSheets))
	log.Debug().Str("spreadsheet_id", id).Msg("Extracted spreadsheet ID")

	return &Adapter{
		svc:           svc,
		spreadsheetID: id,
		worksheet:     worksheet,
		session:       session,
		now:           time.Now,
		log:           log,
	}, nil
}

// Provider implements accounting.Adapter.
func (a *Adapter) Provider() accounting.Provider {
	return accounting.ProviderSheets
}

// Connect verifies access to the spreadsheet and prepares the worksheet.
func (a *Adapter) Connect(ctx context.Context, _ accounting.OAuthCredentials) (*accounting.ConnectionMetadata, error) {
	spreadsheet, err := a.svc.Spreadsheets.Get(a.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	if err := a.ensureSheetWithHeaders(ctx); err != nil {
		return nil, err
	}

	title := ""
	if spreadsheet.Properties != nil {
		title = spreadsheet.Properties.Title
	}
	return &accounting.ConnectionMetadata{
		ProviderCompanyID:   a.spreadsheetID,
		ProviderCompanyName: title,
		Scopes:              []string{sheets.SpreadsheetsScope},
		Metadata: map[string]string{
			"type":      string(accounting.ProviderSheets),
			"worksheet": a.worksheet,
			"url":       a.url(),
		},
	}, nil
}

func (a *Adapter) Disconnect(context.Context) error { return nil }

// RefreshTokenIfNeeded is a no-op; the service account client renews its own tokens.
func (a *Adapter) RefreshTokenIfNeeded(context.Context) error { return nil }

func (a *Adapter) GetConnectionStatus(context.Context) (*accounting.ConnectionStatus, error) {
	return &accounting.ConnectionStatus{
		IsConnected:  true,
		ProviderName: accounting.ProviderSheets.DisplayName(),
		CompanyName:  a.spreadsheetID,
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

// CreateBill appends one row unless column A already holds the invoice number.
func (a *Adapter) CreateBill(ctx context.Context, payload *accounting.BillPayload) (*accounting.BillResult, error) {
	const op = "CreateBill"

	if payload == nil || payload.IdempotencyKey == "" {
		return nil, fmt.Errorf("%s: %w: idempotency key is required", op, accounting.ErrInvalidPayload)
	}
	if err := a.ensureSheetWithHeaders(ctx); err != nil {
		return nil, err
	}

	exists, err := a.CheckIdempotency(ctx, payload.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &accounting.IdempotencyConflictError{
			Provider:       accounting.ProviderSheets,
			IdempotencyKey: payload.IdempotencyKey,
		}
	}

	now := a.now()
	valueRange := &sheets.ValueRange{Values: [][]interface{}{accounting.BillRow(payload, now)}}
	_, err = a.svc.Spreadsheets.Values.Append(a.spreadsheetID, a.worksheet+"!A:K", valueRange).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return nil, a.HandleProviderError(err)
	}

	a.log.Info().
		Str("invoice_number", payload.IdempotencyKey).
		Str("sheet", a.worksheet).
		Msg("bill row appended to Google Sheet")

	return &accounting.BillResult{
		Success:   true,
		BillID:    payload.IdempotencyKey,
		BillURL:   a.url(),
		VendorID:  payload.VendorID,
		CreatedAt: now,
	}, nil
}

// GetBill reads a bill row back by invoice number; nil when absent.
func (a *Adapter) GetBill(ctx context.Context, externalBillID string) (*accounting.Bill, error) {
	rows, err := a.readRows(ctx, a.worksheet+"!A:K")
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if i > 0 && len(row) > 0 && row[0] == externalBillID {
			bill := accounting.BillFromRow(row)
			bill.URL = a.url()
			return bill, nil
		}
	}
	return nil, nil
}

// AttachFile is not supported by spreadsheets.
func (a *Adapter) AttachFile(context.Context, string, accounting.Attachment) error {
	return fmt.Errorf("AttachFile: %w", accounting.ErrNotSupported)
}

// CheckIdempotency reads column A.
func (a *Adapter) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	rows, err := a.readRows(ctx, a.worksheet+"!A:A")
	if err != nil {
		return false, err
	}
	for i, row := range rows {
		if i > 0 && len(row) > 0 && row[0] == key {
			return true, nil
		}
	}
	return false, nil
}

// HandleProviderError classifies Google API failures; 429 and 5xx are transient.
func (a *Adapter) HandleProviderError(err error) *accounting.SyncError {
	if err == nil {
		return nil
	}

	var syncErr *accounting.SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &accounting.SyncError{Code: "TIMEOUT", Message: "Google Sheets request timed out", IsTransient: true, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		out := &accounting.SyncError{
			Code:    fmt.Sprint(apiErr.Code),
			Message: apiErr.Message,
			Err:     err,
		}
		if out.Message == "" {
			out.Message = http.StatusText(apiErr.Code)
		}
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			out.IsTransient = true
			out.RetryAfter = RateLimitRetryAfter
		case apiErr.Code >= 500:
			out.IsTransient = true
		}
		return out
	}

	return &accounting.SyncError{Code: "SHEETS_ERROR", Message: err.Error(), Err: err}
}

func (a *Adapter) readRows(ctx context.Context, rng string) ([][]string, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(a.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, a.HandleProviderError(err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, values := range resp.Values {
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = strings.TrimSpace(fmt.Sprint(v))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (a *Adapter) url() string {
	return "https://docs.google.com/spreadsheets/d/" + a.spreadsheetID
}

// ensureSheetWithHeaders creates the worksheet and its header row once per adapter.
func (a *Adapter) ensureSheetWithHeaders(ctx context.Context) error {
	a.once.Do(func() {
		a.ensureErr = a.ensureSheet(ctx)
	})
	return a.ensureErr
}

func (a *Adapter) ensureSheet(ctx context.Context) error {
	spreadsheet, err := a.svc.Spreadsheets.Get(a.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return a.HandleProviderError(err)
	}

	var (
		sheetExists bool
		sheetID     int64
	)
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == a.worksheet {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		a.log.Info().Str("sheet", a.worksheet).Msg("Creating new sheet")

		resp, err := a.svc.Spreadsheets.BatchUpdate(a.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: a.worksheet}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return a.HandleProviderError(err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := a.worksheet + "!A1:K1"
	resp, err := a.svc.Spreadsheets.Values.Get(a.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return a.HandleProviderError(err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	a.log.Info().Str("sheet", a.worksheet).Msg("Adding headers to sheet")

	headers := make([]interface{}, len(accounting.BillRowHeaders))
	for i, h := range accounting.BillRowHeaders {
		headers[i] = h
	}
	_, err = a.svc.Spreadsheets.Values.Update(a.spreadsheetID, headerRange, &sheets.ValueRange{
		Values: [][]interface{}{headers},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return a.HandleProviderError(err)
	}

	if err := a.formatHeaders(ctx, sheetID); err != nil {
		a.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold and sizes the columns.
func (a *Adapter) formatHeaders(ctx context.Context, sheetID int64) error {
	columns := int64(len(accounting.BillRowHeaders))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	_, err := a.svc.Spreadsheets.BatchUpdate(a.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("formatHeaders: %w", err)
	}
	return nil
}
