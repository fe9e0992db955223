package quickbooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/accounting"
)

func billPayload(key string) *accounting.BillPayload {
	return &accounting.BillPayload{
		InvoiceID:      "inv-1",
		IdempotencyKey: key,
		InvoiceNumber:  key,
		InvoiceDate:    "2024-03-15",
		DueDate:        "2024-04-14",
		VendorID:       "56",
		LineItems: []accounting.BillLineItem{
			{Description: "Widgets", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50), Amount: decimal.NewFromInt(100)},
			{Description: "Freight", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("8.5"), Amount: decimal.RequireFromString("8.5"), GLAccount: "64", TaxCode: "TAX"},
		},
		Subtotal: decimal.RequireFromString("108.5"),
		Total:    decimal.RequireFromString("108.5"),
		Currency: "USD",
		Notes:    "Synced from InvoiceFlow - Invoice #" + key,
	}
}

func TestAuthorizationURL(t *testing.T) {
	_, srv := newFakeQBO(t)
	raw := AuthorizationURL(testConfig(srv), "state-123")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/connect/oauth2", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, Scope, q.Get("scope"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "https://invoiceflow.test/callback", q.Get("redirect_uri"))
}

func TestDefaultAuthorizationURL(t *testing.T) {
	raw := AuthorizationURL(Config{ClientID: "abc", RedirectURI: "https://x.test/cb"}, "s")
	assert.Contains(t, raw, "https://appcenter.intuit.com/connect/oauth2?")
}

func TestNewState(t *testing.T) {
	a, b := NewState(), NewState()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestParseCallback(t *testing.T) {
	creds, err := ParseCallback("https://invoiceflow.test/callback?code=good-code&state=s1&realmId=4620816365", "s1")
	require.NoError(t, err)
	assert.Equal(t, "good-code", creds.Code)
	assert.Equal(t, "4620816365", creds.RealmID)
	assert.Equal(t, "https://invoiceflow.test/callback", creds.RedirectURI)

	_, err = ParseCallback("https://invoiceflow.test/callback?code=c&state=other&realmId=1", "s1")
	assert.True(t, errors.Is(err, accounting.ErrStateMismatch))

	_, err = ParseCallback("https://invoiceflow.test/callback?error=access_denied&state=s1", "s1")
	var oauthErr *accounting.OAuthError
	require.True(t, errors.As(err, &oauthErr))
	assert.Equal(t, "access_denied", oauthErr.Code)

	_, err = ParseCallback("https://invoiceflow.test/callback?code=c&state=s1", "s1")
	require.True(t, errors.As(err, &oauthErr))
	assert.Equal(t, "invalid_request", oauthErr.Code)
}

func TestConnect(t *testing.T) {
	_, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), accounting.Session{CompanyID: "company-1"}, nil, srv.Client())

	meta, err := adapter.Connect(context.Background(), accounting.OAuthCredentials{
		Code:    "good-code",
		State:   "s1",
		RealmID: "4620816365",
	})
	require.NoError(t, err)

	assert.Equal(t, "4620816365", meta.ProviderCompanyID)
	assert.Equal(t, "Sandbox Company", meta.ProviderCompanyName)
	assert.Equal(t, "at-1", meta.AccessToken)
	assert.Equal(t, "rt-1", meta.RefreshToken)
	assert.Equal(t, []string{Scope}, meta.Scopes)
	require.NotNil(t, meta.TokenExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *meta.TokenExpiresAt, time.Minute)
	assert.NotEmpty(t, meta.Metadata["refresh_token_expires_at"])

	session := adapter.Session()
	assert.Equal(t, "at-1", session.AccessToken)
	assert.Equal(t, "4620816365", session.ProviderCompanyID)
}

func TestConnectRejectedCode(t *testing.T) {
	_, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), accounting.Session{}, nil, srv.Client())

	_, err := adapter.Connect(context.Background(), accounting.OAuthCredentials{Code: "stale", RealmID: "1"})
	var oauthErr *accounting.OAuthError
	require.True(t, errors.As(err, &oauthErr))
	assert.Equal(t, "invalid_grant", oauthErr.Code)
	assert.Equal(t, "Invalid authorization code", oauthErr.Description)
}

func TestCreateBillIsIdempotent(t *testing.T) {
	fake, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())
	ctx := context.Background()

	exists, err := adapter.CheckIdempotency(ctx, "INV-1001")
	require.NoError(t, err)
	assert.False(t, exists)

	result, err := adapter.CreateBill(ctx, billPayload("INV-1001"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "B1", result.BillID)
	assert.Equal(t, "https://app.test/app/bill?txnId=B1", result.BillURL)
	assert.Equal(t, "56", result.VendorID)

	exists, err = adapter.CheckIdempotency(ctx, "INV-1001")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = adapter.CreateBill(ctx, billPayload("INV-1001"))
	var conflict *accounting.IdempotencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "INV-1001", conflict.IdempotencyKey)
	assert.Equal(t, 1, fake.billPosts)
}

func TestCreateBillMapping(t *testing.T) {
	fake, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())

	_, err := adapter.CreateBill(context.Background(), billPayload("INV-2002"))
	require.NoError(t, err)

	bill := fake.bills["B1"]
	assert.Equal(t, "56", bill.VendorRef.Value)
	assert.Equal(t, "INV-2002", bill.DocNumber)
	assert.Equal(t, "2024-03-15", bill.TxnDate)
	assert.Equal(t, "2024-04-14", bill.DueDate)
	assert.Equal(t, "USD", bill.CurrencyRef.Value)
	assert.Equal(t, "108.50", string(bill.TotalAmt))
	require.Len(t, bill.Line, 2)

	first := bill.Line[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "100.00", string(first.Amount))
	assert.Equal(t, "AccountBasedExpenseLineDetail", first.DetailType)
	assert.Equal(t, "1", first.AccountBasedExpenseLineDetail.AccountRef.Value)
	assert.Equal(t, "NotBillable", first.AccountBasedExpenseLineDetail.BillableStatus)
	assert.Nil(t, first.AccountBasedExpenseLineDetail.TaxCodeRef)

	second := bill.Line[1]
	assert.Equal(t, "64", second.AccountBasedExpenseLineDetail.AccountRef.Value)
	assert.Equal(t, "TAX", second.AccountBasedExpenseLineDetail.TaxCodeRef.Value)

	got, err := adapter.GetBill(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, "INV-2002", got.DocNumber)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("108.5")))
	assert.Equal(t, "https://app.test/app/bill?txnId=B1", got.URL)

	missing, err := adapter.GetBill(context.Background(), "B404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateBillRejectsInvalidPayload(t *testing.T) {
	_, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())

	p := billPayload("INV-1")
	p.LineItems = nil
	_, err := adapter.CreateBill(context.Background(), p)
	assert.True(t, errors.Is(err, accounting.ErrInvalidPayload))
}

func TestCreateBillClassifiesFailures(t *testing.T) {
	fake, srv := newFakeQBO(t)
	fake.failBills = []int{http.StatusServiceUnavailable}
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())

	_, err := adapter.CreateBill(context.Background(), billPayload("INV-3003"))
	var syncErr *accounting.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "503", syncErr.Code)
	assert.True(t, syncErr.IsTransient)

	result, err := adapter.CreateBill(context.Background(), billPayload("INV-3003"))
	require.NoError(t, err)
	assert.Equal(t, "B1", result.BillID)
}

func TestRefreshTokenIfNeeded(t *testing.T) {
	fake, srv := newFakeQBO(t)

	session := connectedSession()
	session.ExpiresAt = time.Now().Add(time.Minute)

	var persisted []accounting.Session
	sink := func(_ context.Context, s accounting.Session) error {
		persisted = append(persisted, s)
		return nil
	}
	adapter := NewWithDeps(testConfig(srv), session, sink, srv.Client())

	_, err := adapter.GetVendors(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, persisted, 1)
	assert.Equal(t, "at-2", persisted[0].AccessToken)
	assert.Equal(t, "rt-2", persisted[0].RefreshToken)
	assert.Equal(t, "conn-1", persisted[0].ConnectionID)
	assert.Equal(t, "Bearer at-2", fake.lastAuth)

	// a fresh token is not refreshed again
	require.NoError(t, adapter.RefreshTokenIfNeeded(context.Background()))
	assert.Len(t, persisted, 1)
}

func TestRefreshTokenExpired(t *testing.T) {
	_, srv := newFakeQBO(t)

	session := connectedSession()
	session.RefreshToken = "revoked"
	session.ExpiresAt = time.Now().Add(-time.Minute)
	adapter := NewWithDeps(testConfig(srv), session, nil, srv.Client())

	err := adapter.RefreshTokenIfNeeded(context.Background())
	var expired *accounting.TokenExpiredError
	require.True(t, errors.As(err, &expired))

	_, err = adapter.CreateBill(context.Background(), billPayload("INV-1"))
	require.True(t, errors.As(err, &expired))
	assert.Equal(t, "TOKEN_EXPIRED", accounting.AsSyncError(err).Code)
}

func TestRefreshWithoutCredentials(t *testing.T) {
	adapter := NewWithDeps(DefaultConfig(), accounting.Session{}, nil, http.DefaultClient)
	err := adapter.RefreshTokenIfNeeded(context.Background())
	assert.True(t, errors.Is(err, accounting.ErrNotConnected))
}

func TestVendors(t *testing.T) {
	fake, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())
	ctx := context.Background()

	id, err := adapter.CreateVendor(ctx, accounting.VendorPayload{
		Name:    "Acme Corp",
		Email:   "billing@acme.test",
		Address: "1 Market St",
		Phone:   "555-0100",
	})
	require.NoError(t, err)
	assert.Equal(t, "50", id)
	assert.Equal(t, "555-0100", fake.lastVendor.PrimaryPhone.FreeFormNumber)

	vendors, err := adapter.GetVendors(ctx, "O'Acme")
	require.NoError(t, err)
	assert.Empty(t, vendors)
	assert.Contains(t, fake.lastQuery, `LIKE '%O\'Acme%' MAXRESULTS 10`)

	vendors, err = adapter.GetVendors(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, vendors, 1)
	assert.Equal(t, accounting.Vendor{
		ID:         "50",
		Name:       "Acme Corp",
		Email:      "billing@acme.test",
		Address:    "1 Market St",
		ExternalID: "50",
	}, vendors[0])

	v, err := adapter.GetVendorByID(ctx, "50")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Acme Corp", v.Name)

	v, err = adapter.GetVendorByID(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, adapter.UpdateVendor(ctx, "50", accounting.VendorPayload{Email: "ap@acme.test"}))
	assert.True(t, fake.lastVendor.Sparse)
	assert.Equal(t, "50", fake.lastVendor.ID)
	assert.Equal(t, "0", fake.lastVendor.SyncToken)

	v, err = adapter.GetVendorByID(ctx, "50")
	require.NoError(t, err)
	assert.Equal(t, "ap@acme.test", v.Email)
	assert.Equal(t, "Acme Corp", v.Name)

	err = adapter.UpdateVendor(ctx, "999", accounting.VendorPayload{Name: "Nobody"})
	var syncErr *accounting.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "NOT_FOUND", syncErr.Code)
}

func TestAttachFile(t *testing.T) {
	fake, srv := newFakeQBO(t)
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())

	err := adapter.AttachFile(context.Background(), "B1", accounting.Attachment{
		FileName:    "invoice.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 test"),
	})
	require.NoError(t, err)

	require.Len(t, fake.uploads, 3)
	assert.Contains(t, fake.uploads[0], `"value":"B1"`)
	assert.Equal(t, "invoice.pdf", fake.uploads[1])
	assert.Equal(t, "%PDF-1.4 test", fake.uploads[2])

	err = adapter.AttachFile(context.Background(), "B1", accounting.Attachment{FileName: "empty.pdf"})
	assert.True(t, errors.Is(err, accounting.ErrInvalidPayload))
}

func TestDisconnectIgnoresRevokeFailure(t *testing.T) {
	fake, srv := newFakeQBO(t)
	fake.revokeCode = http.StatusBadRequest
	adapter := NewWithDeps(testConfig(srv), connectedSession(), nil, srv.Client())

	require.NoError(t, adapter.Disconnect(context.Background()))
	assert.Empty(t, adapter.Session().AccessToken)

	_, err := adapter.GetVendors(context.Background(), "")
	assert.True(t, errors.Is(err, accounting.ErrNotConnected))
}

func TestGetConnectionStatus(t *testing.T) {
	session := connectedSession()
	session.Metadata = map[string]string{"company_name": "Sandbox Company"}
	adapter := NewWithDeps(DefaultConfig(), session, nil, http.DefaultClient)

	status, err := adapter.GetConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsConnected)
	assert.Equal(t, accounting.StateConnected, status.State)
	assert.Equal(t, "QuickBooks", status.ProviderName)
	assert.Equal(t, "Sandbox Company", status.CompanyName)

	session.RefreshToken = ""
	session.ExpiresAt = time.Now().Add(-time.Hour)
	adapter = NewWithDeps(DefaultConfig(), session, nil, http.DefaultClient)
	status, err = adapter.GetConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.IsConnected)
	assert.True(t, status.NeedsReconnection)
}

func TestHandleProviderError(t *testing.T) {
	fault := func(code, msg string) []byte {
		return []byte(fmt.Sprintf(`{"Fault":{"Error":[{"Message":%q,"Detail":"detail","code":%q}],"type":"ValidationFault"}}`, msg, code))
	}

	tests := []struct {
		name       string
		err        error
		code       string
		transient  bool
		retryAfter time.Duration
	}{
		{"throttled", &APIError{StatusCode: 429, Body: fault("429", "Too Many Requests")}, "429", true, RateLimitRetryAfter},
		{"throttled with header", &APIError{StatusCode: 429, Body: fault("003001", "ThrottleExceeded"), RetryAfter: 5 * time.Second}, "003001", true, 5 * time.Second},
		{"service unavailable", &APIError{StatusCode: 503, Body: fault("503", "Service Unavailable")}, "503", true, 0},
		{"validation", &APIError{StatusCode: 400, Body: fault("6000", "Business Validation Error")}, "6000", false, 0},
		{"unauthorized", &APIError{StatusCode: 401, Body: []byte(`{}`)}, "AUTH_ERROR", false, 0},
		{"unparseable", &APIError{StatusCode: 400, Body: []byte(`<html>`)}, "UNKNOWN_ERROR", false, 0},
		{"timeout", fmt.Errorf("get: %w", context.DeadlineExceeded), "TIMEOUT", true, 0},
		{"other", errors.New("boom"), "UNKNOWN_ERROR", false, 0},
	}

	adapter := NewWithDeps(DefaultConfig(), accounting.Session{}, nil, http.DefaultClient)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adapter.HandleProviderError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.transient, got.IsTransient)
			assert.Equal(t, tt.retryAfter, got.RetryAfter)
		})
	}

	validation := adapter.HandleProviderError(&APIError{StatusCode: 400, Body: fault("6000", "Business Validation Error")})
	assert.Equal(t, "Business Validation Error", validation.Message)
	assert.Equal(t, "detail", validation.Details["detail"])
}

func TestRegisteredFactory(t *testing.T) {
	reg := accounting.NewRegistry()
	reg.Register(accounting.ProviderQuickBooks, NewFactory(DefaultConfig(), nil))

	adapter, err := reg.NewAdapter(accounting.ProviderQuickBooks, connectedSession())
	require.NoError(t, err)
	assert.Equal(t, accounting.ProviderQuickBooks, adapter.Provider())
}
