package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/logger"
)

const (
	metaCompanyName           = "company_name"
	metaRefreshTokenExpiresAt = "refresh_token_expires_at"
)

// Adapter is the QuickBooks Online implementation of accounting.Adapter.
// It acts for exactly one Session and is meant to be discarded after use.
type Adapter struct {
	cfg   Config
	oauth *oauth2.Config
	http  *http.Client
	api   *client
	sink  accounting.TokenSink
	now   func() time.Time
	log   zerolog.Logger

	mu      sync.Mutex
	session accounting.Session
}

var _ accounting.Adapter = (*Adapter)(nil)

// NewFactory returns a registry factory whose adapters share one HTTP client
// and one rate limiter. Renewed tokens are handed to sink.
func NewFactory(cfg Config, sink accounting.TokenSink) accounting.Factory {
	cfg = cfg.withDefaults()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	limiter := newLimiter(cfg.RateLimit)
	return func(session accounting.Session) (accounting.Adapter, error) {
		return newAdapter(cfg, session, sink, httpClient, limiter), nil
	}
}

// NewWithDeps creates an adapter with an injected HTTP client.
func NewWithDeps(cfg Config, session accounting.Session, sink accounting.TokenSink, httpClient *http.Client) *Adapter {
	cfg = cfg.withDefaults()
	limiter := newLimiter(cfg.RateLimit)
	return newAdapter(cfg, session, sink, httpClient, limiter)
}

func newAdapter(cfg Config, session accounting.Session, sink accounting.TokenSink, httpClient *http.Client, limiter *rate.Limiter) *Adapter {
	log := logger.WithProvider(logger.WithComponent("accounting"), string(accounting.ProviderQuickBooks))
	if session.ConnectionID != "" {
		log = log.With().Str("connection_id", session.ConnectionID).Logger()
	}
	return &Adapter{
		cfg:   cfg,
		oauth: oauthConfig(cfg),
		http:  httpClient,
		api: &client{
			http:         httpClient,
			limiter:      limiter,
			baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
			minorVersion: cfg.MinorVersion,
		},
		sink:    sink,
		now:     time.Now,
		log:     log,
		session: session,
	}
}

// Provider implements accounting.Adapter.
func (a *Adapter) Provider() accounting.Provider {
	return accounting.ProviderQuickBooks
}

// Session returns a copy of the adapter's current credentials.
func (a *Adapter) Session() accounting.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Connect exchanges the authorization code for tokens and reads the company name.
func (a *Adapter) Connect(ctx context.Context, creds accounting.OAuthCredentials) (*accounting.ConnectionMetadata, error) {
	const op = "Connect"

	if creds.Code == "" || creds.RealmID == "" {
		return nil, &accounting.OAuthError{
			Provider:    accounting.ProviderQuickBooks,
			Code:        "invalid_request",
			Description: "authorization code and realm id are required",
		}
	}

	oc := *a.oauth
	if creds.RedirectURI != "" {
		oc.RedirectURL = creds.RedirectURI
	}

	tok, err := oc.Exchange(a.oauthContext(ctx), creds.Code)
	if err != nil {
		return nil, oauthFailure(err)
	}

	a.mu.Lock()
	a.session.AccessToken = tok.AccessToken
	a.session.RefreshToken = tok.RefreshToken
	a.session.ExpiresAt = tok.Expiry
	a.session.ProviderCompanyID = creds.RealmID
	a.mu.Unlock()

	var info companyInfoResponse
	if err := a.request(ctx, http.MethodGet, "/companyinfo/"+url.PathEscape(creds.RealmID), nil, nil, &info); err != nil {
		return nil, fmt.Errorf("%s: failed to read company info: %w", op, classifyError(err))
	}

	meta := &accounting.ConnectionMetadata{
		ProviderCompanyID:   creds.RealmID,
		ProviderCompanyName: info.CompanyInfo.CompanyName,
		AccessToken:         tok.AccessToken,
		RefreshToken:        tok.RefreshToken,
		Scopes:              []string{Scope},
		Metadata:            map[string]string{metaCompanyName: info.CompanyInfo.CompanyName},
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		meta.TokenExpiresAt = &expiry
	}
	if secs, ok := extraSeconds(tok.Extra("x_refresh_token_expires_in")); ok {
		meta.Metadata[metaRefreshTokenExpiresAt] = a.now().Add(time.Duration(secs) * time.Second).UTC().Format(time.RFC3339)
	}

	a.log.Info().
		Str("realm_id", creds.RealmID).
		Str("company", info.CompanyInfo.CompanyName).
		Msg("QuickBooks connected")

	return meta, nil
}

// Disconnect revokes the refresh token. Revocation failures are logged and ignored.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	token := a.session.RefreshToken
	if token == "" {
		token = a.session.AccessToken
	}
	a.session.AccessToken = ""
	a.session.RefreshToken = ""
	a.mu.Unlock()

	if token == "" {
		return nil
	}

	if err := a.revoke(ctx, token); err != nil {
		a.log.Warn().Err(err).Msg("token revocation failed, connection deactivated locally")
		return nil
	}
	a.log.Info().Msg("QuickBooks tokens revoked")
	return nil
}

func (a *Adapter) revoke(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.RevokeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(url.QueryEscape(a.cfg.ClientID), url.QueryEscape(a.cfg.ClientSecret))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned %d", resp.StatusCode)
	}
	return nil
}

// RefreshTokenIfNeeded renews the access token when it expires within
// accounting.DefaultRefreshWindow and hands the new tokens to the sink.
func (a *Adapter) RefreshTokenIfNeeded(ctx context.Context) error {
	const op = "RefreshTokenIfNeeded"

	a.mu.Lock()
	session := a.session
	a.mu.Unlock()

	switch accounting.StateFromSession(session, a.now(), accounting.DefaultRefreshWindow) {
	case accounting.StateDisconnected:
		return fmt.Errorf("%s: %w", op, accounting.ErrNotConnected)
	case accounting.StateConnected:
		return nil
	case accounting.StateNeedsReconnection:
		return &accounting.TokenExpiredError{Provider: accounting.ProviderQuickBooks}
	}

	a.log.Debug().Time("expires_at", session.ExpiresAt).Msg("refreshing access token")

	tok, err := a.oauth.TokenSource(a.oauthContext(ctx), &oauth2.Token{RefreshToken: session.RefreshToken}).Token()
	if err != nil {
		return refreshFailure(err)
	}

	session.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		session.RefreshToken = tok.RefreshToken
	}
	session.ExpiresAt = tok.Expiry

	a.mu.Lock()
	a.session.AccessToken = session.AccessToken
	a.session.RefreshToken = session.RefreshToken
	a.session.ExpiresAt = session.ExpiresAt
	a.mu.Unlock()

	if a.sink != nil {
		if err := a.sink(ctx, session); err != nil {
			return fmt.Errorf("%s: failed to persist refreshed tokens: %w", op, err)
		}
	}

	a.log.Info().Time("expires_at", tok.Expiry).Msg("access token refreshed")
	return nil
}

// GetConnectionStatus reports token health without calling QuickBooks.
func (a *Adapter) GetConnectionStatus(_ context.Context) (*accounting.ConnectionStatus, error) {
	session := a.Session()
	state := accounting.StateFromSession(session, a.now(), accounting.DefaultRefreshWindow)

	status := &accounting.ConnectionStatus{
		IsConnected:       state.IsUsable(),
		ProviderName:      accounting.ProviderQuickBooks.DisplayName(),
		CompanyName:       session.Metadata[metaCompanyName],
		State:             state,
		NeedsReconnection: state == accounting.StateNeedsReconnection,
	}
	if !session.ExpiresAt.IsZero() {
		expiry := session.ExpiresAt
		status.TokenExpiresAt = &expiry
	}
	return status, nil
}

// GetVendors searches vendors by display name. An empty query lists vendors.
func (a *Adapter) GetVendors(ctx context.Context, query string) ([]accounting.Vendor, error) {
	sql := "SELECT * FROM Vendor MAXRESULTS 100"
	if q := strings.TrimSpace(query); q != "" {
		sql = fmt.Sprintf("SELECT * FROM Vendor WHERE DisplayName LIKE '%%%s%%' MAXRESULTS 10", escapeQuery(q))
	}

	var resp queryResponse
	if err := a.query(ctx, sql, &resp); err != nil {
		return nil, classifyError(err)
	}

	vendors := make([]accounting.Vendor, 0, len(resp.QueryResponse.Vendor))
	for _, v := range resp.QueryResponse.Vendor {
		vendors = append(vendors, toVendor(v))
	}
	return vendors, nil
}

// GetVendorByID returns nil when the vendor does not exist.
func (a *Adapter) GetVendorByID(ctx context.Context, externalID string) (*accounting.Vendor, error) {
	v, err := a.readVendor(ctx, externalID)
	if err != nil || v == nil {
		return nil, err
	}
	vendor := toVendor(*v)
	return &vendor, nil
}

func (a *Adapter) readVendor(ctx context.Context, id string) (*qbVendor, error) {
	var resp vendorResponse
	if err := a.request(ctx, http.MethodGet, "/vendor/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classifyError(err)
	}
	return &resp.Vendor, nil
}

// CreateVendor creates a vendor and returns its QuickBooks ID.
func (a *Adapter) CreateVendor(ctx context.Context, payload accounting.VendorPayload) (string, error) {
	const op = "CreateVendor"

	if strings.TrimSpace(payload.Name) == "" {
		return "", fmt.Errorf("%s: %w: vendor name is required", op, accounting.ErrInvalidPayload)
	}

	var resp vendorResponse
	if err := a.request(ctx, http.MethodPost, "/vendor", nil, fromVendorPayload(payload), &resp); err != nil {
		return "", classifyError(err)
	}

	a.log.Info().Str("vendor_id", resp.Vendor.ID).Msg("vendor created")
	return resp.Vendor.ID, nil
}

// UpdateVendor applies a sparse update; empty payload fields are left unchanged.
func (a *Adapter) UpdateVendor(ctx context.Context, externalID string, payload accounting.VendorPayload) error {
	const op = "UpdateVendor"

	current, err := a.readVendor(ctx, externalID)
	if err != nil {
		return err
	}
	if current == nil {
		return &accounting.SyncError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s: vendor %s not found", op, externalID)}
	}

	update := fromVendorPayload(payload)
	update.ID = current.ID
	update.SyncToken = current.SyncToken
	update.Sparse = true

	if err := a.request(ctx, http.MethodPost, "/vendor", nil, update, nil); err != nil {
		return classifyError(err)
	}
	return nil
}

// CreateBill creates a bill unless one with the same DocNumber already exists.
func (a *Adapter) CreateBill(ctx context.Context, payload *accounting.BillPayload) (*accounting.BillResult, error) {
	const op = "CreateBill"

	if err := validatePayload(payload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := a.CheckIdempotency(ctx, payload.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &accounting.IdempotencyConflictError{
			Provider:       accounting.ProviderQuickBooks,
			IdempotencyKey: payload.IdempotencyKey,
		}
	}

	var resp billResponse
	if err := a.request(ctx, http.MethodPost, "/bill", nil, mapBillPayload(payload), &resp); err != nil {
		return nil, classifyError(err)
	}

	a.log.Info().
		Str("bill_id", resp.Bill.ID).
		Str("doc_number", payload.IdempotencyKey).
		Msg("bill created")

	return &accounting.BillResult{
		Success:   true,
		BillID:    resp.Bill.ID,
		BillURL:   a.cfg.AppBillURL + resp.Bill.ID,
		VendorID:  payload.VendorID,
		CreatedAt: a.now(),
	}, nil
}

// GetBill returns nil when the bill does not exist.
func (a *Adapter) GetBill(ctx context.Context, externalBillID string) (*accounting.Bill, error) {
	var resp billResponse
	if err := a.request(ctx, http.MethodGet, "/bill/"+url.PathEscape(externalBillID), nil, nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classifyError(err)
	}
	return toBill(resp.Bill, a.cfg.AppBillURL), nil
}

// AttachFile uploads a document and links it to the bill.
func (a *Adapter) AttachFile(ctx context.Context, externalBillID string, file accounting.Attachment) error {
	const op = "AttachFile"

	if len(file.Data) == 0 {
		return fmt.Errorf("%s: %w: attachment is empty", op, accounting.ErrInvalidPayload)
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	meta, err := json.Marshal(map[string]any{
		"AttachableRef": []map[string]any{{
			"EntityRef": map[string]string{"type": "Bill", "value": externalBillID},
		}},
		"FileName":    file.FileName,
		"ContentType": contentType,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file_metadata_01"`},
		"Content-Type":        {"application/json"},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := part.Write(meta); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	part, err = w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file_content_01"; filename="%s"`, quoteEscaper.Replace(file.FileName))},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.RefreshTokenIfNeeded(ctx); err != nil {
		return err
	}
	token, realm, err := a.credentials()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := a.api.newRequest(ctx, http.MethodPost, realm, "/upload", nil, &body, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	if err := a.api.send(req, nil); err != nil {
		return classifyError(err)
	}

	a.log.Info().Str("bill_id", externalBillID).Str("file", file.FileName).Msg("attachment uploaded")
	return nil
}

// CheckIdempotency reports whether a bill with DocNumber key exists.
func (a *Adapter) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	sql := fmt.Sprintf("SELECT * FROM Bill WHERE DocNumber = '%s' MAXRESULTS 1", escapeQuery(key))

	var resp queryResponse
	if err := a.query(ctx, sql, &resp); err != nil {
		return false, classifyError(err)
	}
	return len(resp.QueryResponse.Bill) > 0, nil
}

// HandleProviderError implements accounting.Adapter.
func (a *Adapter) HandleProviderError(err error) *accounting.SyncError {
	return classifyError(err)
}

func (a *Adapter) query(ctx context.Context, sql string, out any) error {
	return a.request(ctx, http.MethodGet, "/query", url.Values{"query": {sql}}, nil, out)
}

// request refreshes the token if needed and performs one API call.
func (a *Adapter) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := a.RefreshTokenIfNeeded(ctx); err != nil {
		return err
	}
	token, realm, err := a.credentials()
	if err != nil {
		return err
	}
	return a.api.do(ctx, method, realm, path, query, body, token, out)
}

func (a *Adapter) credentials() (token, realm string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.AccessToken == "" || a.session.ProviderCompanyID == "" {
		return "", "", accounting.ErrNotConnected
	}
	return a.session.AccessToken, a.session.ProviderCompanyID, nil
}

func (a *Adapter) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}

func validatePayload(p *accounting.BillPayload) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: payload is nil", accounting.ErrInvalidPayload)
	case p.VendorID == "":
		return fmt.Errorf("%w: vendor id is required", accounting.ErrInvalidPayload)
	case p.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", accounting.ErrInvalidPayload)
	case len(p.LineItems) == 0:
		return fmt.Errorf("%w: at least one line item is required", accounting.ErrInvalidPayload)
	}
	return nil
}

func oauthFailure(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &accounting.OAuthError{
			Provider:    accounting.ProviderQuickBooks,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         err,
		}
	}
	return &accounting.OAuthError{Provider: accounting.ProviderQuickBooks, Err: err}
}

func refreshFailure(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return classifyError(err)
	}
	if re.ErrorCode == "invalid_grant" {
		return &accounting.TokenExpiredError{Provider: accounting.ProviderQuickBooks, Err: err}
	}
	if re.Response != nil && re.Response.StatusCode >= 500 {
		return &accounting.SyncError{
			Code:        "TOKEN_REFRESH_FAILED",
			Message:     "QuickBooks token endpoint unavailable",
			IsTransient: true,
			Err:         err,
		}
	}
	return oauthFailure(err)
}

func newLimiter(perSecond float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func extraSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		var i int64
		_, err := fmt.Sscan(n, &i)
		return i, err == nil && i > 0
	}
	return 0, false
}
