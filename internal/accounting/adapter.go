// Package accounting defines the contract every accounting backend implements,
// the provider registry, the error taxonomy shared by adapters, and the sync
// runner that pushes approved invoices into a provider.
package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Adapter is the provider-agnostic capability set of an accounting backend.
// Adapters are short-lived: construct one per operation with the Session it
// should act for.
type Adapter interface {
	// Provider identifies the backend.
	Provider() Provider

	// Connect exchanges an authorization code for credentials. File-based
	// providers make no network call. Rejected codes yield *OAuthError.
	Connect(ctx context.Context, creds OAuthCredentials) (*ConnectionMetadata, error)

	// Disconnect revokes credentials where the provider supports it. Local
	// deactivation is authoritative, so revocation failures are not returned.
	Disconnect(ctx context.Context) error

	// RefreshTokenIfNeeded renews an access token close to expiry. An invalid
	// refresh token yields *TokenExpiredError.
	RefreshTokenIfNeeded(ctx context.Context) error

	// GetConnectionStatus reports connection health without changing it.
	GetConnectionStatus(ctx context.Context) (*ConnectionStatus, error)

	GetVendors(ctx context.Context, query string) ([]Vendor, error)
	// GetVendorByID returns nil without error when the vendor does not exist.
	GetVendorByID(ctx context.Context, externalID string) (*Vendor, error)
	// CreateVendor does not deduplicate; callers search first when they care.
	CreateVendor(ctx context.Context, payload VendorPayload) (string, error)
	UpdateVendor(ctx context.Context, externalID string, payload VendorPayload) error

	// CreateBill checks idempotency first and returns *IdempotencyConflictError
	// without creating anything when the bill already exists.
	CreateBill(ctx context.Context, payload *BillPayload) (*BillResult, error)
	GetBill(ctx context.Context, externalBillID string) (*Bill, error)
	AttachFile(ctx context.Context, externalBillID string, file Attachment) error

	// CheckIdempotency reports whether a bill with this idempotency key exists.
	CheckIdempotency(ctx context.Context, idempotencyKey string) (bool, error)

	// HandleProviderError classifies a raw provider failure.
	HandleProviderError(err error) *SyncError
}

// Session carries the credentials an adapter acts with. Adapters never keep
// credentials beyond the Session they were constructed with.
type Session struct {
	ConnectionID      string
	CompanyID         string
	ProviderCompanyID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	Metadata          map[string]string
}

// TokenSink receives renewed credentials so the caller can persist them.
type TokenSink func(ctx context.Context, session Session) error

// OAuthCredentials is the data received on the OAuth redirect.
type OAuthCredentials struct {
	Code        string
	State       string
	RedirectURI string
	// RealmID is the provider company ID passed on the callback URL (QuickBooks realmId).
	RealmID string
}

// ConnectionMetadata is what a successful Connect returns for persistence.
type ConnectionMetadata struct {
	ProviderCompanyID   string            `json:"provider_company_id"`
	ProviderCompanyName string            `json:"provider_company_name"`
	AccessToken         string            `json:"-"`
	RefreshToken        string            `json:"-"`
	TokenExpiresAt      *time.Time        `json:"token_expires_at,omitempty"`
	Scopes              []string          `json:"scopes"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// ConnectionStatus is a point-in-time health report.
type ConnectionStatus struct {
	IsConnected       bool            `json:"is_connected"`
	ProviderName      string          `json:"provider_name"`
	CompanyName       string          `json:"company_name,omitempty"`
	State             ConnectionState `json:"state"`
	LastSyncAt        *time.Time      `json:"last_sync_at,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	TokenExpiresAt    *time.Time      `json:"token_expires_at,omitempty"`
	NeedsReconnection bool            `json:"needs_reconnection"`
}

// Vendor is a vendor record in the provider's directory.
type Vendor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address,omitempty"`
	TaxID      string `json:"tax_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// VendorPayload creates or updates a vendor. Empty fields are left unchanged on update.
type VendorPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// BillLineItem is one expense line of a bill.
type BillLineItem struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Amount      decimal.Decimal  `json:"amount"`
	TaxAmount   *decimal.Decimal `json:"tax_amount,omitempty"`
	GLAccount   string           `json:"gl_account,omitempty"`
	TaxCode     string           `json:"tax_code,omitempty"`
}

// BillPayload is the normalized bill submitted to an adapter. It is built
// fresh for every sync attempt and never stored.
type BillPayload struct {
	InvoiceID      string          `json:"invoice_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	InvoiceNumber  string          `json:"invoice_number"`
	InvoiceDate    string          `json:"invoice_date"`
	DueDate        string          `json:"due_date,omitempty"`
	VendorID       string          `json:"vendor_id"`
	VendorName     string          `json:"vendor_name,omitempty"`
	VendorEmail    string          `json:"vendor_email,omitempty"`
	LineItems      []BillLineItem  `json:"line_items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Notes          string          `json:"notes,omitempty"`
}

// BillResult is the outcome of CreateBill.
type BillResult struct {
	Success   bool       `json:"success"`
	BillID    string     `json:"bill_id,omitempty"`
	BillURL   string     `json:"bill_url,omitempty"`
	VendorID  string     `json:"vendor_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Error     *SyncError `json:"error,omitempty"`
}

// Bill is a bill as read back from a provider.
type Bill struct {
	ID        string          `json:"id"`
	DocNumber string          `json:"doc_number"`
	VendorID  string          `json:"vendor_id"`
	TxnDate   string          `json:"txn_date"`
	DueDate   string          `json:"due_date,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency,omitempty"`
	URL       string          `json:"url,omitempty"`
}

// Attachment is a source document uploaded alongside a bill.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}
