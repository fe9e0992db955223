package models

import "time"

// AccountingConnection is the stored link between a company and one accounting provider.
// Disconnecting sets IsActive to false; rows are never deleted.
type AccountingConnection struct {
	ID                  string            `json:"id"`
	CompanyID           string            `json:"company_id"`
	Provider            string            `json:"provider"`
	ProviderCompanyID   string            `json:"provider_company_id"`
	ProviderCompanyName string            `json:"provider_company_name"`
	AccessToken         string            `json:"-"`
	RefreshToken        string            `json:"-"`
	TokenExpiresAt      *time.Time        `json:"token_expires_at,omitempty"`
	Scopes              []string          `json:"scopes,omitempty"`
	IsActive            bool              `json:"is_active"`
	IsDefault           bool              `json:"is_default"`
	LastSyncAt          *time.Time        `json:"last_sync_at,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// SyncStatus is the outcome recorded for one sync attempt.
type SyncStatus string

const (
	SyncSucceeded SyncStatus = "success"
	SyncFailed    SyncStatus = "failed"
)

// SyncLog is one persisted sync attempt of an invoice to a provider.
type SyncLog struct {
	ID           string     `json:"id"`
	InvoiceID    string     `json:"invoice_id"`
	ConnectionID string     `json:"connection_id"`
	Provider     string     `json:"provider"`
	Status       SyncStatus `json:"status"`
	ExternalID   string     `json:"external_id,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
}
