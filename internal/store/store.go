// Package store persists invoices, accounting connections and sync logs.
// Memory backs single-shot CLI runs and tests; Postgres backs deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoiceflow/internal/accounting"
	"invoiceflow/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord is returned when a record misses its identifying fields.
	ErrInvalidRecord = errors.New("invalid record")
)

// InvoiceStore persists invoice records.
type InvoiceStore interface {
	Get(ctx context.Context, id string) (*models.Invoice, error)
	// Save inserts or replaces the whole record, assigning an ID when empty.
	Save(ctx context.Context, inv *models.Invoice) error
	// SaveRawText stores the OCR text and moves the invoice to needs_review in one write.
	SaveRawText(ctx context.Context, id, rawText string, ocrConfidence float64) error
	// SaveExtraction applies an extraction result and moves the invoice to needs_review in one write.
	SaveExtraction(ctx context.Context, id string, extracted *models.ExtractedInvoice) error
	UpdateStatus(ctx context.Context, id string, status models.InvoiceStatus) error
	ListByCompany(ctx context.Context, companyID string) ([]models.Invoice, error)
}

// ConnectionStore persists accounting connections. A company holds at most one
// connection per provider and at most one default connection.
type ConnectionStore interface {
	// Upsert stores a connection keyed by (company, provider), reactivating an
	// existing row instead of creating a second one.
	Upsert(ctx context.Context, conn *models.AccountingConnection) error
	GetConnection(ctx context.Context, id string) (*models.AccountingConnection, error)
	Find(ctx context.Context, companyID, provider string) (*models.AccountingConnection, error)
	GetDefault(ctx context.Context, companyID string) (*models.AccountingConnection, error)
	SetDefault(ctx context.Context, companyID, id string) error
	// Deactivate marks a connection inactive and drops its credentials. Rows are never deleted.
	Deactivate(ctx context.Context, id string) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	// RecordSync appends the log row and updates the connection's last sync fields.
	RecordSync(ctx context.Context, entry models.SyncLog) error
}

// SyncLogStore persists sync attempts.
type SyncLogStore interface {
	Append(ctx context.Context, entry models.SyncLog) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]models.SyncLog, error)
}

// Store bundles every repository a process needs.
type Store interface {
	InvoiceStore
	ConnectionStore
	SyncLogStore
	Close()
}

// TokenSink persists renewed adapter credentials onto the session's connection.
func TokenSink(connections ConnectionStore) accounting.TokenSink {
	return func(ctx context.Context, session accounting.Session) error {
		if session.ConnectionID == "" {
			return fmt.Errorf("TokenSink: %w: session has no connection ID", ErrInvalidRecord)
		}
		var expiresAt *time.Time
		if !session.ExpiresAt.IsZero() {
			t := session.ExpiresAt
			expiresAt = &t
		}
		return connections.UpdateTokens(ctx, session.ConnectionID, session.AccessToken, session.RefreshToken, expiresAt)
	}
}

// syncError is the last_error value a sync log leaves on its connection.
func syncError(entry models.SyncLog) string {
	if entry.Status == models.SyncSucceeded {
		return ""
	}
	if entry.ErrorCode == "" {
		return entry.ErrorMessage
	}
	return entry.ErrorCode + ": " + entry.ErrorMessage
}

func validateConnection(conn *models.AccountingConnection) error {
	if conn == nil || conn.CompanyID == "" || conn.Provider == "" {
		return fmt.Errorf("%w: connection needs company and provider", ErrInvalidRecord)
	}
	return nil
}
