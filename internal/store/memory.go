package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoiceflow/internal/logger"
	"invoiceflow/pkg/models"
)

// Memory is a mutex-guarded in-process store. With a snapshot path every
// mutation is also written to a JSON file so CLI runs can share state.
type Memory struct {
	mu          sync.RWMutex
	invoices    map[string]*models.Invoice
	connections map[string]*models.AccountingConnection
	logs        []models.SyncLog
	path        string
	now         func() time.Time
	log         zerolog.Logger
}

// NewMemory creates an empty store that lives only as long as the process.
func NewMemory() *Memory {
	return &Memory{
		invoices:    map[string]*models.Invoice{},
		connections: map[string]*models.AccountingConnection{},
		now:         time.Now,
		log:         logger.WithComponent("store"),
	}
}

// OpenSnapshot loads the store persisted at path, starting empty when the file does not exist.
func OpenSnapshot(path string) (*Memory, error) {
	const op = "OpenSnapshot"

	m := NewMemory()
	m.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m.log.Debug().Str("path", path).Msg("No snapshot yet, starting empty")
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, path, err)
	}
	for i := range snap.Invoices {
		inv := snap.Invoices[i]
		m.invoices[inv.ID] = &inv
	}
	for _, rec := range snap.Connections {
		conn := rec.connection()
		m.connections[conn.ID] = conn
	}
	m.logs = snap.SyncLogs

	m.log.Debug().
		Str("path", path).
		Int("invoices", len(m.invoices)).
		Int("connections", len(m.connections)).
		Msg("Snapshot loaded")
	return m, nil
}

// Close is a no-op; every mutation is already flushed.
func (m *Memory) Close() {}

func (m *Memory) Get(_ context.Context, id string) (*models.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

func (m *Memory) Save(_ context.Context, inv *models.Invoice) error {
	if inv == nil || inv.CompanyID == "" {
		return fmt.Errorf("%w: invoice needs a company", ErrInvalidRecord)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Status == "" {
		inv.Status = models.StatusInbox
	}
	if prev, ok := m.invoices[inv.ID]; ok {
		inv.CreatedAt = prev.CreatedAt
	} else if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	m.invoices[inv.ID] = cloneInvoice(inv)
	return m.flush()
}

func (m *Memory) SaveRawText(_ context.Context, id, rawText string, ocrConfidence float64) error {
	return m.updateInvoice(id, func(inv *models.Invoice) {
		inv.RawOCR = rawText
		inv.OCRConfidence = ocrConfidence
		inv.Status = models.StatusNeedsReview
	})
}

func (m *Memory) SaveExtraction(_ context.Context, id string, extracted *models.ExtractedInvoice) error {
	if extracted == nil {
		return fmt.Errorf("%w: nil extraction", ErrInvalidRecord)
	}
	return m.updateInvoice(id, func(inv *models.Invoice) {
		inv.ApplyExtraction(cloneExtracted(extracted))
		inv.Status = models.StatusNeedsReview
	})
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status models.InvoiceStatus) error {
	return m.updateInvoice(id, func(inv *models.Invoice) {
		inv.Status = status
	})
}

func (m *Memory) ListByCompany(_ context.Context, companyID string) ([]models.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.CompanyID == companyID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) updateInvoice(id string, apply func(inv *models.Invoice)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	apply(inv)
	inv.UpdatedAt = m.now()
	return m.flush()
}

func (m *Memory) Upsert(_ context.Context, conn *models.AccountingConnection) error {
	if err := validateConnection(conn); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing := m.findLocked(conn.CompanyID, conn.Provider)
	if existing != nil {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
		conn.IsDefault = conn.IsDefault || existing.IsDefault
		if conn.LastSyncAt == nil {
			conn.LastSyncAt = existing.LastSyncAt
		}
	} else {
		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}
		conn.CreatedAt = now
	}
	conn.IsActive = true
	conn.UpdatedAt = now

	if conn.IsDefault {
		m.clearDefaultLocked(conn.CompanyID)
	} else if m.defaultLocked(conn.CompanyID) == nil {
		// the first active connection of a company becomes its default
		conn.IsDefault = true
	}

	m.connections[conn.ID] = cloneConnection(conn)
	return m.flush()
}

func (m *Memory) GetConnection(_ context.Context, id string) (*models.AccountingConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return cloneConnection(conn), nil
}

func (m *Memory) Find(_ context.Context, companyID, provider string) (*models.AccountingConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn := m.findLocked(companyID, provider)
	if conn == nil {
		return nil, fmt.Errorf("%s connection for company %s: %w", provider, companyID, ErrNotFound)
	}
	return cloneConnection(conn), nil
}

func (m *Memory) GetDefault(_ context.Context, companyID string) (*models.AccountingConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn := m.defaultLocked(companyID)
	if conn == nil {
		return nil, fmt.Errorf("default connection for company %s: %w", companyID, ErrNotFound)
	}
	return cloneConnection(conn), nil
}

func (m *Memory) SetDefault(_ context.Context, companyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok || conn.CompanyID != companyID || !conn.IsActive {
		return fmt.Errorf("active connection %s for company %s: %w", id, companyID, ErrNotFound)
	}
	m.clearDefaultLocked(companyID)
	conn.IsDefault = true
	conn.UpdatedAt = m.now()
	return m.flush()
}

func (m *Memory) Deactivate(_ context.Context, id string) error {
	return m.updateConnection(id, func(conn *models.AccountingConnection) {
		conn.IsActive = false
		conn.IsDefault = false
		conn.AccessToken = ""
		conn.RefreshToken = ""
		conn.TokenExpiresAt = nil
	})
}

func (m *Memory) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	return m.updateConnection(id, func(conn *models.AccountingConnection) {
		conn.AccessToken = accessToken
		if refreshToken != "" {
			conn.RefreshToken = refreshToken
		}
		conn.TokenExpiresAt = expiresAt
	})
}

func (m *Memory) RecordSync(_ context.Context, entry models.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(entry)
	if conn, ok := m.connections[entry.ConnectionID]; ok {
		at := entry.CreatedAt
		conn.LastSyncAt = &at
		conn.LastError = syncError(entry)
		conn.UpdatedAt = m.now()
	}
	return m.flush()
}

func (m *Memory) Append(_ context.Context, entry models.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(entry)
	return m.flush()
}

func (m *Memory) ListByInvoice(_ context.Context, invoiceID string) ([]models.SyncLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SyncLog
	for _, entry := range m.logs {
		if entry.InvoiceID == invoiceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *Memory) appendLocked(entry models.SyncLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	m.logs = append(m.logs, entry)
}

func (m *Memory) updateConnection(id string, apply func(conn *models.AccountingConnection)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	apply(conn)
	conn.UpdatedAt = m.now()
	return m.flush()
}

func (m *Memory) findLocked(companyID, provider string) *models.AccountingConnection {
	for _, conn := range m.connections {
		if conn.CompanyID == companyID && conn.Provider == provider {
			return conn
		}
	}
	return nil
}

func (m *Memory) defaultLocked(companyID string) *models.AccountingConnection {
	for _, conn := range m.connections {
		if conn.CompanyID == companyID && conn.IsActive && conn.IsDefault {
			return conn
		}
	}
	return nil
}

func (m *Memory) clearDefaultLocked(companyID string) {
	for _, conn := range m.connections {
		if conn.CompanyID == companyID {
			conn.IsDefault = false
		}
	}
}

// flush writes the snapshot through a temp file and rename. Callers hold mu.
func (m *Memory) flush() error {
	if m.path == "" {
		return nil
	}

	snap := snapshot{SyncLogs: m.logs}
	for _, inv := range m.invoices {
		snap.Invoices = append(snap.Invoices, *inv)
	}
	for _, conn := range m.connections {
		snap.Connections = append(snap.Connections, newConnectionRecord(conn))
	}
	sort.Slice(snap.Invoices, func(i, j int) bool { return snap.Invoices[i].ID < snap.Invoices[j].ID })
	sort.Slice(snap.Connections, func(i, j int) bool { return snap.Connections[i].ID < snap.Connections[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

type snapshot struct {
	Invoices    []models.Invoice   `json:"invoices"`
	Connections []connectionRecord `json:"connections"`
	SyncLogs    []models.SyncLog   `json:"sync_logs"`
}

// connectionRecord carries the credentials the public model hides from JSON.
type connectionRecord struct {
	models.AccountingConnection
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func newConnectionRecord(conn *models.AccountingConnection) connectionRecord {
	return connectionRecord{
		AccountingConnection: *conn,
		AccessToken:          conn.AccessToken,
		RefreshToken:         conn.RefreshToken,
	}
}

func (r connectionRecord) connection() *models.AccountingConnection {
	conn := r.AccountingConnection
	conn.AccessToken = r.AccessToken
	conn.RefreshToken = r.RefreshToken
	return &conn
}

func cloneInvoice(inv *models.Invoice) *models.Invoice {
	out := *inv
	out.LineItems = slices.Clone(inv.LineItems)
	out.Extracted = cloneExtracted(inv.Extracted)
	return &out
}

func cloneExtracted(e *models.ExtractedInvoice) *models.ExtractedInvoice {
	if e == nil {
		return nil
	}
	out := *e
	out.LineItems = slices.Clone(e.LineItems)
	out.Confidence.Fields = maps.Clone(e.Confidence.Fields)
	return &out
}

func cloneConnection(conn *models.AccountingConnection) *models.AccountingConnection {
	out := *conn
	out.Scopes = slices.Clone(conn.Scopes)
	out.Metadata = maps.Clone(conn.Metadata)
	return &out
}
