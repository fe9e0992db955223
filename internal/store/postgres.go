package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"invoiceflow/internal/logger"
	"invoiceflow/pkg/models"
)

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DefaultPostgresConfig returns pool defaults for a CLI or small service.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
	}
}

// Postgres stores records in PostgreSQL through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
	log  zerolog.Logger
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	const op = "OpenPostgres"
	log := logger.WithComponent("store")

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: parse DSN: %w", op, err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "invoiceflow"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	log.Info().Str("database", pc.ConnConfig.Database).Msg("Connected to database")
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool: pool,
		now:  time.Now,
		log:  logger.WithComponent("store"),
	}
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL,
	status         TEXT NOT NULL,
	invoice_number TEXT NOT NULL DEFAULT '',
	invoice_date   TEXT NOT NULL DEFAULT '',
	raw_ocr        TEXT NOT NULL DEFAULT '',
	ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	record         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS invoices_company_idx ON invoices (company_id, created_at);

CREATE TABLE IF NOT EXISTS accounting_connections (
	id                    TEXT PRIMARY KEY,
	company_id            TEXT NOT NULL,
	provider              TEXT NOT NULL,
	provider_company_id   TEXT NOT NULL DEFAULT '',
	provider_company_name TEXT NOT NULL DEFAULT '',
	access_token          TEXT NOT NULL DEFAULT '',
	refresh_token         TEXT NOT NULL DEFAULT '',
	token_expires_at      TIMESTAMPTZ,
	scopes                TEXT[] NOT NULL DEFAULT '{}',
	is_active             BOOLEAN NOT NULL DEFAULT TRUE,
	is_default            BOOLEAN NOT NULL DEFAULT FALSE,
	last_sync_at          TIMESTAMPTZ,
	last_error            TEXT NOT NULL DEFAULT '',
	metadata              JSONB NOT NULL DEFAULT '{}',
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL,
	UNIQUE (company_id, provider)
);
CREATE UNIQUE INDEX IF NOT EXISTS accounting_connections_default_idx
	ON accounting_connections (company_id) WHERE is_default;

CREATE TABLE IF NOT EXISTS sync_logs (
	id            TEXT PRIMARY KEY,
	invoice_id    TEXT NOT NULL,
	connection_id TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	external_id   TEXT NOT NULL DEFAULT '',
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sync_logs_invoice_idx ON sync_logs (invoice_id, created_at);
`

// EnsureSchema creates the tables when they are missing. It never alters existing tables.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	p.log.Debug().Msg("Schema ensured")
	return nil
}

// Invoices

func (p *Postgres) Get(ctx context.Context, id string) (*models.Invoice, error) {
	return getInvoice(ctx, p.pool, id, false)
}

func (p *Postgres) Save(ctx context.Context, inv *models.Invoice) error {
	if inv == nil || inv.CompanyID == "" {
		return fmt.Errorf("%w: invoice needs a company", ErrInvalidRecord)
	}

	now := p.now()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Status == "" {
		inv.Status = models.StatusInbox
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	return writeInvoice(ctx, p.pool, inv)
}

func (p *Postgres) SaveRawText(ctx context.Context, id, rawText string, ocrConfidence float64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE invoices SET raw_ocr = $2, ocr_confidence = $3, status = $4, updated_at = $5 WHERE id = $1`,
		id, rawText, ocrConfidence, string(models.StatusNeedsReview), p.now())
	return affected("SaveRawText", "invoice "+id, tag, err)
}

func (p *Postgres) SaveExtraction(ctx context.Context, id string, extracted *models.ExtractedInvoice) error {
	if extracted == nil {
		return fmt.Errorf("%w: nil extraction", ErrInvalidRecord)
	}
	return p.updateInvoice(ctx, id, func(inv *models.Invoice) {
		inv.ApplyExtraction(extracted)
		inv.Status = models.StatusNeedsReview
	})
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, status models.InvoiceStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE invoices SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), p.now())
	return affected("UpdateStatus", "invoice "+id, tag, err)
}

func (p *Postgres) ListByCompany(ctx context.Context, companyID string) ([]models.Invoice, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT record, status, raw_ocr, ocr_confidence, created_at, updated_at
		   FROM invoices WHERE company_id = $1 ORDER BY created_at, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("ListByCompany: %w", err)
	}
	defer rows.Close()

	var out []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByCompany: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByCompany: %w", err)
	}
	return out, nil
}

// updateInvoice applies a read-modify-write under a row lock.
func (p *Postgres) updateInvoice(ctx context.Context, id string, apply func(inv *models.Invoice)) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		inv, err := getInvoice(ctx, tx, id, true)
		if err != nil {
			return err
		}
		apply(inv)
		inv.UpdatedAt = p.now()
		return writeInvoice(ctx, tx, inv)
	})
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getInvoice(ctx context.Context, q querier, id string, forUpdate bool) (*models.Invoice, error) {
	sql := `SELECT record, status, raw_ocr, ocr_confidence, created_at, updated_at FROM invoices WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	return inv, nil
}

// scanInvoice reads the JSON record and overlays the columns that are written on their own.
func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		record []byte
		status string
		inv    models.Invoice
	)
	if err := row.Scan(&record, &status, &inv.RawOCR, &inv.OCRConfidence, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	rawOCR, ocrConfidence, createdAt, updatedAt := inv.RawOCR, inv.OCRConfidence, inv.CreatedAt, inv.UpdatedAt
	if err := json.Unmarshal(record, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice record: %w", err)
	}
	inv.Status = models.InvoiceStatus(status)
	inv.RawOCR = rawOCR
	inv.OCRConfidence = ocrConfidence
	inv.CreatedAt = createdAt
	inv.UpdatedAt = updatedAt
	return &inv, nil
}

func writeInvoice(ctx context.Context, q querier, inv *models.Invoice) error {
	doc := *inv
	doc.RawOCR = ""
	record, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode invoice record: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO invoices (id, company_id, status, invoice_number, invoice_date, raw_ocr, ocr_confidence, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			status = EXCLUDED.status,
			invoice_number = EXCLUDED.invoice_number,
			invoice_date = EXCLUDED.invoice_date,
			raw_ocr = EXCLUDED.raw_ocr,
			ocr_confidence = EXCLUDED.ocr_confidence,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at`,
		inv.ID, inv.CompanyID, string(inv.Status), inv.InvoiceNumber, inv.InvoiceDate,
		inv.RawOCR, inv.OCRConfidence, string(record), inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}
	return nil
}

// Connections

const connectionColumns = `id, company_id, provider, provider_company_id, provider_company_name,
	access_token, refresh_token, token_expires_at, scopes, is_active, is_default,
	last_sync_at, last_error, metadata, created_at, updated_at`

func (p *Postgres) Upsert(ctx context.Context, conn *models.AccountingConnection) error {
	if err := validateConnection(conn); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		now := p.now()
		existing, err := queryConnection(ctx, tx,
			`SELECT `+connectionColumns+` FROM accounting_connections WHERE company_id = $1 AND provider = $2 FOR UPDATE`,
			conn.CompanyID, conn.Provider)
		switch {
		case err == nil:
			conn.ID = existing.ID
			conn.CreatedAt = existing.CreatedAt
			conn.IsDefault = conn.IsDefault || existing.IsDefault
			if conn.LastSyncAt == nil {
				conn.LastSyncAt = existing.LastSyncAt
			}
		case errors.Is(err, ErrNotFound):
			if conn.ID == "" {
				conn.ID = uuid.NewString()
			}
			conn.CreatedAt = now
		default:
			return err
		}
		conn.IsActive = true
		conn.UpdatedAt = now

		if conn.IsDefault {
			if err := clearDefault(ctx, tx, conn.CompanyID, conn.ID); err != nil {
				return err
			}
		} else {
			var hasDefault bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM accounting_connections WHERE company_id = $1 AND is_default AND is_active)`,
				conn.CompanyID).Scan(&hasDefault)
			if err != nil {
				return fmt.Errorf("Upsert: %w", err)
			}
			conn.IsDefault = !hasDefault
		}

		metadata, err := json.Marshal(conn.Metadata)
		if err != nil {
			return fmt.Errorf("Upsert: encode metadata: %w", err)
		}
		scopes := conn.Scopes
		if scopes == nil {
			scopes = []string{}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO accounting_connections (`+connectionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO UPDATE SET
				provider_company_id = EXCLUDED.provider_company_id,
				provider_company_name = EXCLUDED.provider_company_name,
				access_token = EXCLUDED.access_token,
				refresh_token = EXCLUDED.refresh_token,
				token_expires_at = EXCLUDED.token_expires_at,
				scopes = EXCLUDED.scopes,
				is_active = EXCLUDED.is_active,
				is_default = EXCLUDED.is_default,
				last_sync_at = EXCLUDED.last_sync_at,
				last_error = EXCLUDED.last_error,
				metadata = EXCLUDED.metadata,
				updated_at = EXCLUDED.updated_at`,
			conn.ID, conn.CompanyID, conn.Provider, conn.ProviderCompanyID, conn.ProviderCompanyName,
			conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt, scopes, conn.IsActive, conn.IsDefault,
			conn.LastSyncAt, conn.LastError, string(metadata), conn.CreatedAt, conn.UpdatedAt)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetConnection(ctx context.Context, id string) (*models.AccountingConnection, error) {
	return queryConnection(ctx, p.pool,
		`SELECT `+connectionColumns+` FROM accounting_connections WHERE id = $1`, id)
}

func (p *Postgres) Find(ctx context.Context, companyID, provider string) (*models.AccountingConnection, error) {
	return queryConnection(ctx, p.pool,
		`SELECT `+connectionColumns+` FROM accounting_connections WHERE company_id = $1 AND provider = $2`,
		companyID, provider)
}

func (p *Postgres) GetDefault(ctx context.Context, companyID string) (*models.AccountingConnection, error) {
	return queryConnection(ctx, p.pool,
		`SELECT `+connectionColumns+` FROM accounting_connections WHERE company_id = $1 AND is_default AND is_active`,
		companyID)
}

// SetDefault moves the default flag in one transaction.
func (p *Postgres) SetDefault(ctx context.Context, companyID, id string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := clearDefault(ctx, tx, companyID, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE accounting_connections SET is_default = TRUE, updated_at = $3
			  WHERE id = $1 AND company_id = $2 AND is_active`, id, companyID, p.now())
		return affected("SetDefault", "active connection "+id, tag, err)
	})
}

func (p *Postgres) Deactivate(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE accounting_connections
		    SET is_active = FALSE, is_default = FALSE, access_token = '', refresh_token = '',
		        token_expires_at = NULL, updated_at = $2
		  WHERE id = $1`, id, p.now())
	return affected("Deactivate", "connection "+id, tag, err)
}

func (p *Postgres) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE accounting_connections
		    SET access_token = $2,
		        refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
		        token_expires_at = $4, updated_at = $5
		  WHERE id = $1`, id, accessToken, refreshToken, expiresAt, p.now())
	return affected("UpdateTokens", "connection "+id, tag, err)
}

// RecordSync writes the log row and the connection's sync fields together.
func (p *Postgres) RecordSync(ctx context.Context, entry models.SyncLog) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		entry = p.prepareLog(entry)
		if err := insertLog(ctx, tx, entry); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE accounting_connections SET last_sync_at = $2, last_error = $3, updated_at = $4 WHERE id = $1`,
			entry.ConnectionID, entry.CreatedAt, syncError(entry), p.now())
		if err != nil {
			return fmt.Errorf("RecordSync: %w", err)
		}
		return nil
	})
}

func clearDefault(ctx context.Context, tx pgx.Tx, companyID, keepID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounting_connections SET is_default = FALSE WHERE company_id = $1 AND id <> $2 AND is_default`,
		companyID, keepID)
	if err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	return nil
}

func queryConnection(ctx context.Context, q querier, sql string, args ...any) (*models.AccountingConnection, error) {
	var (
		conn     models.AccountingConnection
		metadata []byte
	)
	err := q.QueryRow(ctx, sql, args...).Scan(
		&conn.ID, &conn.CompanyID, &conn.Provider, &conn.ProviderCompanyID, &conn.ProviderCompanyName,
		&conn.AccessToken, &conn.RefreshToken, &conn.TokenExpiresAt, &conn.Scopes, &conn.IsActive, &conn.IsDefault,
		&conn.LastSyncAt, &conn.LastError, &metadata, &conn.CreatedAt, &conn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("connection: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query connection: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conn.Metadata); err != nil {
			return nil, fmt.Errorf("decode connection metadata: %w", err)
		}
	}
	return &conn, nil
}

// Sync logs

func (p *Postgres) Append(ctx context.Context, entry models.SyncLog) error {
	return insertLog(ctx, p.pool, p.prepareLog(entry))
}

func (p *Postgres) ListByInvoice(ctx context.Context, invoiceID string) ([]models.SyncLog, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, invoice_id, connection_id, provider, status, external_id, error_code, error_message, attempts, created_at
		   FROM sync_logs WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("ListByInvoice: %w", err)
	}
	defer rows.Close()

	var out []models.SyncLog
	for rows.Next() {
		var (
			entry  models.SyncLog
			status string
		)
		if err := rows.Scan(&entry.ID, &entry.InvoiceID, &entry.ConnectionID, &entry.Provider, &status,
			&entry.ExternalID, &entry.ErrorCode, &entry.ErrorMessage, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByInvoice: %w", err)
		}
		entry.Status = models.SyncStatus(status)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByInvoice: %w", err)
	}
	return out, nil
}

func (p *Postgres) prepareLog(entry models.SyncLog) models.SyncLog {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.now()
	}
	return entry
}

func insertLog(ctx context.Context, q querier, entry models.SyncLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sync_logs (id, invoice_id, connection_id, provider, status, external_id, error_code, error_message, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.InvoiceID, entry.ConnectionID, entry.Provider, string(entry.Status),
		entry.ExternalID, entry.ErrorCode, entry.ErrorMessage, entry.Attempts, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

func affected(op, what string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %s: %w", op, what, ErrNotFound)
	}
	return nil
}
