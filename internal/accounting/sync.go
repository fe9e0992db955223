package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoiceflow/internal/duplicates"
	"invoiceflow/internal/logger"
	"invoiceflow/pkg/models"
)

// SyncRecorder persists one log row per sync run.
type SyncRecorder interface {
	RecordSync(ctx context.Context, entry models.SyncLog) error
}

// SyncConfig holds sync runner settings
type SyncConfig struct {
	Timeout     time.Duration // per provider call
	MaxRetries  int           // retries after the first attempt, transient errors only
	BaseBackoff time.Duration // multiplied by the attempt number
	MaxBackoff  time.Duration // caps provider requested waits
	VendorMatch float64       // fuzzy threshold when resolving vendors by name
}

// DefaultSyncConfig returns default sync settings
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  2 * time.Minute,
		VendorMatch: duplicates.DefaultVendorMatchThreshold,
	}
}

// SyncOutcome summarizes one Sync call.
type SyncOutcome struct {
	Status        models.SyncStatus `json:"status"`
	BillID        string            `json:"bill_id,omitempty"`
	BillURL       string            `json:"bill_url,omitempty"`
	VendorID      string            `json:"vendor_id,omitempty"`
	Attempts      int               `json:"attempts"`
	AlreadySynced bool              `json:"already_synced"`
	Error         *SyncError        `json:"error,omitempty"`
}

// Syncer pushes approved invoices into an accounting provider.
type Syncer struct {
	cfg      SyncConfig
	recorder SyncRecorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// NewSyncer creates a sync runner. recorder may be nil.
func NewSyncer(cfg SyncConfig, recorder SyncRecorder) *Syncer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSyncConfig().Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.VendorMatch <= 0 {
		cfg.VendorMatch = duplicates.DefaultVendorMatchThreshold
	}
	return &Syncer{
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
		sleep:    sleepContext,
		log:      logger.WithComponent("accounting-sync"),
	}
}

// Sync builds the bill payload for inv and creates the bill through adapter.
// The invoice is updated in place: synced on success (including when the
// provider already had the bill), LastSyncError set and status kept on failure.
func (s *Syncer) Sync(ctx context.Context, inv *models.Invoice, adapter Adapter, connectionID string) (*SyncOutcome, error) {
	const op = "Sync"

	log := logger.WithProvider(logger.WithInvoice(s.log, invoiceID(inv)), string(adapter.Provider()))
	outcome := &SyncOutcome{Status: models.SyncFailed}

	err := s.sync(ctx, inv, adapter, outcome, log)
	if err != nil {
		outcome.Error = s.classify(adapter, err)
		log.Error().
			Str("code", outcome.Error.Code).
			Bool("transient", outcome.Error.IsTransient).
			Int("attempts", outcome.Attempts).
			Msg(outcome.Error.Message)
		if inv != nil {
			inv.LastSyncError = outcome.Error.Message
			inv.UpdatedAt = s.now()
		}
	}

	s.record(ctx, inv, adapter.Provider(), connectionID, outcome, log)

	if err != nil {
		return outcome, fmt.Errorf("%s: %w", op, err)
	}
	return outcome, nil
}

func (s *Syncer) sync(ctx context.Context, inv *models.Invoice, adapter Adapter, outcome *SyncOutcome, log zerolog.Logger) error {
	if inv == nil {
		return fmt.Errorf("%w: invoice is nil", ErrInvalidPayload)
	}
	if inv.Status != models.StatusApproved {
		return fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, ErrNotApproved)
	}

	if err := s.call(ctx, func(ctx context.Context) error { return adapter.RefreshTokenIfNeeded(ctx) }); err != nil {
		return err
	}

	vendorID := inv.VendorID
	if vendorID == "" {
		var err error
		vendorID, err = s.ResolveVendor(ctx, adapter, inv)
		if err != nil {
			return err
		}
	}
	outcome.VendorID = vendorID

	payload, err := BuildBillPayload(inv, vendorID, s.now())
	if err != nil {
		return err
	}

	var result *BillResult
	err = s.withRetries(ctx, adapter, outcome, log, func(ctx context.Context) error {
		var callErr error
		result, callErr = adapter.CreateBill(ctx, payload)
		if callErr == nil && result != nil && !result.Success && result.Error != nil {
			callErr = result.Error
		}
		return callErr
	})

	var conflict *IdempotencyConflictError
	switch {
	case errors.As(err, &conflict):
		log.Info().Str("idempotency_key", payload.IdempotencyKey).Msg("bill already exists in provider")
		outcome.AlreadySynced = true
		s.markSynced(inv, outcome)
		return nil
	case err != nil:
		return err
	case result == nil:
		return &SyncError{Code: "UNKNOWN_ERROR", Message: "provider returned no bill result"}
	}

	outcome.BillID = result.BillID
	outcome.BillURL = result.BillURL
	if result.VendorID != "" {
		outcome.VendorID = result.VendorID
	}
	s.markSynced(inv, outcome)

	log.Info().
		Str("bill_id", result.BillID).
		Int("attempts", outcome.Attempts).
		Msg("bill created")
	return nil
}

// ResolveVendor finds the provider vendor for the invoice's extracted vendor
// name, creating it when no existing vendor is similar enough.
func (s *Syncer) ResolveVendor(ctx context.Context, adapter Adapter, inv *models.Invoice) (string, error) {
	const op = "ResolveVendor"

	var payload VendorPayload
	if inv.Extracted != nil {
		payload = VendorPayload{
			Name:    strings.TrimSpace(models.StringValue(inv.Extracted.Vendor.Name)),
			Email:   models.StringValue(inv.Extracted.Vendor.Email),
			Address: models.StringValue(inv.Extracted.Vendor.Address),
			TaxID:   models.StringValue(inv.Extracted.Vendor.TaxID),
		}
	}
	if payload.Name == "" {
		return "", fmt.Errorf("%s: %w: invoice has no vendor", op, ErrInvalidPayload)
	}

	var vendors []Vendor
	err := s.call(ctx, func(ctx context.Context) error {
		var callErr error
		vendors, callErr = adapter.GetVendors(ctx, payload.Name)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	candidates := make([]duplicates.VendorCandidate, 0, len(vendors))
	for _, v := range vendors {
		candidates = append(candidates, duplicates.VendorCandidate{ID: v.ID, Name: v.Name})
	}
	if match, score, ok := duplicates.MatchVendor(payload.Name, candidates, s.cfg.VendorMatch); ok {
		s.log.Debug().Str("vendor_id", match.ID).Float64("score", score).Msg("matched existing vendor")
		return match.ID, nil
	}

	var id string
	err = s.call(ctx, func(ctx context.Context) error {
		var callErr error
		id, callErr = adapter.CreateVendor(ctx, payload)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info().Str("vendor_id", id).Str("vendor", payload.Name).Msg("created vendor")
	return id, nil
}

func (s *Syncer) withRetries(ctx context.Context, adapter Adapter, outcome *SyncOutcome, log zerolog.Logger, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		outcome.Attempts = attempt + 1

		err = s.call(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		classified := s.classify(adapter, err)
		if !classified.IsTransient || attempt == s.cfg.MaxRetries {
			return classified
		}

		wait := s.backoff(attempt, classified.RetryAfter)
		log.Warn().
			Str("code", classified.Code).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("transient provider error, retrying")
		if sleepErr := s.sleep(ctx, wait); sleepErr != nil {
			return classified
		}
	}
	return err
}

func (s *Syncer) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return fn(callCtx)
}

func (s *Syncer) backoff(attempt int, retryAfter time.Duration) time.Duration {
	wait := time.Duration(attempt+1) * s.cfg.BaseBackoff
	if retryAfter > wait {
		wait = retryAfter
	}
	if s.cfg.MaxBackoff > 0 && wait > s.cfg.MaxBackoff {
		wait = s.cfg.MaxBackoff
	}
	return wait
}

// classify keeps the taxonomy types and lets the adapter interpret anything else.
func (s *Syncer) classify(adapter Adapter, err error) *SyncError {
	var (
		syncErr     *SyncError
		oauthErr    *OAuthError
		expiredErr  *TokenExpiredError
		conflictErr *IdempotencyConflictError
	)
	switch {
	case errors.As(err, &syncErr):
		return syncErr
	case errors.As(err, &oauthErr), errors.As(err, &expiredErr), errors.As(err, &conflictErr),
		errors.Is(err, ErrNotApproved), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrNotConnected):
		return AsSyncError(err)
	}
	if classified := adapter.HandleProviderError(err); classified != nil {
		return classified
	}
	return AsSyncError(err)
}

func (s *Syncer) markSynced(inv *models.Invoice, outcome *SyncOutcome) {
	now := s.now()
	outcome.Status = models.SyncSucceeded
	inv.Status = models.StatusSynced
	if outcome.BillID != "" {
		inv.ExternalBillID = outcome.BillID
	}
	if inv.VendorID == "" {
		inv.VendorID = outcome.VendorID
	}
	inv.LastSyncError = ""
	inv.SyncedAt = &now
	inv.UpdatedAt = now
}

func (s *Syncer) record(ctx context.Context, inv *models.Invoice, provider Provider, connectionID string, outcome *SyncOutcome, log zerolog.Logger) {
	if s.recorder == nil {
		return
	}
	entry := models.SyncLog{
		ID:           uuid.NewString(),
		InvoiceID:    invoiceID(inv),
		ConnectionID: connectionID,
		Provider:     string(provider),
		Status:       outcome.Status,
		ExternalID:   outcome.BillID,
		Attempts:     outcome.Attempts,
		CreatedAt:    s.now(),
	}
	if outcome.Error != nil {
		entry.ErrorCode = outcome.Error.Code
		entry.ErrorMessage = outcome.Error.Message
	}
	// the log row is kept even when the caller's context is already done
	if err := s.recorder.RecordSync(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Msg("failed to record sync log")
	}
}

// retryable filters out errors that must never be retried regardless of classification.
func retryable(err error) bool {
	var (
		oauthErr    *OAuthError
		expiredErr  *TokenExpiredError
		conflictErr *IdempotencyConflictError
	)
	return !errors.As(err, &oauthErr) && !errors.As(err, &expiredErr) && !errors.As(err, &conflictErr) &&
		!errors.Is(err, ErrNotApproved) && !errors.Is(err, ErrInvalidPayload) && !errors.Is(err, ErrNotConnected)
}

func invoiceID(inv *models.Invoice) string {
	if inv == nil {
		return ""
	}
	return inv.ID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
