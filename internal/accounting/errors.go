package accounting

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotConnected is returned when an authenticated call is made without a usable session.
	ErrNotConnected = errors.New("accounting provider is not connected")

	// ErrNotApproved is returned when syncing an invoice that has not been approved.
	ErrNotApproved = errors.New("invoice must be approved before syncing")

	// ErrNotSupported is returned for operations a provider cannot perform.
	ErrNotSupported = errors.New("operation not supported by this provider")

	// ErrInvalidPayload is returned when a bill payload misses required data.
	ErrInvalidPayload = errors.New("invalid bill payload")

	// ErrStateMismatch is returned when an OAuth callback carries an unexpected state value.
	ErrStateMismatch = errors.New("oauth state does not match")
)

// OAuthError reports that the provider rejected an authorization code exchange.
// The OAuth handshake has to be restarted.
type OAuthError struct {
	Provider    Provider
	Code        string
	Description string
	Err         error
}

func (e *OAuthError) Error() string {
	msg := fmt.Sprintf("%s oauth failed", e.Provider.DisplayName())
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OAuthError) Unwrap() error { return e.Err }

// TokenExpiredError reports that the refresh token itself is no longer valid.
// Retrying does not help; the user has to reconnect.
type TokenExpiredError struct {
	Provider Provider
	Err      error
}

func (e *TokenExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s refresh token expired, reconnection required: %v", e.Provider.DisplayName(), e.Err)
	}
	return fmt.Sprintf("%s refresh token expired, reconnection required", e.Provider.DisplayName())
}

func (e *TokenExpiredError) Unwrap() error { return e.Err }

// SyncError is a classified provider failure. IsTransient decides whether a
// retry may succeed; RetryAfter is the provider's requested wait, if any.
// In JSON, retry_after is a whole number of seconds.
type SyncError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	IsTransient bool           `json:"is_transient"`
	RetryAfter  time.Duration  `json:"-"`
	Details     map[string]any `json:"details,omitempty"`
	Err         error          `json:"-"`
}

type syncErrorJSON struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	IsTransient bool           `json:"is_transient"`
	RetryAfter  int64          `json:"retry_after,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func (e *SyncError) MarshalJSON() ([]byte, error) {
	return json.Marshal(syncErrorJSON{
		Code:        e.Code,
		Message:     e.Message,
		IsTransient: e.IsTransient,
		RetryAfter:  int64(math.Ceil(e.RetryAfter.Seconds())),
		Details:     e.Details,
	})
}

func (e *SyncError) UnmarshalJSON(data []byte) error {
	var raw syncErrorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = SyncError{
		Code:        raw.Code,
		Message:     raw.Message,
		IsTransient: raw.IsTransient,
		RetryAfter:  time.Duration(raw.RetryAfter) * time.Second,
		Details:     raw.Details,
	}
	return nil
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync error %s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IdempotencyConflictError reports that the provider already holds a bill for
// the invoice. It is an expected outcome of repeated syncs, not a failure to retry.
type IdempotencyConflictError struct {
	Provider       Provider
	IdempotencyKey string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("%s already has a bill for invoice %q", e.Provider.DisplayName(), e.IdempotencyKey)
}

// UnsupportedProviderError is returned for unknown provider names and for
// known providers without an adapter implementation.
type UnsupportedProviderError struct {
	Provider string
	Reason   string
}

func (e *UnsupportedProviderError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported accounting provider %q: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("unsupported accounting provider %q", e.Provider)
}

// IsTransient reports whether err is a SyncError that may succeed on retry,
// and how long the provider asked to wait.
func IsTransient(err error) (bool, time.Duration) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.IsTransient, syncErr.RetryAfter
	}
	return false, 0
}

// AsSyncError converts any error into a SyncError for logging and persistence.
func AsSyncError(err error) *SyncError {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	var (
		oauthErr    *OAuthError
		expiredErr  *TokenExpiredError
		conflictErr *IdempotencyConflictError
	)
	switch {
	case errors.As(err, &expiredErr):
		return &SyncError{Code: "TOKEN_EXPIRED", Message: err.Error(), Err: err}
	case errors.As(err, &oauthErr):
		return &SyncError{Code: "OAUTH_ERROR", Message: err.Error(), Err: err}
	case errors.As(err, &conflictErr):
		return &SyncError{Code: "DUPLICATE_BILL", Message: err.Error(), Err: err}
	case errors.Is(err, ErrNotConnected):
		return &SyncError{Code: "NOT_CONNECTED", Message: err.Error(), Err: err}
	case errors.Is(err, ErrNotApproved), errors.Is(err, ErrInvalidPayload):
		return &SyncError{Code: "VALIDATION_ERROR", Message: err.Error(), Err: err}
	}
	return &SyncError{Code: "UNKNOWN_ERROR", Message: err.Error(), Err: err}
}
