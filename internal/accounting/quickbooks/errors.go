package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"invoiceflow/internal/accounting"
)

// RateLimitRetryAfter is the wait applied to throttled requests that carry no Retry-After header.
const RateLimitRetryAfter = 60 * time.Second

// Fault codes QuickBooks reports for conditions worth retrying.
var transientCodes = map[string]bool{
	"500": true,
	"503": true,
	"429": true,
}

type faultResponse struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

// classifyError turns a raw QuickBooks failure into a SyncError.
func classifyError(err error) *accounting.SyncError {
	if err == nil {
		return nil
	}

	var (
		syncErr     *accounting.SyncError
		oauthErr    *accounting.OAuthError
		expiredErr  *accounting.TokenExpiredError
		conflictErr *accounting.IdempotencyConflictError
	)
	switch {
	case errors.As(err, &syncErr):
		return syncErr
	case errors.As(err, &oauthErr), errors.As(err, &expiredErr), errors.As(err, &conflictErr),
		errors.Is(err, accounting.ErrNotConnected), errors.Is(err, accounting.ErrInvalidPayload):
		return accounting.AsSyncError(err)
	}

	if isTimeout(err) {
		return &accounting.SyncError{
			Code:        "TIMEOUT",
			Message:     "QuickBooks request timed out",
			IsTransient: true,
			Err:         err,
		}
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &accounting.SyncError{Code: "UNKNOWN_ERROR", Message: err.Error(), Err: err}
	}

	if apiErr.StatusCode == http.StatusUnauthorized {
		return &accounting.SyncError{
			Code:    "AUTH_ERROR",
			Message: "QuickBooks rejected the access token",
			Err:     err,
		}
	}

	out := &accounting.SyncError{Err: err}

	var fault faultResponse
	if jsonErr := json.Unmarshal(apiErr.Body, &fault); jsonErr == nil && len(fault.Fault.Error) > 0 {
		first := fault.Fault.Error[0]
		out.Code = first.Code
		out.Message = first.Message
		if out.Message == "" {
			out.Message = "Unknown error"
		}
		if first.Detail != "" {
			out.Details = map[string]any{"detail": first.Detail}
		}
	} else {
		out.Code = "UNKNOWN_ERROR"
		out.Message = apiErr.Error()
	}

	status := strconv.Itoa(apiErr.StatusCode)
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests || out.Code == "429":
		out.IsTransient = true
		out.RetryAfter = apiErr.RetryAfter
		if out.RetryAfter == 0 {
			out.RetryAfter = RateLimitRetryAfter
		}
	case transientCodes[out.Code], apiErr.StatusCode >= 500:
		out.IsTransient = true
	}
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	out.Details["http_status"] = status
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusNotFound {
		return true
	}
	// QuickBooks answers 400 with fault 610 for deleted or unknown objects
	var fault faultResponse
	if json.Unmarshal(apiErr.Body, &fault) == nil {
		for _, e := range fault.Fault.Error {
			if e.Code == "610" {
				return true
			}
		}
	}
	return false
}
