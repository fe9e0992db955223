package accounting

import (
	"errors"
	"fmt"
	"time"

	"invoiceflow/pkg/models"
)

// ConnectionState is the lifecycle state of a provider connection.
type ConnectionState string

const (
	StateDisconnected      ConnectionState = "disconnected"
	StateConnecting        ConnectionState = "connecting"
	StateConnected         ConnectionState = "connected"
	StateTokenExpiring     ConnectionState = "token_expiring"
	StateRefreshing        ConnectionState = "refreshing"
	StateRefreshFailed     ConnectionState = "refresh_failed"
	StateNeedsReconnection ConnectionState = "needs_reconnection"
)

// ConnectionEvent drives state transitions.
type ConnectionEvent string

const (
	EventConnect           ConnectionEvent = "connect"
	EventAuthorized        ConnectionEvent = "authorized"
	EventAuthFailed        ConnectionEvent = "auth_failed"
	EventTokenExpiring     ConnectionEvent = "token_expiring"
	EventRefresh           ConnectionEvent = "refresh"
	EventRefreshed         ConnectionEvent = "refreshed"
	EventRefreshFailed     ConnectionEvent = "refresh_failed"
	EventReconnectRequired ConnectionEvent = "reconnect_required"
	EventDisconnect        ConnectionEvent = "disconnect"
)

// DefaultRefreshWindow is how long before expiry an access token is renewed.
const DefaultRefreshWindow = 5 * time.Minute

// ErrInvalidTransition is returned for events that are not legal in the current state.
var ErrInvalidTransition = errors.New("invalid connection state transition")

var transitions = map[ConnectionState]map[ConnectionEvent]ConnectionState{
	StateDisconnected: {
		EventConnect: StateConnecting,
	},
	StateConnecting: {
		EventAuthorized: StateConnected,
		EventAuthFailed: StateDisconnected,
	},
	StateConnected: {
		EventTokenExpiring: StateTokenExpiring,
		EventDisconnect:    StateDisconnected,
	},
	StateTokenExpiring: {
		EventRefresh:    StateRefreshing,
		EventDisconnect: StateDisconnected,
	},
	StateRefreshing: {
		EventRefreshed:     StateConnected,
		EventRefreshFailed: StateRefreshFailed,
	},
	StateRefreshFailed: {
		EventReconnectRequired: StateNeedsReconnection,
	},
	StateNeedsReconnection: {
		EventConnect:    StateConnecting,
		EventDisconnect: StateDisconnected,
	},
}

// Transition returns the state reached by applying event to s.
func (s ConnectionState) Transition(event ConnectionEvent) (ConnectionState, error) {
	next, ok := transitions[s][event]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, s)
	}
	return next, nil
}

// IsUsable reports whether authenticated calls can be attempted in this state.
func (s ConnectionState) IsUsable() bool {
	return s == StateConnected || s == StateTokenExpiring
}

// StateFromSession derives the state of a session's credentials at now.
func StateFromSession(session Session, now time.Time, window time.Duration) ConnectionState {
	if session.AccessToken == "" && session.RefreshToken == "" {
		return StateDisconnected
	}
	return stateForExpiry(session.RefreshToken != "", session.ExpiresAt, now, window)
}

// StateFromConnection derives the state of a stored connection at now.
func StateFromConnection(conn *models.AccountingConnection, now time.Time, window time.Duration) ConnectionState {
	if conn == nil || !conn.IsActive {
		return StateDisconnected
	}
	if conn.TokenExpiresAt == nil {
		// file-based providers carry no tokens
		return StateConnected
	}
	return stateForExpiry(conn.RefreshToken != "", *conn.TokenExpiresAt, now, window)
}

func stateForExpiry(canRefresh bool, expiresAt, now time.Time, window time.Duration) ConnectionState {
	if expiresAt.IsZero() || now.Add(window).Before(expiresAt) {
		return StateConnected
	}
	if !canRefresh && !now.Before(expiresAt) {
		return StateNeedsReconnection
	}
	return StateTokenExpiring
}

// SessionFromConnection builds the adapter session for a stored connection.
func SessionFromConnection(conn *models.AccountingConnection) Session {
	s := Session{
		ConnectionID:      conn.ID,
		CompanyID:         conn.CompanyID,
		ProviderCompanyID: conn.ProviderCompanyID,
		AccessToken:       conn.AccessToken,
		RefreshToken:      conn.RefreshToken,
		Metadata:          conn.Metadata,
	}
	if conn.TokenExpiresAt != nil {
		s.ExpiresAt = *conn.TokenExpiresAt
	}
	return s
}
