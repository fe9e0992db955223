// Package quickbooks implements the accounting adapter for QuickBooks Online:
// OAuth 2.0 authorization code flow, vendor directory and bill creation over
// the v3 REST API.
package quickbooks

import (
	"fmt"
	"time"
)

// Environment selects the QuickBooks API host.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

const (
	authURL   = "https://appcenter.intuit.com/connect/oauth2"
	tokenURL  = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	revokeURL = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"

	sandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com/v3"
	productionBaseURL = "https://quickbooks.api.intuit.com/v3"

	sandboxAppURL    = "https://app.sandbox.qbo.intuit.com/app/bill?txnId="
	productionAppURL = "https://app.qbo.intuit.com/app/bill?txnId="

	// Scope is the only OAuth scope the adapter requests.
	Scope = "com.intuit.quickbooks.accounting"
)

// Config holds QuickBooks client settings. The URL fields are derived from
// Environment when empty.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Environment  Environment
	MinorVersion string
	RateLimit    float64 // requests per second
	HTTPTimeout  time.Duration

	AuthURL    string
	TokenURL   string
	RevokeURL  string
	BaseURL    string
	AppBillURL string
}

// DefaultConfig returns default QuickBooks settings for the sandbox.
func DefaultConfig() Config {
	return Config{
		Environment:  Sandbox,
		MinorVersion: "75",
		RateLimit:    8,
		HTTPTimeout:  30 * time.Second,
	}
}

// ParseEnvironment accepts "sandbox" and "production".
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case "", Sandbox:
		return Sandbox, nil
	case Production:
		return Production, nil
	}
	return "", fmt.Errorf("unknown QuickBooks environment %q", s)
}

func (c Config) withDefaults() Config {
	if c.AuthURL == "" {
		c.AuthURL = authURL
	}
	if c.TokenURL == "" {
		c.TokenURL = tokenURL
	}
	if c.RevokeURL == "" {
		c.RevokeURL = revokeURL
	}
	if c.BaseURL == "" {
		c.BaseURL = sandboxBaseURL
		if c.Environment == Production {
			c.BaseURL = productionBaseURL
		}
	}
	if c.AppBillURL == "" {
		c.AppBillURL = sandboxAppURL
		if c.Environment == Production {
			c.AppBillURL = productionAppURL
		}
	}
	if c.MinorVersion == "" {
		c.MinorVersion = DefaultConfig().MinorVersion
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultConfig().RateLimit
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	return c
}
