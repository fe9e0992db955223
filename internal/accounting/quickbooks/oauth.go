package quickbooks

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"invoiceflow/internal/accounting"
)

func oauthConfig(cfg Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       []string{Scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthorizationURL returns the consent page the user is sent to.
func AuthorizationURL(cfg Config, state string) string {
	return oauthConfig(cfg.withDefaults()).AuthCodeURL(state)
}

// NewState returns a random nonce for the OAuth state parameter.
func NewState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseCallback reads the redirect URL QuickBooks sends the user back to.
// The state must equal expectedState; a provider "error" parameter fails the flow.
func ParseCallback(callbackURL, expectedState string) (accounting.OAuthCredentials, error) {
	const op = "ParseCallback"

	u, err := url.Parse(callbackURL)
	if err != nil {
		return accounting.OAuthCredentials{}, fmt.Errorf("%s: invalid callback url: %w", op, err)
	}
	q := u.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		return accounting.OAuthCredentials{}, &accounting.OAuthError{
			Provider:    accounting.ProviderQuickBooks,
			Code:        providerErr,
			Description: q.Get("error_description"),
		}
	}

	creds := accounting.OAuthCredentials{
		Code:    q.Get("code"),
		State:   q.Get("state"),
		RealmID: q.Get("realmId"),
	}
	if expectedState != "" && creds.State != expectedState {
		return accounting.OAuthCredentials{}, fmt.Errorf("%s: %w", op, accounting.ErrStateMismatch)
	}
	if creds.Code == "" || creds.RealmID == "" {
		return accounting.OAuthCredentials{}, &accounting.OAuthError{
			Provider:    accounting.ProviderQuickBooks,
			Code:        "invalid_request",
			Description: "callback is missing code or realmId",
		}
	}

	redirect := *u
	redirect.RawQuery = ""
	redirect.Fragment = ""
	creds.RedirectURI = redirect.String()
	return creds, nil
}
