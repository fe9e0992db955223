package accounting

import (
	"sort"
	"strings"
)

// Provider identifies an accounting backend.
type Provider string

const (
	ProviderQuickBooks Provider = "quickbooks"
	ProviderXero       Provider = "xero"
	ProviderWave       Provider = "wave"
	ProviderExcel      Provider = "excel"
	ProviderSheets     Provider = "sheets"
)

// ProviderConfig describes a provider for connection screens and the CLI.
type ProviderConfig struct {
	Name          string
	OAuthURL      string
	APIURL        string
	Scopes        []string
	RequiresOAuth bool
}

// ProviderConfigs lists every provider the product knows about, implemented or not.
var ProviderConfigs = map[Provider]ProviderConfig{
	ProviderQuickBooks: {
		Name:          "QuickBooks",
		OAuthURL:      "https://appcenter.intuit.com/connect/oauth2",
		APIURL:        "https://quickbooks.api.intuit.com/v3",
		Scopes:        []string{"com.intuit.quickbooks.accounting"},
		RequiresOAuth: true,
	},
	ProviderXero: {
		Name:          "Xero",
		OAuthURL:      "https://login.xero.com/identity/connect/authorize",
		APIURL:        "https://api.xero.com/api.xro/2.0",
		Scopes:        []string{"accounting.transactions", "accounting.contacts"},
		RequiresOAuth: true,
	},
	ProviderWave: {
		Name:          "Wave",
		OAuthURL:      "https://api.waveapps.com/oauth2/authorize",
		APIURL:        "https://gql.waveapps.com/graphql/public",
		Scopes:        []string{"read:business", "write:bill"},
		RequiresOAuth: true,
	},
	ProviderExcel: {
		Name: "Excel",
	},
	ProviderSheets: {
		Name:   "Google Sheets",
		APIURL: "https://sheets.googleapis.com/v4",
		Scopes: []string{"https://www.googleapis.com/auth/spreadsheets"},
	},
}

// ParseProvider resolves a provider name case-insensitively.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := ProviderConfigs[p]; !ok {
		return "", &UnsupportedProviderError{Provider: name}
	}
	return p, nil
}

// DisplayName returns the human-readable provider name.
func (p Provider) DisplayName() string {
	if cfg, ok := ProviderConfigs[p]; ok {
		return cfg.Name
	}
	return string(p)
}

// KnownProviders returns all configured providers in name order.
func KnownProviders() []Provider {
	out := make([]Provider, 0, len(ProviderConfigs))
	for p := range ProviderConfigs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
