package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/accounting/quickbooks"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/normalize"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, normalize.MonthFirst, cfg.DateOrder())
	assert.Equal(t, extraction.DefaultWeights(), cfg.ExtractionWeights())
	assert.Equal(t, 0.7, cfg.ReviewPolicy().ReviewThreshold)
	assert.Equal(t, 0.9, cfg.ReviewPolicy().HighThreshold)
	assert.Equal(t, 90, cfg.DuplicateWindowDays)
	assert.Equal(t, quickbooks.Sandbox, cfg.QuickBooks().Environment)
	assert.Equal(t, 8.0, cfg.QuickBooks().RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Sync().Timeout)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI().Model)
	assert.Equal(t, "us", cfg.DocumentAI().Location)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATE_ORDER", "DMY")
	t.Setenv("CONFIDENCE_WEIGHTS", "total=0.95, invoice_number=0.5")
	t.Setenv("REVIEW_THRESHOLD", "0.6")
	t.Setenv("LLM_TIMEOUT", "15s")
	t.Setenv("QUICKBOOKS_ENVIRONMENT", "production")
	t.Setenv("SYNC_MAX_RETRIES", "0")
	t.Setenv("GOOGLE_CREDENTIALS", `{"type":"service_account"}`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, normalize.DayFirst, cfg.DateOrder())
	assert.Equal(t, normalize.DayFirst, cfg.OpenAI().DateOrder)
	weights := cfg.ExtractionWeights()
	assert.Equal(t, 0.95, weights.Get(extraction.FieldTotal))
	assert.Equal(t, 0.5, weights.Get(extraction.FieldInvoiceNumber))
	assert.Equal(t, 0.75, weights.Get(extraction.FieldSubtotal))
	assert.Equal(t, 0.6, cfg.Pipeline().Policy.ReviewThreshold)
	assert.Equal(t, 45*time.Second, cfg.Pipeline().AnalysisTimeout)
	assert.Equal(t, quickbooks.Production, cfg.QuickBooks().Environment)
	assert.Equal(t, 0, cfg.Sync().MaxRetries)
	assert.JSONEq(t, `{"type":"service_account"}`, string(cfg.Sheets().Credentials))
	assert.Equal(t, cfg.Vision().CredentialsJSON, cfg.DocumentAI().CredentialsJSON)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DATE_ORDER", "YMD"},
		{"CONFIDENCE_WEIGHTS", "totl=0.9"},
		{"REVIEW_THRESHOLD", "0.95"},
		{"HIGH_CONFIDENCE_THRESHOLD", "high"},
		{"DUPLICATE_WINDOW_DAYS", "0"},
		{"LLM_TIMEOUT", "soon"},
		{"QUICKBOOKS_ENVIRONMENT", "staging"},
		{"QUICKBOOKS_RATE_LIMIT", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
