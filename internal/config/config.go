package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/accounting/excel"
	"invoiceflow/internal/accounting/quickbooks"
	"invoiceflow/internal/accounting/sheets"
	"invoiceflow/internal/analysis"
	"invoiceflow/internal/confidence"
	"invoiceflow/internal/duplicates"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/normalize"
	"invoiceflow/internal/ocr"
	"invoiceflow/internal/pipeline"
)

type Config struct {
	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string

	// Extraction and review
	DateOrderName           string
	ConfidenceWeights       string
	ReviewThreshold         float64
	HighConfidenceThreshold float64
	DuplicateWindowDays     int

	// OpenAI Configuration
	OpenAIAPIKey  string
	OpenAIModel   string
	LLMTimeout    time.Duration
	LLMMaxRetries int

	// Google Cloud Configuration
	GoogleCredentials          string
	GoogleCredentialsFile      string
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string
	OCRTimeout                 time.Duration

	// QuickBooks Configuration
	QuickBooksClientID     string
	QuickBooksClientSecret string
	QuickBooksRedirectURI  string
	QuickBooksEnvironment  string
	QuickBooksRateLimit    float64

	// Sync Configuration
	ProviderTimeout time.Duration
	SyncMaxRetries  int

	// File-based providers
	ExcelOutputDir       string
	GoogleSheetID        string
	GoogleSheetWorksheet string

	// Storage: DATABASE_URL selects PostgreSQL, otherwise the JSON snapshot at StateFile.
	DatabaseURL string
	StateFile   string

	dateOrder normalize.DateOrder
	weights   map[string]float64
}

func Load() (*Config, error) {
	config := &Config{
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),

		DateOrderName:     getEnv("DATE_ORDER", "MDY"),
		ConfidenceWeights: getEnv("CONFIDENCE_WEIGHTS", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		GoogleCredentials:          getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleCredentialsFile:      getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),

		QuickBooksClientID:     getEnv("QUICKBOOKS_CLIENT_ID", ""),
		QuickBooksClientSecret: getEnv("QUICKBOOKS_CLIENT_SECRET", ""),
		QuickBooksRedirectURI:  getEnv("QUICKBOOKS_REDIRECT_URI", ""),
		QuickBooksEnvironment:  getEnv("QUICKBOOKS_ENVIRONMENT", string(quickbooks.Sandbox)),

		ExcelOutputDir:       getEnv("EXCEL_OUTPUT_DIR", "."),
		GoogleSheetID:        getEnv("GOOGLE_SHEET_ID", ""),
		GoogleSheetWorksheet: getEnv("GOOGLE_SHEET_WORKSHEET", sheets.DefaultWorksheet),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		StateFile:   getEnv("STATE_FILE", ".invoiceflow/state.json"),
	}

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	var err error
	config.ReviewThreshold, err = getFloatEnv("REVIEW_THRESHOLD", confidence.DefaultReviewThreshold)
	collect(err)
	config.HighConfidenceThreshold, err = getFloatEnv("HIGH_CONFIDENCE_THRESHOLD", confidence.DefaultHighThreshold)
	collect(err)
	config.DuplicateWindowDays, err = getIntEnv("DUPLICATE_WINDOW_DAYS", duplicates.DefaultWindowDays)
	collect(err)
	config.LLMTimeout, err = getDurationEnv("LLM_TIMEOUT", 60*time.Second)
	collect(err)
	config.LLMMaxRetries, err = getIntEnv("LLM_MAX_RETRIES", 3)
	collect(err)
	config.OCRTimeout, err = getDurationEnv("OCR_TIMEOUT", 60*time.Second)
	collect(err)
	config.QuickBooksRateLimit, err = getFloatEnv("QUICKBOOKS_RATE_LIMIT", quickbooks.DefaultConfig().RateLimit)
	collect(err)
	config.ProviderTimeout, err = getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second)
	collect(err)
	config.SyncMaxRetries, err = getIntEnv("SYNC_MAX_RETRIES", 3)
	collect(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks formats only. Credentials are checked by the pathway that needs them.
func (c *Config) validate() error {
	order, err := normalize.ParseDateOrder(c.DateOrderName)
	if err != nil {
		return fmt.Errorf("DATE_ORDER: %w", err)
	}
	c.dateOrder = order

	weights, err := extraction.ParseWeights(c.ConfidenceWeights)
	if err != nil {
		return fmt.Errorf("CONFIDENCE_WEIGHTS: %w", err)
	}
	c.weights = weights

	if err := c.ReviewPolicy().Validate(); err != nil {
		return fmt.Errorf("REVIEW_THRESHOLD/HIGH_CONFIDENCE_THRESHOLD: %w", err)
	}
	if c.DuplicateWindowDays <= 0 {
		return fmt.Errorf("DUPLICATE_WINDOW_DAYS must be positive")
	}
	if c.LLMMaxRetries <= 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be positive")
	}
	if c.SyncMaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative")
	}
	if c.QuickBooksRateLimit <= 0 {
		return fmt.Errorf("QUICKBOOKS_RATE_LIMIT must be positive")
	}
	if _, err := quickbooks.ParseEnvironment(c.QuickBooksEnvironment); err != nil {
		return fmt.Errorf("QUICKBOOKS_ENVIRONMENT: %w", err)
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// DateOrder is the convention for ambiguous numeric dates.
func (c *Config) DateOrder() normalize.DateOrder {
	return c.dateOrder
}

// ExtractionWeights returns the default weight table with CONFIDENCE_WEIGHTS applied.
func (c *Config) ExtractionWeights() extraction.Weights {
	return extraction.DefaultWeights().Override(c.weights)
}

// ReviewPolicy returns the configured confidence thresholds.
func (c *Config) ReviewPolicy() confidence.Policy {
	return confidence.Policy{
		ReviewThreshold: c.ReviewThreshold,
		HighThreshold:   c.HighConfidenceThreshold,
	}
}

// Pipeline returns processor settings. The analysis budget covers every LLM attempt.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		OCRTimeout:          c.OCRTimeout,
		AnalysisTimeout:     c.LLMTimeout * time.Duration(c.LLMMaxRetries),
		DuplicateWindowDays: c.DuplicateWindowDays,
		Policy:              c.ReviewPolicy(),
	}
}

// Vision returns the Google Vision OCR settings.
func (c *Config) Vision() ocr.VisionConfig {
	return ocr.VisionConfig{
		CredentialsJSON: c.credentialsJSON(),
		CredentialsFile: c.GoogleCredentialsFile,
	}
}

// OpenAI returns the LLM structuring settings.
func (c *Config) OpenAI() analysis.OpenAIConfig {
	cfg := analysis.DefaultOpenAIConfig()
	cfg.APIKey = c.OpenAIAPIKey
	cfg.Model = c.OpenAIModel
	cfg.MaxRetries = c.LLMMaxRetries
	cfg.Timeout = c.LLMTimeout
	cfg.DateOrder = c.dateOrder
	return cfg
}

// DocumentAI returns the Document AI structuring settings.
func (c *Config) DocumentAI() analysis.DocumentAIConfig {
	cfg := analysis.DefaultDocumentAIConfig()
	cfg.ProjectID = c.GoogleCloudProject
	cfg.Location = c.GoogleCloudLocation
	cfg.ProcessorID = c.DocumentAIProcessorID
	cfg.ProcessorVersion = c.DocumentAIProcessorVersion
	cfg.CredentialsJSON = c.credentialsJSON()
	cfg.CredentialsFile = c.GoogleCredentialsFile
	cfg.Timeout = c.LLMTimeout
	cfg.DateOrder = c.dateOrder
	return cfg
}

// QuickBooks returns the QuickBooks client settings.
func (c *Config) QuickBooks() quickbooks.Config {
	cfg := quickbooks.DefaultConfig()
	cfg.ClientID = c.QuickBooksClientID
	cfg.ClientSecret = c.QuickBooksClientSecret
	cfg.RedirectURI = c.QuickBooksRedirectURI
	cfg.Environment, _ = quickbooks.ParseEnvironment(c.QuickBooksEnvironment)
	cfg.RateLimit = c.QuickBooksRateLimit
	cfg.HTTPTimeout = c.ProviderTimeout
	return cfg
}

// Excel returns the workbook provider settings.
func (c *Config) Excel() excel.Config {
	cfg := excel.DefaultConfig()
	cfg.OutputDir = c.ExcelOutputDir
	return cfg
}

// Sheets returns the Google Sheets provider settings.
func (c *Config) Sheets() sheets.Config {
	return sheets.Config{
		Spreadsheet: c.GoogleSheetID,
		Worksheet:   c.GoogleSheetWorksheet,
		Credentials: c.credentialsBytes(),
	}
}

// Sync returns the sync runner settings.
func (c *Config) Sync() accounting.SyncConfig {
	cfg := accounting.DefaultSyncConfig()
	cfg.Timeout = c.ProviderTimeout
	cfg.MaxRetries = c.SyncMaxRetries
	return cfg
}

func (c *Config) credentialsJSON() []byte {
	if c.GoogleCredentials == "" {
		return nil
	}
	return []byte(c.GoogleCredentials)
}

// credentialsBytes prefers inline credentials and falls back to reading the key file.
func (c *Config) credentialsBytes() []byte {
	if creds := c.credentialsJSON(); creds != nil {
		return creds
	}
	if c.GoogleCredentialsFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.GoogleCredentialsFile)
	if err != nil {
		return nil
	}
	return data
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, value)
	}
	return f, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 30s, got %q", key, value)
	}
	return d, nil
}
