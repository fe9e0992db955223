package analysis

import (
	"errors"
	"fmt"
)

// Common analysis errors
var (
	// ErrMalformedResponse is returned when a model reply holds no parseable
	// JSON object or the object does not match the invoice schema. It is a
	// hard failure: no partial result is produced.
	ErrMalformedResponse = errors.New("malformed structuring response")

	// ErrEmptyText is returned when there is no OCR text to structure.
	ErrEmptyText = errors.New("no text to structure")

	// ErrMissingAPIKey is returned when the OpenAI pathway has no API key.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required for the openai pathway")

	// ErrMissingCredentials is returned when Google Cloud credentials are not configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials")

	// ErrInvalidConfiguration is returned when the Document AI configuration is incomplete.
	ErrInvalidConfiguration = errors.New("invalid Document AI configuration")

	// ErrInvalidCredentials is returned when credentials lack the necessary permissions.
	ErrInvalidCredentials = errors.New("invalid Google Cloud credentials")

	// ErrProcessorNotFound is returned when the Document AI processor cannot be found.
	ErrProcessorNotFound = errors.New("Document AI processor not found")

	// ErrQuotaExceeded is returned when the upstream API quota is exhausted.
	ErrQuotaExceeded = errors.New("API quota exceeded")

	// ErrProcessingFailed is returned when the upstream service fails to process the text.
	ErrProcessingFailed = errors.New("structuring failed")
)

// AnalysisError wraps errors with the operation that failed.
type AnalysisError struct {
	// Op is the operation that failed (e.g., "OpenAIStructurer.Structure").
	Op string

	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *AnalysisError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("analysis: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("analysis: %s failed: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func (e *AnalysisError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAnalysisError creates a new AnalysisError.
func NewAnalysisError(op string, err error, details string) *AnalysisError {
	return &AnalysisError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapAnalysisError wraps an error as an AnalysisError if it isn't already one.
func WrapAnalysisError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) {
		return err
	}

	return NewAnalysisError(op, err, details)
}
