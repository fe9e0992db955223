package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrRawTextMissing is returned when analysis runs before OCR text was persisted.
	ErrRawTextMissing = errors.New("invoice has no OCR text; run OCR first")

	// ErrMissingDependency is returned when the processor lacks a required collaborator.
	ErrMissingDependency = errors.New("pipeline dependency not configured")
)

// PipelineError carries the failed step and the invoice it ran for.
type PipelineError struct {
	Op        string
	InvoiceID string
	Err       error
}

func (e *PipelineError) Error() string {
	if e.InvoiceID != "" {
		return fmt.Sprintf("pipeline: %s failed for invoice %s: %v", e.Op, e.InvoiceID, e.Err)
	}
	return fmt.Sprintf("pipeline: %s failed: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a PipelineError.
func NewPipelineError(op, invoiceID string, err error) *PipelineError {
	return &PipelineError{Op: op, InvoiceID: invoiceID, Err: err}
}
