// Package ocr turns uploaded invoice documents into raw text.
//
// Three implementations are provided:
//   - VisionService: Google Cloud Vision document text detection. Images are
//     preprocessed before upload, PDFs go through BatchAnnotateFiles.
//   - PDFTextService: reads the embedded text layer of digital PDFs locally.
//   - Chain: tries services in order and returns the first success.
//
// Cloud Vision limits for synchronous processing:
//   - Maximum file size: 20MB
//   - Maximum pages: 5 per PDF
package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"invoiceflow/internal/logger"

	"github.com/rs/zerolog"
)

// Supported MIME types.
const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeTIFF = "image/tiff"
	MimeGIF  = "image/gif"
	MimeBMP  = "image/bmp"
)

// Result sources.
const (
	SourceVision  = "google_vision"
	SourcePDFText = "pdf_text"
)

// Document is an uploaded file awaiting OCR.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

// Service extracts raw text from a document.
type Service interface {
	Extract(ctx context.Context, doc Document) (*Result, error)
}

// Result contains the extracted text with processing metadata.
type Result struct {
	// Text is the content of all pages in reading order.
	Text string `json:"text"`

	PageCount int `json:"page_count"`

	// Confidence is the average page confidence on a 0..1 scale.
	// Text-layer extraction reports 1.
	Confidence float64 `json:"confidence"`

	// Source names the service that produced the text.
	Source string `json:"source"`

	ProcessedAt        time.Time     `json:"processed_at"`
	LanguageCodes      []string      `json:"language_codes,omitempty"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}

var extensionTypes = map[string]string{
	".pdf":  MimePDF,
	".png":  MimePNG,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".tif":  MimeTIFF,
	".tiff": MimeTIFF,
	".gif":  MimeGIF,
	".bmp":  MimeBMP,
}

// DetectMimeType resolves the MIME type of a document from its file
// extension, falling back to content sniffing.
func DetectMimeType(name string, data []byte) string {
	if mt, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	mt := http.DetectContentType(data)
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// IsImage reports whether the MIME type is an image format Vision accepts.
func IsImage(mimeType string) bool {
	switch mimeType {
	case MimePNG, MimeJPEG, MimeTIFF, MimeGIF, MimeBMP:
		return true
	}
	return false
}

func (d Document) mimeType() string {
	if d.MimeType != "" {
		return d.MimeType
	}
	return DetectMimeType(d.Name, d.Data)
}

// Chain runs services in order until one succeeds.
type Chain struct {
	services []Service
	log      zerolog.Logger
}

// NewChain creates a chain over the given services. Nil entries are skipped.
func NewChain(services ...Service) *Chain {
	c := &Chain{log: logger.WithComponent("ocr")}
	for _, s := range services {
		if s != nil {
			c.services = append(c.services, s)
		}
	}
	return c
}

// Extract returns the first successful result. Cancellation stops the chain.
func (c *Chain) Extract(ctx context.Context, doc Document) (*Result, error) {
	const op = "Chain.Extract"

	if len(c.services) == 0 {
		return nil, NewOCRError(op, ErrNoService, doc.Name)
	}

	var errs []error
	for i, svc := range c.services {
		res, err := svc.Extract(ctx, doc)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, WrapOCRError(op, ctxErr, "canceled")
		}
		c.log.Warn().
			Err(err).
			Int("service", i).
			Str("document", doc.Name).
			Msg("OCR service failed, trying next")
		errs = append(errs, err)
	}

	return nil, fmt.Errorf("%s: all %d services failed: %w", op, len(c.services), errors.Join(errs...))
}
