package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// minPrintableRatio is the share of printable runes a text layer needs to be usable.
const minPrintableRatio = 0.8

// PDFTextService reads the embedded text layer of digital PDFs.
// It never calls the network; scanned PDFs fail with ErrNoTextLayer.
type PDFTextService struct {
	now func() time.Time
}

// NewPDFTextService creates a text-layer extractor.
func NewPDFTextService() *PDFTextService {
	return &PDFTextService{now: time.Now}
}

// Extract returns the plain text of a PDF.
func (p *PDFTextService) Extract(ctx context.Context, doc Document) (*Result, error) {
	const op = "PDFTextService.Extract"
	start := p.now()

	if mt := doc.mimeType(); mt != MimePDF {
		return nil, NewOCRError(op, ErrUnsupportedFormat, mt)
	}
	if err := ctx.Err(); err != nil {
		return nil, WrapOCRError(op, err, "canceled")
	}
	if len(doc.Data) > MaxFileSizeBytes {
		return nil, NewOCRError(op, ErrFileTooLarge, fmt.Sprintf("file size: %d bytes", len(doc.Data)))
	}
	if !hasPDFHeader(doc.Data) {
		return nil, NewOCRError(op, ErrInvalidPDF, "missing PDF header")
	}

	text, pages, err := readPlainText(doc.Data)
	if err != nil {
		return nil, NewOCRError(op, ErrInvalidPDF, err.Error())
	}
	text = strings.TrimSpace(text)
	if text == "" || printableRatio(text) < minPrintableRatio {
		return nil, NewOCRError(op, ErrNoTextLayer, doc.Name)
	}

	now := p.now()
	return &Result{
		Text:               text,
		PageCount:          pages,
		Confidence:         1,
		Source:             SourcePDFText,
		ProcessedAt:        now,
		ProcessingDuration: now.Sub(start),
	}, nil
}

// readPlainText guards against panics the parser raises on malformed files.
func readPlainText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF parser crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	pages = r.NumPage()
	if pages == 0 {
		return "", 0, fmt.Errorf("PDF has no pages")
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", pages, err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", pages, err
	}
	return string(b), pages, nil
}

func printableRatio(s string) float64 {
	var total, printable int
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}
