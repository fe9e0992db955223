package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"invoiceflow/internal/logger"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	// MaxFileSizeBytes is the maximum file size for synchronous processing (20MB)
	MaxFileSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the maximum number of pages for synchronous processing
	MaxPagesSync = 5
)

// Annotator is the subset of the Vision ImageAnnotatorClient used here.
type Annotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
	Close() error
}

// VisionConfig selects credentials for the Vision client.
// CredentialsJSON wins over CredentialsFile; with neither set the
// application default credentials are used.
type VisionConfig struct {
	CredentialsJSON []byte
	CredentialsFile string

	// SkipPreprocess sends images to Vision exactly as uploaded.
	SkipPreprocess bool
}

// VisionService implements Service using Google Cloud Vision document text detection.
type VisionService struct {
	client     Annotator
	preprocess bool
	now        func() time.Time
	log        zerolog.Logger
}

// NewVisionService creates a Vision-backed OCR service.
func NewVisionService(ctx context.Context, cfg VisionConfig) (*VisionService, error) {
	const op = "NewVisionService"

	var opts []option.ClientOption
	var source string
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
		source = "GOOGLE_CREDENTIALS"
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		source = "GOOGLE_APPLICATION_CREDENTIALS"
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if source == "" {
			return nil, WrapOCRError(op, ErrMissingCredentials, err.Error())
		}
		return nil, WrapOCRError(op, err, "failed to create client with "+source)
	}

	svc := NewVisionServiceWithClient(client)
	svc.preprocess = !cfg.SkipPreprocess
	return svc, nil
}

// NewVisionServiceWithClient creates a service around an existing annotator.
func NewVisionServiceWithClient(client Annotator) *VisionService {
	return &VisionService{
		client:     client,
		preprocess: true,
		now:        time.Now,
		log:        logger.WithComponent("ocr"),
	}
}

// Extract runs document text detection on a PDF or image.
func (v *VisionService) Extract(ctx context.Context, doc Document) (*Result, error) {
	const op = "VisionService.Extract"
	start := v.now()

	if len(doc.Data) > MaxFileSizeBytes {
		return nil, WrapOCRError(op, ErrFileTooLarge, fmt.Sprintf("file size: %d bytes", len(doc.Data)))
	}

	var (
		res *Result
		err error
	)
	switch mt := doc.mimeType(); {
	case mt == MimePDF:
		res, err = v.extractPDF(ctx, doc.Data)
	case IsImage(mt):
		res, err = v.extractImage(ctx, doc)
	default:
		return nil, WrapOCRError(op, ErrUnsupportedFormat, mt)
	}
	if err != nil {
		return nil, WrapOCRError(op, err, doc.Name)
	}

	res.Source = SourceVision
	res.ProcessedAt = v.now()
	res.ProcessingDuration = res.ProcessedAt.Sub(start)

	v.log.Info().
		Str("document", doc.Name).
		Int("pages", res.PageCount).
		Float64("confidence", res.Confidence).
		Dur("duration", res.ProcessingDuration).
		Msg("Vision OCR completed")

	return res, nil
}

func (v *VisionService) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	if !hasPDFHeader(data) {
		return nil, fmt.Errorf("%w: missing PDF header", ErrInvalidPDF)
	}

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  data,
					MimeType: MimePDF,
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: Vision API call failed: %v", ErrOCRFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("%w: no response from Vision API", ErrOCRFailed)
	}

	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, fmt.Errorf("%w: Vision API error: %s", ErrOCRFailed, fileResp.GetError().GetMessage())
	}
	if n := len(fileResp.GetResponses()); n > MaxPagesSync {
		return nil, fmt.Errorf("%w: document has %d pages", ErrTooManyPages, n)
	}

	return collectPages(fileResp.GetResponses())
}

func (v *VisionService) extractImage(ctx context.Context, doc Document) (*Result, error) {
	content := doc.Data
	if v.preprocess {
		processed, err := Preprocess(doc.Data)
		if err != nil {
			v.log.Warn().Err(err).Str("document", doc.Name).Msg("Image preprocessing failed, sending original")
		} else {
			content = processed
		}
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: Vision API call failed: %v", ErrOCRFailed, err)
	}

	return collectPages(resp.GetResponses())
}

// collectPages joins page texts with separators and averages page confidence.
func collectPages(pages []*visionpb.AnnotateImageResponse) (*Result, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	var text strings.Builder
	var confidenceSum float64
	var confidenceCount int
	languages := map[string]bool{}

	for i, page := range pages {
		if page.GetError() != nil {
			return nil, fmt.Errorf("%w: page %d: %s", ErrOCRFailed, i+1, page.GetError().GetMessage())
		}
		annotation := page.GetFullTextAnnotation()
		if annotation == nil {
			continue
		}

		if i > 0 {
			fmt.Fprintf(&text, "\n\n--- Page %d ---\n\n", i+1)
		}
		text.WriteString(annotation.GetText())

		for _, p := range annotation.GetPages() {
			if c := p.GetConfidence(); c > 0 {
				confidenceSum += float64(c)
				confidenceCount++
			}
			for _, lang := range p.GetProperty().GetDetectedLanguages() {
				if code := lang.GetLanguageCode(); code != "" {
					languages[code] = true
				}
			}
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmptyDocument
	}

	var confidence float64
	if confidenceCount > 0 {
		confidence = confidenceSum / float64(confidenceCount)
	}

	codes := make([]string, 0, len(languages))
	for code := range languages {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return &Result{
		Text:          text.String(),
		PageCount:     len(pages),
		Confidence:    confidence,
		LanguageCodes: codes,
	}, nil
}

// Close closes the underlying Vision client.
func (v *VisionService) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func hasPDFHeader(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}
