package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoiceflow/internal/confidence"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/normalize"
	"invoiceflow/pkg/models"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DocumentProcessor is the part of the Document AI client used here.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIConfig holds configuration for Google Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	Location string

	ProcessorID      string
	ProcessorVersion string

	CredentialsJSON []byte
	CredentialsFile string

	// Timeout bounds a single ProcessDocument call. Default: 60 seconds.
	Timeout time.Duration

	DateOrder normalize.DateOrder
}

// DefaultDocumentAIConfig returns a DocumentAIConfig with sensible defaults.
func DefaultDocumentAIConfig() DocumentAIConfig {
	return DocumentAIConfig{
		Location: "us",
		Timeout:  60 * time.Second,
	}
}

// ProcessorName is the full resource name of the configured processor.
func (c DocumentAIConfig) ProcessorName() string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
	if c.ProcessorVersion != "" {
		name += "/processorVersions/" + c.ProcessorVersion
	}
	return name
}

// DocumentAIStructurer maps invoice-parser entities onto the canonical
// schema, keeping each entity's own confidence. The persisted OCR text is
// submitted as an inline document so the original file is never re-read.
type DocumentAIStructurer struct {
	client DocumentProcessor
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIStructurer creates a structurer with a regional Document AI client.
func NewDocumentAIStructurer(ctx context.Context, config DocumentAIConfig) (*DocumentAIStructurer, error) {
	const op = "NewDocumentAIStructurer"

	if config.ProjectID == "" {
		return nil, NewAnalysisError(op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, NewAnalysisError(op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	var opts []option.ClientOption
	if config.Location != "us" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)))
	}
	hasCredentials := true
	switch {
	case len(config.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(config.CredentialsJSON))
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	default:
		hasCredentials = false
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		if !hasCredentials {
			return nil, NewAnalysisError(op, ErrMissingCredentials, err.Error())
		}
		return nil, NewAnalysisError(op, err, "failed to create Document AI client for location: "+config.Location)
	}

	return NewDocumentAIStructurerWithClient(client, config), nil
}

// NewDocumentAIStructurerWithClient creates a structurer with an explicit client.
func NewDocumentAIStructurerWithClient(client DocumentProcessor, config DocumentAIConfig) *DocumentAIStructurer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultDocumentAIConfig().Timeout
	}
	return &DocumentAIStructurer{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// Close closes the underlying Document AI client.
func (p *DocumentAIStructurer) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Structure runs the invoice processor over the OCR text.
func (p *DocumentAIStructurer) Structure(ctx context.Context, rawText string) (*models.ExtractedInvoice, error) {
	const op = "DocumentAIStructurer.Structure"

	if strings.TrimSpace(rawText) == "" {
		return nil, NewAnalysisError(op, ErrEmptyText, "")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_InlineDocument{
			InlineDocument: &documentaipb.Document{
				Text:     rawText,
				MimeType: "text/plain",
			},
		},
	}

	resp, err := p.client.ProcessDocument(callCtx, req)
	if err != nil {
		return nil, p.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, NewAnalysisError(op, ErrProcessingFailed, "no document in response")
	}

	result := p.mapEntities(resp.GetDocument())

	p.log.Info().
		Str("invoice_number", models.StringValue(result.InvoiceNumber)).
		Int("entities", len(resp.GetDocument().GetEntities())).
		Float64("confidence", result.Confidence.Overall).
		Msg("Document AI extraction completed")

	return result, nil
}

func (p *DocumentAIStructurer) handleProcessingError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewAnalysisError(op, err, "processing timeout")
	}

	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return NewAnalysisError(op, ErrInvalidCredentials, "insufficient permissions for Document AI")
	case codes.ResourceExhausted:
		return NewAnalysisError(op, ErrQuotaExceeded, "Document AI API quota exceeded")
	case codes.NotFound:
		return NewAnalysisError(op, ErrProcessorNotFound, p.config.ProcessorName())
	case codes.DeadlineExceeded:
		return NewAnalysisError(op, context.DeadlineExceeded, "processing timeout")
	default:
		return NewAnalysisError(op, ErrProcessingFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// mapEntities keeps, per canonical field, the entity with the highest confidence.
func (p *DocumentAIStructurer) mapEntities(doc *documentaipb.Document) *models.ExtractedInvoice {
	result := models.NewExtractedInvoice(SourceDocumentAI)
	fields := map[string]float64{}

	better := func(field string, conf float32) bool {
		prev, seen := fields[field]
		return !seen || float64(conf) > prev
	}
	setText := func(field string, target **string, entity *documentaipb.Document_Entity) {
		value := strings.TrimSpace(entity.GetMentionText())
		if value == "" || !better(field, entity.GetConfidence()) {
			return
		}
		*target = &value
		fields[field] = float64(entity.GetConfidence())
	}
	setDate := func(field string, target **string, entity *documentaipb.Document_Entity) {
		date, ok := p.entityDate(entity)
		if !ok || !better(field, entity.GetConfidence()) {
			return
		}
		*target = &date
		fields[field] = float64(entity.GetConfidence())
	}
	setAmount := func(field string, target **float64, entity *documentaipb.Document_Entity) {
		amount, ok := entityMoney(entity)
		if !ok || !better(field, entity.GetConfidence()) {
			return
		}
		*target = &amount
		fields[field] = float64(entity.GetConfidence())
		if code := entity.GetNormalizedValue().GetMoneyValue().GetCurrencyCode(); code != "" {
			if _, seen := fields[FieldCurrency]; !seen {
				result.Currency = normalize.NormalizeCurrency(code)
			}
		}
	}

	var lineConfidence []float64
	for _, entity := range doc.GetEntities() {
		p.log.Debug().
			Str("entity_type", entity.GetType()).
			Float32("confidence", entity.GetConfidence()).
			Msg("Processing Document AI entity")

		switch entity.GetType() {
		case "invoice_id", "invoice_number":
			setText(extraction.FieldInvoiceNumber, &result.InvoiceNumber, entity)
		case "purchase_order":
			setText(extraction.FieldPONumber, &result.PONumber, entity)
		case "supplier_name", "vendor_name":
			setText(extraction.FieldVendorName, &result.Vendor.Name, entity)
		case "supplier_email":
			setText(extraction.FieldVendorEmail, &result.Vendor.Email, entity)
		case "supplier_address":
			setText(FieldVendorAddress, &result.Vendor.Address, entity)
		case "supplier_tax_id":
			setText(FieldVendorTaxID, &result.Vendor.TaxID, entity)
		case "payment_terms":
			setText(FieldPaymentTerms, &result.PaymentTerms, entity)
		case "invoice_date":
			setDate(extraction.FieldInvoiceDate, &result.InvoiceDate, entity)
		case "due_date":
			setDate(extraction.FieldDueDate, &result.DueDate, entity)
		case "net_amount", "subtotal_amount":
			setAmount(extraction.FieldSubtotal, &result.Subtotal, entity)
		case "total_tax_amount", "vat_amount":
			setAmount(extraction.FieldTaxTotal, &result.TaxTotal, entity)
		case "total_amount", "gross_amount":
			setAmount(extraction.FieldTotal, &result.Total, entity)
		case "currency":
			if value := strings.TrimSpace(entity.GetMentionText()); value != "" && better(FieldCurrency, entity.GetConfidence()) {
				result.Currency = normalize.NormalizeCurrency(value)
				fields[FieldCurrency] = float64(entity.GetConfidence())
			}
		case "line_item":
			if item, ok := lineItem(entity); ok {
				result.LineItems = append(result.LineItems, item)
				lineConfidence = append(lineConfidence, float64(entity.GetConfidence()))
			}
		}
	}

	if len(lineConfidence) > 0 {
		var sum float64
		for _, c := range lineConfidence {
			sum += c
		}
		fields[FieldLineItems] = sum / float64(len(lineConfidence))
	}

	for field, value := range fields {
		confidence.Set(&result.Confidence, field, value)
	}
	confidence.Recompute(&result.Confidence)
	return result
}

func (p *DocumentAIStructurer) entityDate(entity *documentaipb.Document_Entity) (string, bool) {
	if d := entity.GetNormalizedValue().GetDateValue(); d != nil && d.GetYear() > 0 {
		t := time.Date(int(d.GetYear()), time.Month(d.GetMonth()), int(d.GetDay()), 0, 0, 0, 0, time.UTC)
		return t.Format("2006-01-02"), true
	}
	return normalize.NormalizeDate(entity.GetMentionText(), p.config.DateOrder)
}

func entityMoney(entity *documentaipb.Document_Entity) (float64, bool) {
	if m := entity.GetNormalizedValue().GetMoneyValue(); m != nil {
		return float64(m.GetUnits()) + float64(m.GetNanos())/1e9, true
	}
	return normalize.ParseAmount(entity.GetMentionText())
}

// lineItem reads the line_item/* properties of a line item entity.
func lineItem(entity *documentaipb.Document_Entity) (models.LineItem, bool) {
	item := models.LineItem{Quantity: 1}
	var hasAmount, hasUnit bool

	for _, prop := range entity.GetProperties() {
		switch strings.TrimPrefix(prop.GetType(), "line_item/") {
		case "description":
			item.Description = strings.TrimSpace(prop.GetMentionText())
		case "quantity":
			if q, ok := normalize.ParseAmount(prop.GetMentionText()); ok && q > 0 {
				item.Quantity = q
			}
		case "unit_price":
			item.UnitPrice, hasUnit = entityMoney(prop)
		case "amount":
			item.Amount, hasAmount = entityMoney(prop)
		}
	}

	switch {
	case !hasAmount && !hasUnit:
		return item, item.Description != ""
	case !hasAmount:
		item.Amount = item.UnitPrice * item.Quantity
	case !hasUnit:
		item.UnitPrice = item.Amount / item.Quantity
	}
	return item, true
}
