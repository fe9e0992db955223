package analysis

import (
	"context"
	"testing"

	"invoiceflow/pkg/models"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/type/date"
	"google.golang.org/genproto/googleapis/type/money"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, _ ...gax.CallOption) (*documentaipb.ProcessResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*documentaipb.ProcessResponse)
	return resp, args.Error(1)
}

func (m *mockProcessor) Close() error {
	return nil
}

func entity(kind, text string, conf float32) *documentaipb.Document_Entity {
	return &documentaipb.Document_Entity{Type: kind, MentionText: text, Confidence: conf}
}

func testDocumentAIConfig() DocumentAIConfig {
	cfg := DefaultDocumentAIConfig()
	cfg.ProjectID = "proj"
	cfg.ProcessorID = "proc"
	return cfg
}

func TestDocumentAIConfig_ProcessorName(t *testing.T) {
	cfg := testDocumentAIConfig()
	assert.Equal(t, "projects/proj/locations/us/processors/proc", cfg.ProcessorName())

	cfg.ProcessorVersion = "v2"
	assert.Equal(t, "projects/proj/locations/us/processors/proc/processorVersions/v2", cfg.ProcessorName())
}

func TestDocumentAIStructurer_MapsEntities(t *testing.T) {
	total := entity("total_amount", "108,50 €", 1.0)
	total.NormalizedValue = &documentaipb.Document_Entity_NormalizedValue{
		StructuredValue: &documentaipb.Document_Entity_NormalizedValue_MoneyValue{
			MoneyValue: &money.Money{CurrencyCode: "EUR", Units: 108, Nanos: 500000000},
		},
	}
	due := entity("due_date", "April 14", 0.6)
	due.NormalizedValue = &documentaipb.Document_Entity_NormalizedValue{
		StructuredValue: &documentaipb.Document_Entity_NormalizedValue_DateValue{
			DateValue: &date.Date{Year: 2024, Month: 4, Day: 14},
		},
	}
	line := entity("line_item", "Widgets 2 100.00", 0.6)
	line.Properties = []*documentaipb.Document_Entity{
		entity("line_item/description", "Widgets", 0.6),
		entity("line_item/quantity", "2", 0.6),
		entity("line_item/amount", "100.00", 0.6),
	}

	doc := &documentaipb.Document{
		Entities: []*documentaipb.Document_Entity{
			entity("invoice_id", "INV-42", 0.9),
			entity("supplier_name", "ACME", 0.5),
			entity("supplier_name", "Acme Corp", 0.8),
			entity("invoice_date", "03/15/2024", 0.7),
			total,
			due,
			line,
		},
	}

	const text = "Acme Corp\nInvoice INV-42\n..."
	client := new(mockProcessor)
	client.On("ProcessDocument", mock.Anything, mock.MatchedBy(func(req *documentaipb.ProcessRequest) bool {
		return req.GetName() == "projects/proj/locations/us/processors/proc" &&
			req.GetInlineDocument().GetText() == text &&
			req.GetInlineDocument().GetMimeType() == "text/plain"
	})).Return(&documentaipb.ProcessResponse{Document: doc}, nil)

	s := NewDocumentAIStructurerWithClient(client, testDocumentAIConfig())
	inv, err := s.Structure(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, SourceDocumentAI, inv.Source)
	assert.Equal(t, "INV-42", models.StringValue(inv.InvoiceNumber))
	assert.Equal(t, "Acme Corp", models.StringValue(inv.Vendor.Name))
	assert.Equal(t, "2024-03-15", models.StringValue(inv.InvoiceDate))
	assert.Equal(t, "2024-04-14", models.StringValue(inv.DueDate))
	assert.InDelta(t, 108.5, models.FloatValue(inv.Total), 1e-9)
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, []models.LineItem{{Description: "Widgets", Quantity: 2, UnitPrice: 50, Amount: 100}}, inv.LineItems)

	fields := inv.Confidence.Fields
	assert.InDelta(t, 0.9, fields["invoice_number"], 1e-6)
	assert.InDelta(t, 0.8, fields["vendor_name"], 1e-6)
	assert.InDelta(t, 0.7, fields["invoice_date"], 1e-6)
	assert.InDelta(t, 0.6, fields["due_date"], 1e-6)
	assert.InDelta(t, 1.0, fields["total"], 1e-6)
	assert.InDelta(t, 0.6, fields["line_items"], 1e-6)
	assert.Len(t, fields, 6)
	assert.InDelta(t, (0.9+0.8+0.7+0.6+1.0+0.6)/6, inv.Confidence.Overall, 1e-6)
}

func TestDocumentAIStructurer_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", status.Error(codes.NotFound, "processor missing"), ErrProcessorNotFound},
		{"quota", status.Error(codes.ResourceExhausted, "quota"), ErrQuotaExceeded},
		{"permission", status.Error(codes.PermissionDenied, "denied"), ErrInvalidCredentials},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), context.DeadlineExceeded},
		{"other", status.Error(codes.Internal, "boom"), ErrProcessingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockProcessor)
			client.On("ProcessDocument", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := NewDocumentAIStructurerWithClient(client, testDocumentAIConfig()).Structure(context.Background(), "text")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDocumentAIStructurer_EmptyResponse(t *testing.T) {
	client := new(mockProcessor)
	client.On("ProcessDocument", mock.Anything, mock.Anything).Return(&documentaipb.ProcessResponse{}, nil)

	_, err := NewDocumentAIStructurerWithClient(client, testDocumentAIConfig()).Structure(context.Background(), "text")
	assert.ErrorIs(t, err, ErrProcessingFailed)

	_, err = NewDocumentAIStructurerWithClient(client, testDocumentAIConfig()).Structure(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNewDocumentAIStructurer_RequiresConfig(t *testing.T) {
	_, err := NewDocumentAIStructurer(context.Background(), DefaultDocumentAIConfig())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg := DefaultDocumentAIConfig()
	cfg.ProjectID = "proj"
	_, err = NewDocumentAIStructurer(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
