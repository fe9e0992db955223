package extraction

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/normalize"
	"invoiceflow/pkg/models"
)

const acmeInvoice = `Acme Supplies Inc.
123 Market Street
Invoice Number: INV-2024-001
Invoice Date: 03/15/2024
Due Date: 04/14/2024
PO Number: PO-7788
billing@acme.example
Subtotal: $1,000.00
Tax: $80.00
Total: $1,080.00
`

func TestParseInvoiceDataFullDocument(t *testing.T) {
	got := ParseInvoiceData(acmeInvoice)

	assert.Equal(t, "Acme Supplies Inc.", models.StringValue(got.Vendor.Name))
	assert.Equal(t, "billing@acme.example", models.StringValue(got.Vendor.Email))
	assert.Equal(t, "INV-2024-001", models.StringValue(got.InvoiceNumber))
	assert.Equal(t, "PO-7788", models.StringValue(got.PONumber))
	assert.Equal(t, "2024-03-15", models.StringValue(got.InvoiceDate))
	assert.Equal(t, "2024-04-14", models.StringValue(got.DueDate))
	assert.InDelta(t, 1000.0, models.FloatValue(got.Subtotal), 1e-9)
	assert.InDelta(t, 80.0, models.FloatValue(got.TaxTotal), 1e-9)
	assert.InDelta(t, 1080.0, models.FloatValue(got.Total), 1e-9)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, SourceRegex, got.Source)

	assert.Equal(t, map[string]float64{
		FieldVendorName:    0.5,
		FieldInvoiceNumber: 0.85,
		FieldInvoiceDate:   0.75,
		FieldDueDate:       0.75,
		FieldTotal:         0.8,
		FieldSubtotal:      0.75,
		FieldTaxTotal:      0.75,
		FieldVendorEmail:   0.9,
		FieldPONumber:      0.8,
	}, got.Confidence.Fields)
	assert.InDelta(t, 6.85/9, got.Confidence.Overall, 1e-12)
}

func TestParseInvoiceDataLabeledVendorAndEuropeanAmount(t *testing.T) {
	got := ParseInvoiceData("From: Globex Corporation\nInvoice #: 42\nDate: 3/1/24\nAmount Due: 250,00 EUR\n")

	assert.Equal(t, "Globex Corporation", models.StringValue(got.Vendor.Name))
	assert.Equal(t, "42", models.StringValue(got.InvoiceNumber))
	assert.Equal(t, "2024-03-01", models.StringValue(got.InvoiceDate))
	assert.InDelta(t, 250.0, models.FloatValue(got.Total), 1e-9)
	assert.Nil(t, got.TaxTotal)
	assert.Equal(t, 0.7, got.Confidence.Fields[FieldVendorName])
	assert.InDelta(t, 0.775, got.Confidence.Overall, 1e-12)
}

func TestParseInvoiceDataFallbacks(t *testing.T) {
	got := ParseInvoiceData("Widget Co\n03/04/2024\nTotal 0.00\n")

	assert.Equal(t, "Widget Co", models.StringValue(got.Vendor.Name))
	assert.Equal(t, "2024-03-04", models.StringValue(got.InvoiceDate))
	assert.Nil(t, got.Total, "zero totals count as not found")
	assert.Equal(t, 0.65, got.Confidence.Fields[FieldInvoiceDate])
	assert.NotContains(t, got.Confidence.Fields, FieldTotal)
	assert.InDelta(t, 0.575, got.Confidence.Overall, 1e-12)
}

func TestParseInvoiceDataSkipsLabelsWithoutIdentifier(t *testing.T) {
	got := ParseInvoiceData("INVOICE\nInvoice Date: 01/02/2024\nInvoice No: 98765\n")

	assert.Equal(t, "98765", models.StringValue(got.InvoiceNumber))
	assert.Equal(t, "2024-01-02", models.StringValue(got.InvoiceDate))
}

func TestParseInvoiceDataEmpty(t *testing.T) {
	got := ParseInvoiceData("")

	assert.Nil(t, got.Vendor.Name)
	assert.Nil(t, got.InvoiceNumber)
	assert.Nil(t, got.InvoiceDate)
	assert.Nil(t, got.Total)
	assert.Empty(t, got.LineItems)
	assert.Empty(t, got.Confidence.Fields)
	assert.Equal(t, 0.0, got.Confidence.Overall)
	assert.Equal(t, "USD", got.Currency)
}

func TestParseInvoiceDataNeverPanics(t *testing.T) {
	alphabet := []rune("Invoice#:Total$€,./-0123456789 \n\tDateDue@fromPO£¥ÄÖü\x00")
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		runes := make([]rune, rng.Intn(120))
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)

		require.NotPanics(t, func() {
			got := ParseInvoiceData(text)
			require.GreaterOrEqual(t, got.Confidence.Overall, 0.0)
			require.LessOrEqual(t, got.Confidence.Overall, 1.0)
		}, "input %q", text)
	}

	require.NotPanics(t, func() { ParseInvoiceData(string([]byte{0xff, 0xfe, 'I', 'N', 'V', ' ', '1'})) })
}

func TestExtractorDateOrder(t *testing.T) {
	text := "Invoice Date: 15/03/2024"

	dayFirst := NewExtractor(nil, normalize.DayFirst).Parse(text)
	assert.Equal(t, "2024-03-15", models.StringValue(dayFirst.InvoiceDate))

	monthFirst := NewExtractor(nil, normalize.MonthFirst).Parse(text)
	assert.Nil(t, monthFirst.InvoiceDate)
}

func TestExtractorWeightOverride(t *testing.T) {
	weights := DefaultWeights().Override(map[string]float64{FieldTotal: 0.95, FieldVendorName: 2})
	got := NewExtractor(weights, normalize.MonthFirst).Parse("Vendor: Initech\nTotal: 10.00")

	assert.Equal(t, 0.95, got.Confidence.Fields[FieldTotal])
	assert.Equal(t, 1.0, got.Confidence.Fields[FieldVendorName])
	assert.Equal(t, 0.8, DefaultWeights()[FieldTotal], "defaults are not mutated")
}

func TestParseWeights(t *testing.T) {
	got, err := ParseWeights(" total=0.9, vendor_name_fallback = 0.4")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{FieldTotal: 0.9, WeightVendorNameFallback: 0.4}, got)

	empty, err := ParseWeights("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseWeights("totl=0.9")
	assert.ErrorContains(t, err, "unknown confidence weight field")

	_, err = ParseWeights("total=1.5")
	assert.Error(t, err)

	_, err = ParseWeights("total")
	assert.Error(t, err)
}
