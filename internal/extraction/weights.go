package extraction

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"invoiceflow/internal/confidence"
)

// Field names recorded in Confidence.Fields.
const (
	FieldVendorName    = "vendor_name"
	FieldVendorEmail   = "vendor_email"
	FieldInvoiceNumber = "invoice_number"
	FieldPONumber      = "po_number"
	FieldInvoiceDate   = "invoice_date"
	FieldDueDate       = "due_date"
	FieldTotal         = "total"
	FieldSubtotal      = "subtotal"
	FieldTaxTotal      = "tax_total"
)

// Weight keys for the lower-confidence fallback paths. They are recorded under
// the plain field name.
const (
	WeightVendorNameFallback  = "vendor_name_fallback"
	WeightInvoiceDateFallback = "invoice_date_fallback"
)

// Weights is the base confidence assigned to a field when its pattern matches.
// The values express how reliable each pattern tends to be, not a computed score.
type Weights map[string]float64

// DefaultWeights returns the calibrated weight table.
func DefaultWeights() Weights {
	return Weights{
		FieldVendorName:           0.7,
		WeightVendorNameFallback:  0.5,
		FieldInvoiceNumber:        0.85,
		FieldInvoiceDate:          0.75,
		WeightInvoiceDateFallback: 0.65,
		FieldDueDate:              0.75,
		FieldTotal:                0.8,
		FieldSubtotal:             0.75,
		FieldTaxTotal:             0.75,
		FieldVendorEmail:          0.9,
		FieldPONumber:             0.8,
	}
}

// Override returns a copy of w with the given entries replaced. Values are
// clamped to [0,1].
func (w Weights) Override(overrides map[string]float64) Weights {
	merged := make(Weights, len(w)+len(overrides))
	for k, v := range w {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = confidence.Clamp(v)
	}
	return merged
}

// Get returns the weight for key, or 0 when the key is unknown.
func (w Weights) Get(key string) float64 {
	return w[key]
}

// ParseWeights parses "field=weight,field=weight" as used in configuration.
// Unknown field names are rejected so a typo does not silently miscalibrate.
func ParseWeights(s string) (map[string]float64, error) {
	out := map[string]float64{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	known := DefaultWeights()
	for _, pair := range strings.Split(s, ",") {
		key, raw, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return nil, fmt.Errorf("invalid confidence weight %q: expected field=value", pair)
		}
		key = strings.TrimSpace(key)
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("unknown confidence weight field %q (known: %s)", key, strings.Join(known.keys(), ", "))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("confidence weight for %s must be a number in [0,1], got %q", key, raw)
		}
		out[key] = v
	}
	return out, nil
}

func (w Weights) keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
