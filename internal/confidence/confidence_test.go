package confidence

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/pkg/models"
)

func TestOverallEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Overall(nil))
	assert.Equal(t, 0.0, Overall(map[string]float64{}))
}

func TestOverallIsMeanOfRandomSubsets(t *testing.T) {
	fields := []string{"vendor_name", "invoice_number", "invoice_date", "due_date",
		"total", "subtotal", "tax_total", "vendor_email", "po_number"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var c models.Confidence
		var sum float64
		n := 0
		for _, f := range fields {
			if rng.Intn(2) == 0 {
				continue
			}
			v := rng.Float64()
			Set(&c, f, v)
			sum += v
			n++
		}

		require.GreaterOrEqual(t, c.Overall, 0.0)
		require.LessOrEqual(t, c.Overall, 1.0)
		if n == 0 {
			assert.Equal(t, 0.0, c.Overall, "iteration %d", i)
			continue
		}
		assert.InDelta(t, sum/float64(n), c.Overall, 1e-12, "iteration %d", i)
	}
}

func TestSetClampsOutOfRangeValues(t *testing.T) {
	var c models.Confidence
	Set(&c, "total", 1.7)
	Set(&c, "subtotal", -0.2)

	assert.Equal(t, 1.0, c.Fields["total"])
	assert.Equal(t, 0.0, c.Fields["subtotal"])
	assert.Equal(t, 0.5, c.Overall)
}

func TestPolicyClassify(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	tests := []struct {
		overall float64
		want    Level
	}{
		{0, LevelNeedsReview},
		{0.69, LevelNeedsReview},
		{0.7, LevelStandard},
		{0.89, LevelStandard},
		{0.9, LevelHigh},
		{1, LevelHigh},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.overall), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.overall))
		})
	}
	assert.True(t, p.NeedsReview(0.5))
}

func TestPolicyValidate(t *testing.T) {
	assert.Error(t, Policy{ReviewThreshold: 0.9, HighThreshold: 0.5}.Validate())
	assert.Error(t, Policy{ReviewThreshold: -1, HighThreshold: 0.5}.Validate())
	assert.NoError(t, Policy{ReviewThreshold: 0.5, HighThreshold: 0.95}.Validate())
}
