// Package confidence aggregates per-field extraction confidence and applies
// the review policy to the aggregate.
package confidence

import (
	"math"

	"invoiceflow/pkg/models"
)

// Overall returns the arithmetic mean of the field confidences, clamped to
// [0,1]. An empty map yields 0.
func Overall(fields map[string]float64) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, v := range fields {
		sum += v
	}
	return Clamp(sum / float64(len(fields)))
}

// Clamp limits v to the [0,1] confidence range.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Set records the confidence of one extracted field and refreshes Overall.
func Set(c *models.Confidence, field string, value float64) {
	if c.Fields == nil {
		c.Fields = map[string]float64{}
	}
	c.Fields[field] = Clamp(value)
	c.Overall = Overall(c.Fields)
}

// Recompute refreshes Overall from the current Fields.
func Recompute(c *models.Confidence) {
	if c.Fields == nil {
		c.Fields = map[string]float64{}
	}
	c.Overall = Overall(c.Fields)
}
