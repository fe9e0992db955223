package confidence

import "fmt"

// Level is the review bucket an overall confidence falls into.
type Level string

const (
	LevelNeedsReview Level = "needs_review"
	LevelStandard    Level = "standard"
	LevelHigh        Level = "high"
)

const (
	DefaultReviewThreshold = 0.7
	DefaultHighThreshold   = 0.9
)

// Policy holds the configurable thresholds used by review and auto-approval.
type Policy struct {
	// ReviewThreshold: overall below this needs human review.
	ReviewThreshold float64
	// HighThreshold: overall at or above this is high confidence.
	HighThreshold float64
}

// DefaultPolicy returns the thresholds used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		ReviewThreshold: DefaultReviewThreshold,
		HighThreshold:   DefaultHighThreshold,
	}
}

// Validate checks that both thresholds are in [0,1] and ordered.
func (p Policy) Validate() error {
	if p.ReviewThreshold < 0 || p.ReviewThreshold > 1 {
		return fmt.Errorf("review threshold %.2f outside [0,1]", p.ReviewThreshold)
	}
	if p.HighThreshold < 0 || p.HighThreshold > 1 {
		return fmt.Errorf("high confidence threshold %.2f outside [0,1]", p.HighThreshold)
	}
	if p.HighThreshold < p.ReviewThreshold {
		return fmt.Errorf("high confidence threshold %.2f below review threshold %.2f", p.HighThreshold, p.ReviewThreshold)
	}
	return nil
}

// Classify maps an overall confidence onto a review level.
func (p Policy) Classify(overall float64) Level {
	switch {
	case overall < p.ReviewThreshold:
		return LevelNeedsReview
	case overall >= p.HighThreshold:
		return LevelHigh
	default:
		return LevelStandard
	}
}

// NeedsReview reports whether the overall confidence is below the review threshold.
func (p Policy) NeedsReview(overall float64) bool {
	return p.Classify(overall) == LevelNeedsReview
}
