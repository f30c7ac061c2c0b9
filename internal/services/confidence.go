package services

import "math"

// DefaultReviewThreshold is the overall-confidence gate below which an
// invoice always requires human review.
const DefaultReviewThreshold = 80

// criticalFieldFloor is the fixed per-field gate for financially critical
// fields. An invoice can average high while one critical field is
// unreliable, so the overall mean alone is not a safe gate.
const criticalFieldFloor = 70

var criticalFields = []string{"invoice_number", "net_amount", "vat_amount", "gross_amount"}

// OverallConfidence returns the arithmetic mean of all per-field confidence
// values, rounded to the nearest integer. Zero for an empty score set.
func OverallConfidence(scores map[string]int) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, v := range scores {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}

// RequiresReview reports whether human review is needed: the overall score
// is below threshold, or any critical field scores below the fixed floor.
// Missing critical fields count as zero confidence.
func RequiresReview(overall int, scores map[string]int, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultReviewThreshold
	}
	if overall < threshold {
		return true
	}
	for _, field := range criticalFields {
		if scores[field] < criticalFieldFloor {
			return true
		}
	}
	return false
}
