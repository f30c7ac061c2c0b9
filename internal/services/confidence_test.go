package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverallConfidence(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]int
		want   int
	}{
		{
			name:   "empty scores",
			scores: map[string]int{},
			want:   0,
		},
		{
			name:   "single score",
			scores: map[string]int{"invoice_number": 73},
			want:   73,
		},
		{
			name:   "mean rounds to nearest",
			scores: map[string]int{"a": 90, "b": 80, "c": 70, "d": 100},
			want:   85,
		},
		{
			name:   "rounds half up",
			scores: map[string]int{"a": 80, "b": 81},
			want:   81,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallConfidence(tt.scores))
		})
	}
}

func TestRequiresReview(t *testing.T) {
	allHigh := map[string]int{
		"invoice_number": 90,
		"net_amount":     90,
		"vat_amount":     90,
		"gross_amount":   90,
	}

	tests := []struct {
		name      string
		overall   int
		scores    map[string]int
		threshold int
		want      bool
	}{
		{
			name:      "high overall and critical fields",
			overall:   90,
			scores:    allHigh,
			threshold: 80,
			want:      false,
		},
		{
			name:      "overall below threshold",
			overall:   79,
			scores:    allHigh,
			threshold: 80,
			want:      true,
		},
		{
			name:    "high average but one critical field unreliable",
			overall: 85,
			scores: map[string]int{
				"invoice_number": 95,
				"net_amount":     95,
				"vat_amount":     95,
				"gross_amount":   60,
			},
			threshold: 80,
			want:      true,
		},
		{
			name:      "missing critical field counts as zero",
			overall:   95,
			scores:    map[string]int{"invoice_number": 95},
			threshold: 80,
			want:      true,
		},
		{
			name:      "zero threshold falls back to default",
			overall:   79,
			scores:    allHigh,
			threshold: 0,
			want:      true,
		},
		{
			name:      "custom threshold respected",
			overall:   75,
			scores:    allHigh,
			threshold: 70,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresReview(tt.overall, tt.scores, tt.threshold))
		})
	}
}
