package sor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindworx/sor"
)

func TestComputeOverallScore(t *testing.T) {
	weights := map[int64]float64{
		1: 0.6,
		2: 0.4,
	}

	testCases := []struct {
		name     string
		results  []sor.AssessmentResult
		weights  map[int64]float64
		expected float64
	}{
		{
			name: "two weighted results",
			results: []sor.AssessmentResult{
				{AssessmentID: 1, RawScore: 80, MaxScore: 100},
				{AssessmentID: 2, RawScore: 50, MaxScore: 100},
			},
			weights:  weights,
			expected: 68.00,
		},
		{
			name: "unweighted results are fully excluded",
			results: []sor.AssessmentResult{
				{AssessmentID: 1, RawScore: 80, MaxScore: 100},
				{AssessmentID: 99, RawScore: 10, MaxScore: 100},
			},
			weights:  weights,
			expected: 80.00,
		},
		{
			name: "subset normalised by contributing weights",
			results: []sor.AssessmentResult{
				{AssessmentID: 2, RawScore: 45, MaxScore: 60},
			},
			weights:  weights,
			expected: 75.00,
		},
		{
			name: "zero max score excluded",
			results: []sor.AssessmentResult{
				{AssessmentID: 1, RawScore: 80, MaxScore: 100},
				{AssessmentID: 2, RawScore: 10, MaxScore: 0},
			},
			weights:  weights,
			expected: 80.00,
		},
		{
			name:     "no results",
			results:  nil,
			weights:  weights,
			expected: 0.0,
		},
		{
			name: "no weights configured",
			results: []sor.AssessmentResult{
				{AssessmentID: 1, RawScore: 80, MaxScore: 100},
			},
			weights:  nil,
			expected: 0.0,
		},
		{
			name: "rounds to two decimals",
			results: []sor.AssessmentResult{
				{AssessmentID: 1, RawScore: 1, MaxScore: 3},
				{AssessmentID: 2, RawScore: 2, MaxScore: 3},
			},
			weights:  weights,
			expected: 46.67,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, sor.ComputeOverallScore(tc.results, tc.weights))
		})
	}
}
