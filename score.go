package sor

import "math"

// AssessmentResult is one scored evaluation item fetched fresh from the data
// source per workflow run. It is never persisted by this package.
type AssessmentResult struct {
	AssessmentID int64
	Name         string
	RawScore     float64
	MaxScore     float64
}

// ComputeOverallScore derives the weighted overall percentage for a set of
// assessment results. It is the only place this computation exists: the
// request creation path, the rendering path and the recalculation sweep all
// call it so the score shown in the request list always matches the one
// printed on the statement.
//
// Results whose assessment has no configured weight are fully excluded; they
// contribute to neither numerator nor denominator. Normalisation is by the
// sum of the weights that did contribute, so a learner with only a subset of
// assessments is scored against that subset.
func ComputeOverallScore(results []AssessmentResult, weights map[int64]float64) float64 {
	var (
		weightedSum float64
		totalWeight float64
	)

	for _, res := range results {
		weight, ok := weights[res.AssessmentID]
		if !ok {
			continue
		}

		if res.MaxScore <= 0 {
			continue
		}

		percentage := res.RawScore / res.MaxScore * 100
		weightedSum += percentage * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.0
	}

	return round2(weightedSum / totalWeight)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
