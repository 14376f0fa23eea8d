// Package pattern holds the two stateless candidate classifiers. Both
// are deterministic over the input series: identical bars always
// produce identical scores.
package pattern

import "stockscout/internal/model"

// Classifier scores one enriched series against a single pattern.
type Classifier interface {
	ID() model.ScannerID
	Classify(s *model.EnrichedSeries) model.ScoreResult
}

// scoreScale is the upper bound of the bounded score scale.
const scoreScale = 10.0

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > scoreScale {
		return scoreScale
	}
	return v
}
