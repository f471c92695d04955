package hypothesis

import "EdgeLab/internal/domain/models"

// UpdateOutcome folds one realized outcome into the running statistics using
// Welford's incremental form: O(1) per update and numerically stable where
// naive re-summation over a growing history drifts. The caller guarantees
// exclusive access to s for the duration of the call.
func UpdateOutcome(s *models.Stats, outcome float64, win bool) {
	s.N++
	if win {
		s.Wins++
	}
	delta := outcome - s.Mean
	s.Mean += delta / float64(s.N)
	s.M2 += delta * (outcome - s.Mean)
	s.Recent.Push(win)
}
