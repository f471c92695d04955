package hypothesis

import (
	"math"
	"testing"

	"EdgeLab/internal/domain/models"
)

func TestUpdateOutcomeMatchesDirectMoments(t *testing.T) {
	outcomes := []float64{0.012, -0.008, 0.021, 0.004, -0.015, 0.009, 0.002, -0.001, 0.017, -0.006}

	s := models.Stats{Recent: models.NewRecentWindow(4)}
	wins := 0
	for _, o := range outcomes {
		win := o > 0
		if win {
			wins++
		}
		UpdateOutcome(&s, o, win)
	}

	n := float64(len(outcomes))
	mean := 0.0
	for _, o := range outcomes {
		mean += o
	}
	mean /= n
	variance := 0.0
	for _, o := range outcomes {
		variance += (o - mean) * (o - mean)
	}
	variance /= n - 1

	if s.N != int64(len(outcomes)) {
		t.Fatalf("N = %d, want %d", s.N, len(outcomes))
	}
	if s.Wins != int64(wins) {
		t.Fatalf("Wins = %d, want %d", s.Wins, wins)
	}
	if math.Abs(s.Mean-mean) > 1e-12 {
		t.Errorf("Mean = %v, want %v", s.Mean, mean)
	}
	if math.Abs(s.Variance()-variance) > 1e-12 {
		t.Errorf("Variance = %v, want %v", s.Variance(), variance)
	}
	wantErr := math.Sqrt(variance / n)
	if math.Abs(s.StdErr()-wantErr) > 1e-12 {
		t.Errorf("StdErr = %v, want %v", s.StdErr(), wantErr)
	}
}

func TestUpdateOutcomeFeedsRecentRing(t *testing.T) {
	s := models.Stats{Recent: models.NewRecentWindow(3)}
	seq := []bool{true, true, false, false}
	for _, win := range seq {
		outcome := -0.01
		if win {
			outcome = 0.01
		}
		UpdateOutcome(&s, outcome, win)
	}
	// Ring capacity 3: the first win was evicted, leaving [true, false, false].
	if !s.Recent.Full() {
		t.Fatalf("ring should be full after %d pushes", len(seq))
	}
	if got := s.Recent.HitRate(); math.Abs(got-1.0/3.0) > 1e-12 {
		t.Errorf("HitRate = %v, want 1/3", got)
	}
}
