package hypothesis

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"EdgeLab/internal/domain/models"
)

func pushValues(fh *FeatureHistory, symbol, feature string, vals []float64) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range vals {
		fh.Push(&models.FeatureVector{
			Symbol:    symbol,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Values:    map[string]float64{feature: v},
		})
	}
}

func TestFeatureHistorySigma(t *testing.T) {
	fh := NewFeatureHistory(32)
	vals := []float64{0.01, 0.03, -0.02, 0.05, 0.00, -0.01, 0.02, 0.04}
	pushValues(fh, "BTCUSDT", models.FeatRet1, vals)

	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	variance := 0.0
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals) - 1)
	want := math.Sqrt(variance)

	if got := fh.Sigma("BTCUSDT", models.FeatRet1); math.Abs(got-want) > 1e-12 {
		t.Errorf("Sigma = %v, want %v", got, want)
	}
	if got := fh.Sigma("BTCUSDT", "unknown"); got != 0 {
		t.Errorf("Sigma of unseen feature = %v, want 0", got)
	}
	if got := fh.Sigma("ETHUSDT", models.FeatRet1); got != 0 {
		t.Errorf("Sigma of unseen symbol = %v, want 0", got)
	}
}

func TestFeatureHistoryQuantile(t *testing.T) {
	fh := NewFeatureHistory(32)
	// 1..10 shuffled; quantiles operate on the sorted copy.
	pushValues(fh, "BTCUSDT", models.FeatVol, []float64{7, 2, 9, 1, 5, 10, 3, 8, 4, 6})

	cases := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.5, 5}, // index int(0.5*9) = 4
		{1, 10},
	}
	for _, tc := range cases {
		got, ok := fh.Quantile("BTCUSDT", models.FeatVol, tc.q)
		if !ok {
			t.Fatalf("Quantile(%v) not ok", tc.q)
		}
		if got != tc.want {
			t.Errorf("Quantile(%v) = %v, want %v", tc.q, got, tc.want)
		}
	}
	if _, ok := fh.Quantile("BTCUSDT", "unknown", 0.5); ok {
		t.Error("quantile of unseen feature should report not ok")
	}
}

func TestFeatureHistorySampleDrawsRecorded(t *testing.T) {
	fh := NewFeatureHistory(16)
	vals := []float64{0.1, 0.2, 0.3}
	pushValues(fh, "BTCUSDT", models.FeatMomentum, vals)

	rng := rand.New(rand.NewSource(7))
	seen := map[float64]bool{}
	for i := 0; i < 50; i++ {
		v, ok := fh.Sample(rng, "BTCUSDT", models.FeatMomentum)
		if !ok {
			t.Fatal("sample from populated history not ok")
		}
		seen[v] = true
	}
	for _, want := range vals {
		if !seen[want] {
			t.Errorf("value %v never drawn in 50 samples", want)
		}
	}
	if _, ok := fh.Sample(rng, "ETHUSDT", models.FeatMomentum); ok {
		t.Error("sample from empty history should report not ok")
	}
}

func TestFeatureHistoryEviction(t *testing.T) {
	fh := NewFeatureHistory(8)
	var vals []float64
	for i := 1; i <= 20; i++ {
		vals = append(vals, float64(i))
	}
	pushValues(fh, "BTCUSDT", models.FeatRangePos, vals)

	// Capacity 8: only 13..20 survive.
	lo, ok := fh.Quantile("BTCUSDT", models.FeatRangePos, 0)
	if !ok || lo < 13 {
		t.Errorf("min after eviction = %v, want >= 13", lo)
	}
	hi, ok := fh.Quantile("BTCUSDT", models.FeatRangePos, 1)
	if !ok || hi != 20 {
		t.Errorf("max after eviction = %v, want 20", hi)
	}
}
