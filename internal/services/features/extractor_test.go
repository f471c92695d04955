package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"EdgeLab/internal/domain/models"
)

func synthClose(i int) float64  { return 100 + 5*math.Sin(float64(i)/3) + 0.3*float64(i%7) }
func synthVolume(i int) float64 { return 10 + float64(i%5) }

func barAt(i int, symbol string, close, volume float64) *models.Observation {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &models.Observation{
		Symbol:    symbol,
		Timestamp: base.Add(time.Duration(i) * time.Minute),
		Open:      close * 0.999,
		High:      close * 1.002,
		Low:       close * 0.997,
		Close:     close,
		Volume:    volume,
	}
}

func TestExtractorWarmup(t *testing.T) {
	e := NewExtractor(4)
	for i := 0; i < 3; i++ {
		fv, err := e.Push(barAt(i, "BTCUSDT", synthClose(i), synthVolume(i)))
		if !errors.Is(err, models.ErrInsufficientData) {
			t.Fatalf("bar %d: want ErrInsufficientData, got fv=%v err=%v", i, fv, err)
		}
		if e.Ready("BTCUSDT") {
			t.Fatalf("ready before the window filled")
		}
	}
	fv, err := e.Push(barAt(3, "BTCUSDT", synthClose(3), synthVolume(3)))
	if err != nil {
		t.Fatalf("full window errored: %v", err)
	}
	if fv == nil || fv.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected vector %+v", fv)
	}
	if !e.Ready("BTCUSDT") {
		t.Fatalf("extractor should be ready")
	}
	for _, name := range models.FeatureNames() {
		if _, ok := fv.Get(name); !ok {
			t.Errorf("feature %s missing from the vector", name)
		}
	}
}

// The incremental path must agree with a from-scratch recomputation over the
// same window at every step.
func TestExtractorMatchesDirectRecompute(t *testing.T) {
	const window = 16
	e := NewExtractor(window)
	var bars []*models.Observation
	for i := 0; i < 120; i++ {
		o := barAt(i, "ETHUSDT", synthClose(i), synthVolume(i))
		bars = append(bars, o)
		fv, err := e.Push(o)
		if i < window-1 {
			continue
		}
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		want := directFeatures(bars[i-window+1 : i+1])
		for name, wv := range want {
			gv, ok := fv.Get(name)
			if !ok {
				t.Fatalf("bar %d: feature %s missing", i, name)
			}
			if math.Abs(gv-wv) > 1e-9 {
				t.Fatalf("bar %d %s: incremental %v, direct %v", i, name, gv, wv)
			}
		}
	}
}

// directFeatures recomputes the schema naively over one full window.
func directFeatures(win []*models.Observation) map[string]float64 {
	n := len(win)
	last := win[n-1]

	rets := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		rets = append(rets, math.Log(win[i].Close/win[i-1].Close))
	}
	ret1 := rets[len(rets)-1]
	retW := math.Log(last.Close / win[0].Close)

	meanRet := 0.0
	for _, r := range rets {
		meanRet += r
	}
	meanRet /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - meanRet) * (r - meanRet)
	}
	variance /= float64(len(rets) - 1)
	vol := 0.0
	if variance > 0 {
		vol = math.Sqrt(variance)
	}

	volRatio := 0.0
	if vol > 0 {
		volRatio = math.Abs(ret1) / vol
	}

	sumVolume, sumClose := 0.0, 0.0
	high, low := win[0].High, win[0].Low
	for _, o := range win {
		sumVolume += o.Volume
		sumClose += o.Close
		if o.High > high {
			high = o.High
		}
		if o.Low < low {
			low = o.Low
		}
	}
	volumeDelta := last.Volume/(sumVolume/float64(n)) - 1
	momentum := last.Close/(sumClose/float64(n)) - 1
	rangePos := 0.5
	if high > low {
		rangePos = (last.Close - low) / (high - low)
	}

	return map[string]float64{
		models.FeatRet1:        ret1,
		models.FeatRetW:        retW,
		models.FeatVol:         vol,
		models.FeatVolRatio:    volRatio,
		models.FeatVolumeDelta: volumeDelta,
		models.FeatMomentum:    momentum,
		models.FeatRangePos:    rangePos,
	}
}

func TestExtractorResetDiscardsWindow(t *testing.T) {
	e := NewExtractor(3)
	for i := 0; i < 3; i++ {
		_, _ = e.Push(barAt(i, "BTCUSDT", synthClose(i), 1))
	}
	if !e.Ready("BTCUSDT") {
		t.Fatalf("window should be full")
	}
	e.Reset("BTCUSDT")
	if e.Ready("BTCUSDT") {
		t.Fatalf("reset must discard the window")
	}
	if _, err := e.Push(barAt(10, "BTCUSDT", synthClose(10), 1)); !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("refill should start from scratch, got %v", err)
	}
}

func TestExtractorSymbolIsolation(t *testing.T) {
	e := NewExtractor(3)
	for i := 0; i < 3; i++ {
		if _, err := e.Push(barAt(i, "BTCUSDT", 100+float64(i), 1)); err != nil && !errors.Is(err, models.ErrInsufficientData) {
			t.Fatalf("push: %v", err)
		}
	}
	if e.Ready("ETHUSDT") {
		t.Fatalf("symbols must not share windows")
	}
	if !e.Ready("BTCUSDT") {
		t.Fatalf("filled symbol should be ready")
	}
}
