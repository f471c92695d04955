package hypothesis

import (
	"math"
	"math/rand"
	"sort"

	"EdgeLab/internal/domain/models"
)

// FeatureHistory keeps a bounded trail of recent values per symbol and
// feature. Generation strategies draw thresholds from it so candidates land
// inside the range the market actually visits. Single writer (the engine
// loop); strategies read it only inside a generation cycle, which the writer
// does not overlap.
type FeatureHistory struct {
	capacity int
	data     map[string]map[string]*valueRing
}

func NewFeatureHistory(capacity int) *FeatureHistory {
	if capacity < 8 {
		capacity = 8
	}
	return &FeatureHistory{
		capacity: capacity,
		data:     make(map[string]map[string]*valueRing),
	}
}

// Push records every feature of one vector.
func (fh *FeatureHistory) Push(fv *models.FeatureVector) {
	bySym, ok := fh.data[fv.Symbol]
	if !ok {
		bySym = make(map[string]*valueRing, len(fv.Values))
		fh.data[fv.Symbol] = bySym
	}
	for name, v := range fv.Values {
		r, ok := bySym[name]
		if !ok {
			r = &valueRing{buf: make([]float64, 0, fh.capacity)}
			bySym[name] = r
		}
		r.push(v, fh.capacity)
	}
}

// Sample returns a uniformly drawn recent value of the feature.
func (fh *FeatureHistory) Sample(rng *rand.Rand, symbol, feature string) (float64, bool) {
	r := fh.ring(symbol, feature)
	if r == nil || len(r.buf) == 0 {
		return 0, false
	}
	return r.buf[rng.Intn(len(r.buf))], true
}

// Sigma returns the sample standard deviation of the feature's recent values.
func (fh *FeatureHistory) Sigma(symbol, feature string) float64 {
	r := fh.ring(symbol, feature)
	if r == nil || len(r.buf) < 2 {
		return 0
	}
	var sum, sum2 float64
	for _, v := range r.buf {
		sum += v
		sum2 += v * v
	}
	n := float64(len(r.buf))
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// Quantile returns the q-quantile (0..1) of the feature's recent values.
func (fh *FeatureHistory) Quantile(symbol, feature string, q float64) (float64, bool) {
	r := fh.ring(symbol, feature)
	if r == nil || len(r.buf) == 0 {
		return 0, false
	}
	vals := append([]float64(nil), r.buf...)
	sort.Float64s(vals)
	if q <= 0 {
		return vals[0], true
	}
	if q >= 1 {
		return vals[len(vals)-1], true
	}
	idx := int(q * float64(len(vals)-1))
	return vals[idx], true
}

func (fh *FeatureHistory) ring(symbol, feature string) *valueRing {
	bySym, ok := fh.data[symbol]
	if !ok {
		return nil
	}
	return bySym[feature]
}

// valueRing holds up to capacity values; order is irrelevant to consumers,
// so eviction just overwrites round-robin.
type valueRing struct {
	buf  []float64
	next int
}

func (r *valueRing) push(v float64, capacity int) {
	if len(r.buf) < capacity {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % capacity
}
