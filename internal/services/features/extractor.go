package features

import (
	"math"
	"time"

	"EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
)

// Extractor derives the fixed feature schema from a bounded rolling window of
// closed bars, one window per symbol. Repeated extraction is O(1) amortized
// per bar: running sums carry the return/close/volume aggregates and
// monotonic deques carry the window high/low. Deterministic: identical input
// windows produce identical vectors, no clock reads, no randomness.
//
// Not safe for concurrent use. The engine owns it from a single intake
// goroutine.
type Extractor struct {
	window  int
	symbols map[string]*symbolWindow
}

// NewExtractor creates an extractor with the given window size (bars).
// Window sizes below 2 are raised to 2; a single bar yields no return.
func NewExtractor(window int) *Extractor {
	if window < 2 {
		window = 2
	}
	return &Extractor{
		window:  window,
		symbols: make(map[string]*symbolWindow),
	}
}

// Push appends one closed bar to its symbol window and derives the feature
// vector for the updated window. Returns ErrInsufficientData until the
// window holds exactly `window` bars.
func (e *Extractor) Push(o *models.Observation) (*models.FeatureVector, error) {
	w, ok := e.symbols[o.Symbol]
	if !ok {
		w = newSymbolWindow(e.window)
		e.symbols[o.Symbol] = w
	}
	w.push(o)
	if !w.full() {
		return nil, models.ErrInsufficientData
	}
	return w.extract(o.Symbol, o.Timestamp), nil
}

// Ready reports whether the symbol's window is full.
func (e *Extractor) Ready(symbol string) bool {
	w, ok := e.symbols[symbol]
	return ok && w.full()
}

// Reset discards the symbol's window. Called on feed discontinuities so
// returns are never computed across a gap.
func (e *Extractor) Reset(symbol string) {
	delete(e.symbols, symbol)
}

// symbolWindow is the incremental state behind one symbol's feature window.
type symbolWindow struct {
	cap   int
	bars  ring[bar]
	rets  ring[float64]
	index int64 // absolute index of the latest bar

	sumClose  float64
	sumVolume float64
	sumRet    float64
	sumRetSq  float64

	maxDq deque // window high
	minDq deque // window low
}

type bar struct {
	close  float64
	volume float64
}

func newSymbolWindow(capacity int) *symbolWindow {
	return &symbolWindow{
		cap:   capacity,
		bars:  newRing[bar](capacity),
		rets:  newRing[float64](capacity - 1),
		index: -1,
	}
}

func (w *symbolWindow) full() bool { return w.bars.len() == w.cap }

func (w *symbolWindow) push(o *models.Observation) {
	w.index++

	if prev, ok := w.bars.last(); ok {
		r := 0.0
		if prev.close > 0 && o.Close > 0 {
			r = math.Log(o.Close / prev.close)
		}
		if evicted, full := w.rets.push(r); full {
			w.sumRet -= evicted
			w.sumRetSq -= evicted * evicted
		}
		w.sumRet += r
		w.sumRetSq += r * r
	}

	if evicted, full := w.bars.push(bar{close: o.Close, volume: o.Volume}); full {
		w.sumClose -= evicted.close
		w.sumVolume -= evicted.volume
	}
	w.sumClose += o.Close
	w.sumVolume += o.Volume

	oldest := w.index - int64(w.cap) + 1
	w.maxDq.push(w.index, o.High, func(a, b float64) bool { return a <= b })
	w.minDq.push(w.index, o.Low, func(a, b float64) bool { return a >= b })
	w.maxDq.trim(oldest)
	w.minDq.trim(oldest)
}

func (w *symbolWindow) extract(symbol string, ts time.Time) *models.FeatureVector {
	n := float64(w.bars.len())
	nr := float64(w.rets.len())

	last, _ := w.bars.last()
	first, _ := w.bars.first()

	ret1 := 0.0
	if v, ok := w.rets.last(); ok {
		ret1 = v
	}
	retW := 0.0
	if first.close > 0 && last.close > 0 {
		retW = math.Log(last.close / first.close)
	}

	vol := 0.0
	if nr > 1 {
		mean := w.sumRet / nr
		variance := (w.sumRetSq - nr*mean*mean) / (nr - 1)
		if variance > 0 {
			vol = math.Sqrt(variance)
		}
	}

	volRatio := 0.0
	if vol > 0 {
		volRatio = math.Abs(ret1) / vol
	}

	volumeDelta := 0.0
	if mean := w.sumVolume / n; mean > 0 {
		volumeDelta = last.volume/mean - 1
	}

	momentum := 0.0
	if sma := w.sumClose / n; sma > 0 {
		momentum = last.close/sma - 1
	}

	high := w.maxDq.head()
	low := w.minDq.head()
	rangePos := 0.5
	if high > low {
		rangePos = (last.close - low) / (high - low)
	}

	return &models.FeatureVector{
		Symbol:    symbol,
		Timestamp: ts,
		Values: map[string]float64{
			models.FeatRet1:        ret1,
			models.FeatRetW:        retW,
			models.FeatVol:         vol,
			models.FeatVolRatio:    volRatio,
			models.FeatVolumeDelta: volumeDelta,
			models.FeatMomentum:    momentum,
			models.FeatRangePos:    rangePos,
		},
	}
}

// ring is a fixed-capacity FIFO. push returns the evicted element when the
// ring was already full.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) push(v T) (evicted T, wasFull bool) {
	if r.count == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	return evicted, false
}

func (r *ring[T]) first() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// deque keeps (index, value) pairs with values monotonic from head to tail,
// giving O(1) amortized sliding-window extrema.
type deque struct {
	idx []int64
	val []float64
}

// push drops tail entries the new value dominates, then appends.
func (d *deque) push(i int64, v float64, dominated func(tail, v float64) bool) {
	for len(d.val) > 0 && dominated(d.val[len(d.val)-1], v) {
		d.val = d.val[:len(d.val)-1]
		d.idx = d.idx[:len(d.idx)-1]
	}
	d.idx = append(d.idx, i)
	d.val = append(d.val, v)
}

// trim drops head entries that left the window.
func (d *deque) trim(oldest int64) {
	for len(d.idx) > 0 && d.idx[0] < oldest {
		d.idx = d.idx[1:]
		d.val = d.val[1:]
	}
}

func (d *deque) head() float64 {
	if len(d.val) == 0 {
		return 0
	}
	return d.val[0]
}

// AlignFromTo rounds a time range to bar boundaries for a timeframe.
func AlignFromTo(from, to time.Time, tf domrepo.Timeframe) (time.Time, time.Time) {
	d := tf.Interval()
	return from.Truncate(d), to.Truncate(d)
}
