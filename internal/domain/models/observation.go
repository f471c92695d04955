package models

import (
	"fmt"
	"time"
)

// Observation is one closed OHLCV bar from the feed, normalized to UTC.
// Immutable once created. Per-symbol streams carry strictly increasing
// timestamps; the pipeline rejects anything else before it reaches the core.
type Observation struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks structural sanity of a single bar. Ordering against the
// rest of the stream is the pipeline's job, not the bar's.
func (o *Observation) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("observation: empty symbol")
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("observation: zero timestamp")
	}
	if o.Open <= 0 || o.High <= 0 || o.Low <= 0 || o.Close <= 0 {
		return fmt.Errorf("observation: non-positive price")
	}
	if o.High < o.Low {
		return fmt.Errorf("observation: high %.8f below low %.8f", o.High, o.Low)
	}
	if o.Open > o.High || o.Open < o.Low || o.Close > o.High || o.Close < o.Low {
		return fmt.Errorf("observation: open/close outside high-low range")
	}
	if o.Volume < 0 {
		return fmt.Errorf("observation: negative volume")
	}
	return nil
}

// Canonical feature names produced by the extractor. Generators sample from
// this set; predicates reference nothing outside it.
const (
	FeatRet1        = "ret_1"        // one-bar log return
	FeatRetW        = "ret_w"        // log return over the full window
	FeatVol         = "vol"          // rolling stddev of one-bar log returns
	FeatVolRatio    = "vol_ratio"    // last |return| relative to rolling vol
	FeatVolumeDelta = "volume_delta" // last volume relative to window mean
	FeatMomentum    = "momentum"     // close relative to window SMA
	FeatRangePos    = "range_pos"    // close position inside window high-low range
)

// FeatureNames lists the canonical schema in a stable order.
func FeatureNames() []string {
	return []string{FeatRet1, FeatRetW, FeatVol, FeatVolRatio, FeatVolumeDelta, FeatMomentum, FeatRangePos}
}

// FeatureVector is the fixed-schema output of the extractor for one closed
// bar. Timestamp is the end of the source window. Immutable.
type FeatureVector struct {
	Symbol    string
	Timestamp time.Time
	Values    map[string]float64
}

// Get returns the named feature value and whether it is present.
func (fv *FeatureVector) Get(name string) (float64, bool) {
	v, ok := fv.Values[name]
	return v, ok
}
