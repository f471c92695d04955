package repository

import "time"

// Timeframe is the bar resolution of an observation stream.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1h Timeframe = "1h"
)

// NormalizeTimeframe maps a raw config string to a supported timeframe.
// Unknown or empty values fall back to one-minute bars.
func NormalizeTimeframe(s string) Timeframe {
	switch tf := Timeframe(s); tf {
	case TF1m, TF5m, TF1h:
		return tf
	default:
		return TF1m
	}
}

// Interval is the wall-clock duration of one bar. Horizons measured in bars
// convert to due timestamps with this.
func (tf Timeframe) Interval() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF1h:
		return time.Hour
	default:
		return time.Minute
	}
}
