package models

import (
	"strings"
	"testing"
	"time"
)

func validBar() Observation {
	return Observation{
		Symbol:    "BTCUSDT",
		Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Open:      100,
		High:      105,
		Low:       99,
		Close:     104,
		Volume:    12.5,
	}
}

func TestObservationValidate(t *testing.T) {
	o := validBar()
	if err := o.Validate(); err != nil {
		t.Fatalf("valid bar rejected: %v", err)
	}
}

func TestObservationValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Observation)
		want   string
	}{
		{"empty symbol", func(o *Observation) { o.Symbol = "" }, "symbol"},
		{"zero timestamp", func(o *Observation) { o.Timestamp = time.Time{} }, "timestamp"},
		{"non-positive price", func(o *Observation) { o.Close = 0 }, "price"},
		{"high below low", func(o *Observation) { o.High = 98 }, "below low"},
		{"close outside range", func(o *Observation) { o.Close = 200 }, "range"},
		{"negative volume", func(o *Observation) { o.Volume = -1 }, "volume"},
	}
	for _, c := range cases {
		o := validBar()
		c.mutate(&o)
		err := o.Validate()
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: error %q does not mention %q", c.name, err, c.want)
		}
	}
}
