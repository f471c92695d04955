package models

import (
	"math"
	"testing"
)

func TestCanTransitionEdges(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusCandidate, StatusTesting},
		{StatusTesting, StatusValidated},
		{StatusTesting, StatusRejected},
		{StatusValidated, StatusActive},
		{StatusValidated, StatusRejected},
		{StatusActive, StatusRetired},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s allowed", tr.from, tr.to)
		}
	}

	statuses := []Status{StatusCandidate, StatusTesting, StatusValidated, StatusActive, StatusRejected, StatusRetired}
	isAllowed := func(from, to Status) bool {
		for _, tr := range allowed {
			if tr.from == from && tr.to == to {
				return true
			}
		}
		return false
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if isAllowed(from, to) {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("unexpected edge %s -> %s", from, to)
			}
		}
	}
}

func TestTerminalStatusesAdmitNoEdges(t *testing.T) {
	statuses := []Status{StatusCandidate, StatusTesting, StatusValidated, StatusActive, StatusRejected, StatusRetired}
	for _, s := range []Status{StatusRejected, StatusRetired} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		for _, to := range statuses {
			if CanTransition(s, to) {
				t.Errorf("terminal %s transitioned to %s", s, to)
			}
		}
	}
	for _, s := range []Status{StatusCandidate, StatusTesting, StatusValidated, StatusActive} {
		if s.Terminal() {
			t.Errorf("%s reported terminal", s)
		}
	}
}

func TestPredicateFires(t *testing.T) {
	fv := &FeatureVector{Values: map[string]float64{FeatMomentum: 0.02}}
	cases := []struct {
		p    Predicate
		want bool
	}{
		{Predicate{Feature: FeatMomentum, Op: OpGT, Threshold: 0.01}, true},
		{Predicate{Feature: FeatMomentum, Op: OpGT, Threshold: 0.02}, false},
		{Predicate{Feature: FeatMomentum, Op: OpLT, Threshold: 0.03}, true},
		{Predicate{Feature: FeatMomentum, Op: OpLT, Threshold: 0.02}, false},
		{Predicate{Feature: "unknown", Op: OpGT, Threshold: -1}, false},
	}
	for i, c := range cases {
		if got := c.p.Fires(fv); got != c.want {
			t.Errorf("case %d (%s): got %v, want %v", i, c.p, got, c.want)
		}
	}
}

func TestPredicateFamilyIgnoresThreshold(t *testing.T) {
	a := Predicate{Feature: FeatVol, Op: OpGT, Threshold: 0.1}
	b := Predicate{Feature: FeatVol, Op: OpGT, Threshold: 0.9}
	if a.Family("BTCUSDT") != b.Family("BTCUSDT") {
		t.Fatalf("same structure must share a family")
	}
	if a.Family("BTCUSDT") == a.Family("ETHUSDT") {
		t.Fatalf("family must separate symbols")
	}
	c := Predicate{Feature: FeatVol, Op: OpLT, Threshold: 0.1}
	if a.Family("BTCUSDT") == c.Family("BTCUSDT") {
		t.Fatalf("family must separate operators")
	}
}

func TestRecentWindowRing(t *testing.T) {
	r := NewRecentWindow(3)
	if r.Full() {
		t.Fatalf("empty ring reported full")
	}
	r.Push(true)
	r.Push(true)
	if r.Full() {
		t.Fatalf("ring full before capacity")
	}
	if got := r.HitRate(); got != 1.0 {
		t.Fatalf("hit rate %v, want 1.0", got)
	}
	r.Push(false)
	if !r.Full() {
		t.Fatalf("ring should be full at capacity")
	}
	r.Push(false)
	r.Push(false)
	if got := r.HitRate(); math.Abs(got-1.0/3.0) > 1e-12 {
		t.Fatalf("hit rate %v, want 1/3 after evicting the oldest wins", got)
	}
}

func TestStatsDerivedValues(t *testing.T) {
	var s Stats
	if s.Variance() != 0 || s.StdErr() != 0 || s.HitRate() != 0 {
		t.Fatalf("zero-sample stats must report zeros")
	}

	s = Stats{N: 4, Wins: 3, Mean: 0.5, M2: 0.03}
	if got, want := s.Variance(), 0.01; math.Abs(got-want) > 1e-12 {
		t.Fatalf("variance %v, want %v", got, want)
	}
	if got, want := s.StdErr(), math.Sqrt(0.01/4); math.Abs(got-want) > 1e-12 {
		t.Fatalf("stderr %v, want %v", got, want)
	}
	if got := s.HitRate(); got != 0.75 {
		t.Fatalf("hit rate %v, want 0.75", got)
	}
}

func TestHypothesisScore(t *testing.T) {
	h := &Hypothesis{}
	if h.Score() != 0 {
		t.Fatalf("score must be zero without samples")
	}
	h.Stats = Stats{N: 100, Mean: 0.02, M2: 99 * 0.0004}
	want := 0.02 / math.Sqrt(0.0004/100)
	if got := h.Score(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("score %v, want %v", got, want)
	}
}

func TestHypothesisCloneIsDeep(t *testing.T) {
	h := &Hypothesis{ID: "a", Stats: Stats{Recent: NewRecentWindow(2)}}
	h.Stats.Recent.Push(true)
	c := h.Clone()
	c.Stats.Recent.Push(false)
	c.Stats.Recent.Push(false)
	if got := h.Stats.Recent.HitRate(); got != 1.0 {
		t.Fatalf("clone shares the recent ring: original hit rate %v", got)
	}
}
