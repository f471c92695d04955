package models

import (
	"fmt"
	"math"
	"time"
)

// Op is a predicate comparison operator.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
)

// Predicate is a single feature-threshold condition over a FeatureVector.
type Predicate struct {
	Feature   string
	Op        Op
	Threshold float64
}

// Fires reports whether the predicate holds on fv. A missing feature never
// fires; it is not an error.
func (p Predicate) Fires(fv *FeatureVector) bool {
	v, ok := fv.Get(p.Feature)
	if !ok {
		return false
	}
	switch p.Op {
	case OpGT:
		return v > p.Threshold
	case OpLT:
		return v < p.Threshold
	default:
		return false
	}
}

// Family is the structural identity of the predicate without its threshold.
// Two predicates in the same family are duplicates when their thresholds sit
// within the suppression epsilon.
func (p Predicate) Family(symbol string) string {
	return symbol + "|" + p.Feature + "|" + string(p.Op)
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %.6g", p.Feature, p.Op, p.Threshold)
}

// Direction is the predicted price direction over the horizon.
type Direction int8

const (
	DirUp   Direction = 1
	DirDown Direction = -1
)

func (d Direction) String() string {
	if d == DirDown {
		return "down"
	}
	return "up"
}

// Prediction is the claimed outcome once the predicate fires: price moves in
// Direction over the next Horizon closed bars.
type Prediction struct {
	Direction Direction
	Horizon   int
}

// Status is a hypothesis lifecycle state.
type Status string

const (
	StatusCandidate Status = "CANDIDATE"
	StatusTesting   Status = "TESTING"
	StatusValidated Status = "VALIDATED"
	StatusActive    Status = "ACTIVE"
	StatusRejected  Status = "REJECTED"
	StatusRetired   Status = "RETIRED"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusRetired
}

// CanTransition reports whether from→to is an edge of the state machine.
// The only allowed regression is ACTIVE→RETIRED.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusCandidate:
		return to == StatusTesting
	case StatusTesting:
		return to == StatusValidated || to == StatusRejected
	case StatusValidated:
		return to == StatusActive || to == StatusRejected
	case StatusActive:
		return to == StatusRetired
	default:
		return false
	}
}

// Transition reason codes carried on lifecycle events.
const (
	ReasonFirstEval    = "first_evaluation"
	ReasonEdge         = "edge_confirmed"
	ReasonNoEdge       = "no_edge"
	ReasonInconclusive = "inconclusive"
	ReasonRedundant    = "redundant"
	ReasonAdmitted     = "admitted"
	ReasonDisplaced    = "displaced"
	ReasonDecay        = "decay"
)

// RecentWindow is a fixed-size ring over the most recent outcomes, used for
// decay detection on ACTIVE hypotheses.
type RecentWindow struct {
	Wins []bool
	Next int
	Size int
}

// NewRecentWindow allocates a ring holding up to capacity outcomes.
func NewRecentWindow(capacity int) RecentWindow {
	return RecentWindow{Wins: make([]bool, capacity)}
}

// Push records one outcome, evicting the oldest once full.
func (r *RecentWindow) Push(win bool) {
	if len(r.Wins) == 0 {
		return
	}
	r.Wins[r.Next] = win
	r.Next = (r.Next + 1) % len(r.Wins)
	if r.Size < len(r.Wins) {
		r.Size++
	}
}

// Full reports whether the ring holds capacity outcomes.
func (r *RecentWindow) Full() bool { return len(r.Wins) > 0 && r.Size == len(r.Wins) }

// HitRate returns the fraction of wins among recorded outcomes.
func (r *RecentWindow) HitRate() float64 {
	if r.Size == 0 {
		return 0
	}
	wins := 0
	limit := r.Size
	for i := 0; i < limit; i++ {
		if r.Wins[i] {
			wins++
		}
	}
	return float64(wins) / float64(r.Size)
}

// Stats carries the accumulated evaluation statistics of one hypothesis.
// Mean/M2 follow Welford's incremental form; LLR is the running sequential
// test log-likelihood ratio. Updated by exactly one writer at a time.
type Stats struct {
	N      int64
	Wins   int64
	Mean   float64
	M2     float64
	LLR    float64
	Recent RecentWindow
}

// Variance returns the unbiased sample variance of realized outcomes.
func (s *Stats) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	return s.M2 / float64(s.N-1)
}

// StdErr returns the standard error of the running mean.
func (s *Stats) StdErr() float64 {
	if s.N < 2 {
		return 0
	}
	return math.Sqrt(s.Variance() / float64(s.N))
}

// HitRate returns wins over total samples.
func (s *Stats) HitRate() float64 {
	if s.N == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.N)
}

// Hypothesis is a feature predicate plus a predicted outcome, tracked through
// the validation lifecycle. The lifecycle manager owns it once created; the
// evaluator mutates Stats through a reference, never a copy.
type Hypothesis struct {
	ID         string
	Symbol     string
	Predicate  Predicate
	Prediction Prediction
	Strategy   string
	ParentID   string
	Status     Status
	CreatedAt  time.Time
	StatusAt   time.Time
	PromotedAt time.Time
	Stats      Stats
}

// Family is the structural dedup key of the hypothesis.
func (h *Hypothesis) Family() string { return h.Predicate.Family(h.Symbol) }

// Clone returns a deep copy safe to hand to readers while the original keeps
// receiving updates.
func (h *Hypothesis) Clone() *Hypothesis {
	c := *h
	c.Stats.Recent.Wins = append([]bool(nil), h.Stats.Recent.Wins...)
	return &c
}

// Score is the composite rank score: expected value weighted by confidence,
// i.e. the running mean outcome over its standard error. Zero until enough
// samples exist to estimate the error.
func (h *Hypothesis) Score() float64 {
	se := h.Stats.StdErr()
	if se == 0 {
		return 0
	}
	return h.Stats.Mean / se
}

// TransitionEvent records one lifecycle transition for audit, persistence and
// downstream subscribers.
type TransitionEvent struct {
	HypothesisID string
	Symbol       string
	From         Status
	To           Status
	Reason       string
	At           time.Time
	N            int64
	Mean         float64
	HitRate      float64
}
