package hypothesis

import (
	"fmt"
	"math"
)

// Decision is the state of a sequential test after an update.
type Decision int8

const (
	DecideContinue Decision = iota
	DecideEdge              // accept H1: the hypothesis has an edge
	DecideNull              // accept H0: no edge
)

func (d Decision) String() string {
	switch d {
	case DecideEdge:
		return "edge"
	case DecideNull:
		return "null"
	default:
		return "continue"
	}
}

// SPRT is Wald's sequential probability ratio test over a win/loss stream,
// H0: p = 0.5 against H1: p = 0.5 + delta. Unlike a fixed-sample z-test it
// stays valid under continuous monitoring: with boundaries
// A = ln((1-beta)/alpha) and B = ln(beta/(1-alpha)) the realized error rates
// are bounded by alpha' <= alpha/(1-beta) and beta' <= beta/(1-alpha).
// The test itself is stateless; the running log-likelihood ratio lives in
// each hypothesis's Stats so it snapshots and restores with them.
type SPRT struct {
	winStep  float64
	lossStep float64
	upper    float64
	lower    float64
}

// NewSPRT builds the test from operating characteristics. confidence is
// 1-alpha, power is 1-beta, delta is the win-probability edge under H1.
func NewSPRT(confidence, power, delta float64) (*SPRT, error) {
	if confidence <= 0.5 || confidence >= 1 {
		return nil, fmt.Errorf("sprt: confidence %.3f outside (0.5, 1)", confidence)
	}
	if power <= 0.5 || power >= 1 {
		return nil, fmt.Errorf("sprt: power %.3f outside (0.5, 1)", power)
	}
	if delta <= 0 || delta >= 0.5 {
		return nil, fmt.Errorf("sprt: delta %.4f outside (0, 0.5)", delta)
	}
	alpha := 1 - confidence
	beta := 1 - power
	p1 := 0.5 + delta
	return &SPRT{
		winStep:  math.Log(p1 / 0.5),
		lossStep: math.Log((1 - p1) / 0.5),
		upper:    math.Log((1 - beta) / alpha),
		lower:    math.Log(beta / (1 - alpha)),
	}, nil
}

// Step returns the log-likelihood ratio increment for one outcome.
func (t *SPRT) Step(win bool) float64 {
	if win {
		return t.winStep
	}
	return t.lossStep
}

// Decide maps a running log-likelihood ratio to a decision.
func (t *SPRT) Decide(llr float64) Decision {
	switch {
	case llr >= t.upper:
		return DecideEdge
	case llr <= t.lower:
		return DecideNull
	default:
		return DecideContinue
	}
}
