package api

import (
	"time"

	models "EdgeLab/internal/domain/models"
)

// Wire shapes for the query API. Domain models stay transport-free; these
// are the only JSON-tagged projections of them.

type hypothesisView struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Predicate  string    `json:"predicate"`
	Feature    string    `json:"feature"`
	Op         string    `json:"op"`
	Threshold  float64   `json:"threshold"`
	Direction  string    `json:"direction"`
	Horizon    int       `json:"horizon"`
	Strategy   string    `json:"strategy"`
	ParentID   string    `json:"parent_id,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	StatusAt   time.Time `json:"status_at"`
	PromotedAt time.Time `json:"promoted_at"`
	N          int64     `json:"n"`
	Wins       int64     `json:"wins"`
	Mean       float64   `json:"mean"`
	StdErr     float64   `json:"std_err"`
	HitRate    float64   `json:"hit_rate"`
	LLR        float64   `json:"llr"`
	Score      float64   `json:"score"`
}

func newHypothesisView(h models.Hypothesis) hypothesisView {
	return hypothesisView{
		ID:         h.ID,
		Symbol:     h.Symbol,
		Predicate:  h.Predicate.String(),
		Feature:    h.Predicate.Feature,
		Op:         string(h.Predicate.Op),
		Threshold:  h.Predicate.Threshold,
		Direction:  h.Prediction.Direction.String(),
		Horizon:    h.Prediction.Horizon,
		Strategy:   h.Strategy,
		ParentID:   h.ParentID,
		Status:     string(h.Status),
		CreatedAt:  h.CreatedAt,
		StatusAt:   h.StatusAt,
		PromotedAt: h.PromotedAt,
		N:          h.Stats.N,
		Wins:       h.Stats.Wins,
		Mean:       h.Stats.Mean,
		StdErr:     h.Stats.StdErr(),
		HitRate:    h.Stats.HitRate(),
		LLR:        h.Stats.LLR,
		Score:      h.Score(),
	}
}

type poolEntryView struct {
	Rank       int            `json:"rank"`
	Score      float64        `json:"score"`
	Hypothesis hypothesisView `json:"hypothesis"`
}

type transitionView struct {
	HypothesisID string    `json:"hypothesis_id"`
	Symbol       string    `json:"symbol"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
	N            int64     `json:"n"`
	Mean         float64   `json:"mean"`
	HitRate      float64   `json:"hit_rate"`
}

func newTransitionView(ev models.TransitionEvent) transitionView {
	return transitionView{
		HypothesisID: ev.HypothesisID,
		Symbol:       ev.Symbol,
		From:         string(ev.From),
		To:           string(ev.To),
		Reason:       ev.Reason,
		At:           ev.At,
		N:            ev.N,
		Mean:         ev.Mean,
		HitRate:      ev.HitRate,
	}
}

type statsView struct {
	FeedConnected      bool           `json:"feed_connected"`
	Observations       int64          `json:"observations"`
	StaleDropped       int64          `json:"stale_dropped"`
	Admitted           int64          `json:"admitted"`
	Suppressed         int64          `json:"suppressed"`
	Duplicates         int64          `json:"duplicates"`
	DroppedEvents      int64          `json:"dropped_events"`
	PendingEvaluations int64          `json:"pending_evaluations"`
	PoolSize           int            `json:"pool_size"`
	PoolCapacity       int            `json:"pool_capacity"`
	ByStatus           map[string]int `json:"by_status"`
}

type barView struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
