package models

// Requests for the query API. Defined in domain for consistency and reuse.

type PoolRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type HypothesesRequest struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=CANDIDATE TESTING VALIDATED ACTIVE REJECTED RETIRED"`
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,max=32"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type HypothesisByIDRequest struct {
	ID string `param:"id" json:"id" validate:"required,uuid4"`
}

type TransitionsRequest struct {
	ID    string `param:"id" json:"id" validate:"required,uuid4"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// BarsRequest accepts from/to as RFC3339 or unix timestamps.
type BarsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=32"`
	From   string `query:"from" json:"from" validate:"omitempty,max=64"`
	To     string `query:"to" json:"to" validate:"omitempty,max=64"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}
