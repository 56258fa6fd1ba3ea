package models

import "github.com/guregu/null/v6"

const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// LeveragedETF is one row of the leveraged ETF catalog.
type LeveragedETF struct {
	Ticker     string     `json:"ticker"`
	Name       string     `json:"name"`
	Underlying string     `json:"underlying"`
	Leverage   float64    `json:"leverage"`
	Direction  string     `json:"direction"`
	AUM        null.Float `json:"aum"`
	AvgVolume  null.Float `json:"avg_volume"`
}

// Sign is -1 for inverse funds and +1 otherwise.
func (e LeveragedETF) Sign() float64 {
	if e.Direction == DirectionShort {
		return -1
	}
	return 1
}

// LeveragedETFItem is the projection of one instrument to a target
// underlying price.
type LeveragedETFItem struct {
	Ticker             string     `json:"ticker"`
	Name               string     `json:"name"`
	Direction          string     `json:"direction"`
	Leverage           string     `json:"leverage"`
	CurrentPrice       float64    `json:"current_price"`
	CurrentChangePct   null.Float `json:"current_change_pct"`
	YTDReturn          null.Float `json:"ytd_return"`
	TargetChangePct    float64    `json:"target_change_pct"`
	TargetPrice        float64    `json:"target_price"`
	TargetDayChangePct null.Float `json:"target_day_change_pct,omitzero"`
	PriceSource        string     `json:"price_source,omitempty"`
	AvgVolume          null.Float `json:"avg_volume,omitzero"`
	AUM                null.Float `json:"aum,omitzero"`
}

type LeveragedETFResponse struct {
	Underlying            LeveragedETFItem   `json:"underlying"`
	LeveragedETFs         []LeveragedETFItem `json:"leveraged_etfs"`
	TargetUnderlyingPrice float64            `json:"target_underlying_price"`
}
