package models

import (
	"github.com/guregu/null/v6"

	"CapitalDash/pkg/util"
)

type MarketSummary struct {
	Market       string     `json:"market"`
	Symbol       string     `json:"symbol"`
	Date         util.Date  `json:"date"`
	IndexValue   float64    `json:"index_value"`
	DayChange    float64    `json:"day_change"`
	DayChangePct float64    `json:"day_change_pct"`
	VIXValue     null.Float `json:"vix_value"`
	VIXChangePct null.Float `json:"vix_change_pct"`
	AdvancersPct null.Float `json:"advancers_pct,omitzero"`
	DeclinersPct null.Float `json:"decliners_pct,omitzero"`
	PriceSource  string     `json:"price_source,omitempty"`
}

type SectorItem struct {
	Name           string     `json:"name"`
	Symbol         string     `json:"symbol"`
	ChangePct      float64    `json:"change_pct"`
	VolumeMillions float64    `json:"volume_millions"`
	PercentOfAvg   null.Float `json:"percent_of_avg"`
}

type SectorSummaryResponse struct {
	Sectors []SectorItem `json:"sectors"`
}

type DrawdownResponse struct {
	Symbol          string       `json:"symbol"`
	Drawdown        []ValuePoint `json:"drawdown"`
	Price           []ValuePoint `json:"price"`
	CurrentDrawdown float64      `json:"current_drawdown"`
	MaxDrawdown     float64      `json:"max_drawdown"`
}

type RelativeToResponse struct {
	Symbol        string       `json:"symbol"`
	Benchmark     string       `json:"benchmark"`
	Ratio         []ValuePoint `json:"ratio"`
	MovingAverage []ValuePoint `json:"moving_average"`
}

type DailyPerformance struct {
	Symbol      string  `json:"symbol"`
	ChangePct   float64 `json:"change_pct"`
	LatestClose float64 `json:"latest_close"`
}

type FearGreedResponse struct {
	Index []ValuePoint `json:"index"`
	SPY   []ValuePoint `json:"spy"`
}

type ForwardPeResponse struct {
	ForwardPE []ValuePoint `json:"forward_pe"`
	SPX       []ValuePoint `json:"spx"`
}

type MarketBreadthResponse struct {
	Benchmark Series   `json:"benchmark"`
	Series    []Series `json:"series"`
}

type SpyRspRatioResponse struct {
	Ratio []ValuePoint `json:"ratio"`
	MAGS  []ValuePoint `json:"mags"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	Ready          bool   `json:"ready"`
	RefresherState string `json:"refresher_state"`
}

// AdvanceDecline is the share of index members up and down on the day.
type AdvanceDecline struct {
	AdvancersPct float64
	DeclinersPct float64
	Tracked      int
}
