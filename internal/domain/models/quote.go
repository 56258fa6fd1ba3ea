package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// Quote is a point-in-time snapshot of every price field a provider reports
// for one symbol. Any field may be absent.
type Quote struct {
	Symbol              string     `json:"symbol"`
	Regular             null.Float `json:"regular_price"`
	PreMarket           null.Float `json:"pre_market_price"`
	PostMarket          null.Float `json:"post_market_price"`
	Overnight           null.Float `json:"overnight_price"`
	PreviousClose       null.Float `json:"previous_close"`
	ChangePct           null.Float `json:"change_pct"`
	PreMarketChangePct  null.Float `json:"pre_market_change_pct"`
	PostMarketChangePct null.Float `json:"post_market_change_pct"`
	OvernightChangePct  null.Float `json:"overnight_change_pct"`
	Volume              null.Float `json:"volume"`
	AvgVolume           null.Float `json:"avg_volume"`
	MarketTime          time.Time  `json:"market_time"`
}

// SessionQuote is a quote reduced to the price that is authoritative for the
// session active at AsOf.
type SessionQuote struct {
	Symbol        string     `json:"symbol"`
	Session       string     `json:"session"`
	PriceSource   string     `json:"price_source"`
	Price         null.Float `json:"price"`
	Baseline      null.Float `json:"baseline"`
	ChangePct     null.Float `json:"change_pct"`
	PreviousClose null.Float `json:"previous_close"`
	AsOf          time.Time  `json:"as_of"`
}
