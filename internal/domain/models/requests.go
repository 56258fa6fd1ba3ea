package models

// Query requests for the dashboard endpoints.

type OHLCVRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,ticker"`
	Range  string `query:"range" json:"range" default:"1Y" validate:"required"`
}

type SymbolsRangeRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"required"`
	Range   string `query:"range" json:"range" default:"1M" validate:"required"`
}

type SymbolsRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"required"`
}

type DrawdownRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,ticker"`
	Range  string `query:"range" json:"range" default:"1Y" validate:"required"`
}

type RelativeToRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required,ticker"`
	Benchmark string `query:"benchmark" json:"benchmark" validate:"required,ticker"`
	Range     string `query:"range" json:"range" default:"1Y" validate:"required"`
}

type MarketRequest struct {
	Market string `query:"market" json:"market" default:"sp500" validate:"max=16"`
}

type RangeRequest struct {
	Range string `query:"range" json:"range" default:"1Y" validate:"required"`
}

type BreadthRequest struct {
	Symbols   string `query:"symbols" json:"symbols" default:"$NDTW"`
	Range     string `query:"range" json:"range" default:"1M" validate:"required"`
	Benchmark string `query:"benchmark" json:"benchmark" default:"^NDX" validate:"required"`
}

type LeveragedETFRequest struct {
	Underlying string  `query:"underlying" json:"underlying" validate:"required,ticker"`
	Target     float64 `query:"target_price" json:"target_price" validate:"gte=0"`
}

type QuoteStreamRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"required"`
}
