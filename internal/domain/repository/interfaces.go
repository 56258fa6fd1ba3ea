package repository

import (
	"context"

	"CapitalDash/internal/domain/models"
	"CapitalDash/pkg/util"
)

// SeriesSource returns daily bars in [start, end]. An empty slice with a nil
// error means the provider had no data for the window.
type SeriesSource interface {
	FetchSeries(ctx context.Context, symbol string, start, end util.Date) ([]models.Bar, error)
}

// QuoteSource returns the current price fields for one symbol.
type QuoteSource interface {
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
}

type SentimentSource interface {
	FetchFearGreed(ctx context.Context) ([]models.ValuePoint, error)
}

type ValuationSource interface {
	FetchForwardPE(ctx context.Context) ([]models.ValuePoint, error)
}

// BreadthSource serves Barchart-style "$" breadth indices.
type BreadthSource interface {
	FetchBreadth(ctx context.Context, symbol string, start, end util.Date) ([]models.ValuePoint, error)
}

type ConstituentsSource interface {
	FetchAdvanceDecline(ctx context.Context, market string) (models.AdvanceDecline, error)
}

type ETFCatalogSource interface {
	FetchCatalog(ctx context.Context) ([]models.LeveragedETF, error)
}

// HistoryStore persists daily bars per symbol.
type HistoryStore interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, symbol string, bars []models.Bar) error
	Range(ctx context.Context, symbol string, start, end util.Date) ([]models.Bar, error)
	// Coverage returns the first and last stored dates, ok=false when empty.
	Coverage(ctx context.Context, symbol string) (first, last util.Date, ok bool, err error)
	Health(ctx context.Context) error
	Close() error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
	Close() error
}

type Metrics interface {
	RecordUpstream(provider, outcome string, seconds float64)
	RecordCache(result string)
	RecordRefresh(outcome string, seconds float64)
	RecordRefreshSymbol(symbol string, ok bool)
	RecordLastPrice(symbol string, price float64)
}
