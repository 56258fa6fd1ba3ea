package usecase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/service/cache"
	"CapitalDash/internal/services/features"
	xlogger "CapitalDash/pkg/logger"
	"CapitalDash/pkg/util"
)

const directionUnderlying = "underlying"

// formatLeverage renders 2 as "2x" and 1.5 as "1.5x".
func formatLeverage(l float64) string {
	return strconv.FormatFloat(l, 'f', -1, 64) + "x"
}

// roundCents rounds half away from zero to two decimals.
func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// ProjectLeveraged scales an underlying move by the fund's leverage and
// direction. movePct is the underlying's percent move.
func ProjectLeveraged(etf models.LeveragedETF, currentPrice, movePct float64) (targetChangePct, targetPrice float64) {
	targetChangePct = etf.Sign() * etf.Leverage * movePct
	targetPrice = roundCents(currentPrice * (1 + targetChangePct/100))
	return targetChangePct, targetPrice
}

// LeveragedETF projects every fund tracking underlying to the price each
// would trade at if the underlying moved to target. A target of zero or
// less means the current price.
func (s *MarketService) LeveragedETF(ctx context.Context, underlying string, target float64) (models.LeveragedETFResponse, error) {
	underlying = normalizeSymbol(underlying)
	if underlying == "" {
		return models.LeveragedETFResponse{}, fmt.Errorf("%w: empty underlying", domain.ErrInvalidRequest)
	}
	if target < 0 {
		target = 0
	}
	key := responseKey("leveraged", underlying, strconv.FormatFloat(target, 'f', -1, 64))
	return cache.GetOrCompute(ctx, s.caches.Responses, key, s.cfg.RealtimeTTL,
		func(ctx context.Context) (models.LeveragedETFResponse, error) {
			return s.projectLeveraged(ctx, underlying, target)
		})
}

func (s *MarketService) projectLeveraged(ctx context.Context, underlying string, target float64) (models.LeveragedETFResponse, error) {
	etfs := s.catalog.ForUnderlying(underlying)
	symbols := make([]string, 0, len(etfs)+1)
	symbols = append(symbols, underlying)
	for _, e := range etfs {
		symbols = append(symbols, e.Ticker)
	}
	_, resolved := s.quotes(ctx, symbols)
	usq, ok := resolved[underlying]
	if !ok {
		return models.LeveragedETFResponse{}, fmt.Errorf("%w: no usable price for %s", domain.ErrUpstreamUnavailable, underlying)
	}
	price := usq.Price.Float64
	if target <= 0 {
		target = price
	}
	move := (target - price) / price * 100

	ytd := s.ytdReturns(ctx, symbols, resolved)

	resp := models.LeveragedETFResponse{
		TargetUnderlyingPrice: target,
		LeveragedETFs:         make([]models.LeveragedETFItem, 0, len(etfs)),
		Underlying: models.LeveragedETFItem{
			Ticker:             underlying,
			Name:               underlying + " (Underlying)",
			Direction:          directionUnderlying,
			Leverage:           formatLeverage(1),
			CurrentPrice:       price,
			CurrentChangePct:   usq.ChangePct,
			YTDReturn:          ytd[underlying],
			TargetChangePct:    move,
			TargetPrice:        roundCents(target),
			TargetDayChangePct: impliedDayChange(usq.ChangePct, move),
			PriceSource:        usq.PriceSource,
		},
	}
	for _, e := range etfs {
		sq, ok := resolved[e.Ticker]
		if !ok {
			s.logger.Debug("skipping fund without a usable price", xlogger.String("ticker", e.Ticker))
			continue
		}
		changePct, targetPrice := ProjectLeveraged(e, sq.Price.Float64, move)
		resp.LeveragedETFs = append(resp.LeveragedETFs, models.LeveragedETFItem{
			Ticker:             e.Ticker,
			Name:               e.Name,
			Direction:          e.Direction,
			Leverage:           formatLeverage(e.Leverage),
			CurrentPrice:       sq.Price.Float64,
			CurrentChangePct:   sq.ChangePct,
			YTDReturn:          ytd[e.Ticker],
			TargetChangePct:    changePct,
			TargetPrice:        targetPrice,
			TargetDayChangePct: impliedDayChange(sq.ChangePct, changePct),
			PriceSource:        sq.PriceSource,
			AvgVolume:          e.AvgVolume,
			AUM:                e.AUM,
		})
	}
	return resp, nil
}

func impliedDayChange(current null.Float, move float64) null.Float {
	if !current.Valid {
		return null.Float{}
	}
	return null.FloatFrom(current.Float64 + move)
}

// ytdReturns measures each resolved price against the last close of the
// previous calendar year. Missing baselines stay null.
func (s *MarketService) ytdReturns(ctx context.Context, symbols []string, resolved map[string]models.SessionQuote) map[string]null.Float {
	year := s.today().Year()
	baselines := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if _, ok := resolved[sym]; !ok {
			continue
		}
		base, err := s.yearEndClose(ctx, sym, year-1)
		if err != nil {
			s.logger.Debug("ytd baseline unavailable", xlogger.String("symbol", sym), xlogger.Error(err))
			continue
		}
		if base > 0 {
			baselines[sym] = base
		}
	}
	out := make(map[string]null.Float, len(baselines))
	for sym, base := range baselines {
		out[sym] = null.FloatFrom((resolved[sym].Price.Float64/base - 1) * 100)
	}
	return out
}

// yearEndClose fetches the last December fortnight of year and keeps the
// final close. The result is cached with the series tier.
func (s *MarketService) yearEndClose(ctx context.Context, symbol string, year int) (float64, error) {
	key := fmt.Sprintf("year-end:%s:%d", symbol, year)
	return cache.GetOrCompute(ctx, s.caches.Series, key, s.cfg.SeriesTTL,
		func(ctx context.Context) (float64, error) {
			dec31 := util.NewDate(year, 12, 31)
			bars, err := s.src.Series.FetchSeries(ctx, symbol, dec31.AddDays(-14), dec31)
			if err != nil {
				return 0, err
			}
			c, ok := features.CloseOnOrBefore(bars, dec31)
			if !ok {
				return 0, fmt.Errorf("%w: %s year end %d", domain.ErrNoData, symbol, year)
			}
			return c, nil
		})
}
