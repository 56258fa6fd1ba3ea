package usecase

import (
	"context"
	"fmt"
	"strings"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/service/cache"
	"CapitalDash/internal/service/series"
	"CapitalDash/internal/services/features"
)

// relativeTrendWindow is the moving average length on the relative-to ratio.
const relativeTrendWindow = 50

func (s *MarketService) OHLCV(ctx context.Context, symbol, rangeKey string) (models.SeriesPayload, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return models.SeriesPayload{}, fmt.Errorf("%w: empty symbol", domain.ErrInvalidRequest)
	}
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.SeriesPayload{}, err
	}
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("ohlcv", symbol, r), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.SeriesPayload, error) {
			bars, err := s.window(ctx, symbol, r)
			if err != nil {
				return models.SeriesPayload{}, err
			}
			return models.SeriesPayload{Symbol: symbol, Points: nonNilBars(bars)}, nil
		})
}

// RelativePerformance rebases every symbol to percent change from its first
// valid close and puts all of them on one union axis.
func (s *MarketService) RelativePerformance(ctx context.Context, symbols []string, rangeKey string) ([]models.Series, error) {
	symbols, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	r, err := parseRange(rangeKey)
	if err != nil {
		return nil, err
	}
	key := responseKey("relative", strings.Join(symbols, ","), r)
	return cache.GetOrCompute(ctx, s.caches.Responses, key, s.cfg.ResponseTTL,
		func(ctx context.Context) ([]models.Series, error) {
			bars, errs := s.windows(ctx, symbols, r)
			out := make([]models.Series, 0, len(symbols))
			for _, sym := range symbols {
				b, ok := bars[sym]
				if !ok || len(b) == 0 {
					continue
				}
				closes := series.FromBars(b, models.FieldClose)
				out = append(out, models.Series{
					Symbol: sym,
					Points: series.ToRelative(closes, series.FirstValidIndex(closes)),
				})
			}
			if len(out) == 0 && len(errs) > 0 {
				return nil, fmt.Errorf("relative performance: %w", firstError(symbols, errs))
			}
			out = series.Align(out, series.Union)
			if series.ShouldDownsample(r.Days()) {
				for i := range out {
					out[i].Points = series.Weekly(out[i].Points)
				}
			}
			return out, nil
		})
}

// DailyPerformance reports the latest close against the one before it.
func (s *MarketService) DailyPerformance(ctx context.Context, symbols []string) ([]models.DailyPerformance, error) {
	symbols, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	key := responseKey("daily", strings.Join(symbols, ","))
	return cache.GetOrCompute(ctx, s.caches.Responses, key, s.cfg.ResponseTTL,
		func(ctx context.Context) ([]models.DailyPerformance, error) {
			bars, errs := s.windows(ctx, symbols, models.Range1M)
			out := make([]models.DailyPerformance, 0, len(symbols))
			for _, sym := range symbols {
				last, _, pct, ok := features.DayChange(bars[sym])
				if !ok {
					continue
				}
				out = append(out, models.DailyPerformance{Symbol: sym, ChangePct: pct, LatestClose: last})
			}
			if len(out) == 0 && len(errs) > 0 {
				return nil, fmt.Errorf("daily performance: %w", firstError(symbols, errs))
			}
			return out, nil
		})
}

// Drawdown measures the decline from the running peak. Current and max are
// taken from the daily series before any downsampling.
func (s *MarketService) Drawdown(ctx context.Context, symbol, rangeKey string) (models.DrawdownResponse, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return models.DrawdownResponse{}, fmt.Errorf("%w: empty symbol", domain.ErrInvalidRequest)
	}
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.DrawdownResponse{}, err
	}
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("drawdown", symbol, r), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.DrawdownResponse, error) {
			bars, err := s.window(ctx, symbol, r)
			if err != nil {
				return models.DrawdownResponse{}, err
			}
			price := series.DropNull(series.FromBars(bars, models.FieldClose))
			dd := series.Drawdown(price)
			resp := models.DrawdownResponse{
				Symbol:          symbol,
				Drawdown:        dd.Points,
				Price:           price,
				CurrentDrawdown: dd.Current,
				MaxDrawdown:     dd.Max,
			}
			if series.ShouldDownsample(r.Days()) {
				resp.Drawdown = series.Weekly(resp.Drawdown)
				resp.Price = series.Weekly(resp.Price)
			}
			return resp, nil
		})
}

// RelativeTo divides symbol by benchmark on their shared dates, rebases the
// ratio to 100 and adds its moving average.
func (s *MarketService) RelativeTo(ctx context.Context, symbol, benchmark, rangeKey string) (models.RelativeToResponse, error) {
	symbol, benchmark = normalizeSymbol(symbol), normalizeSymbol(benchmark)
	if symbol == "" || benchmark == "" {
		return models.RelativeToResponse{}, fmt.Errorf("%w: symbol and benchmark are required", domain.ErrInvalidRequest)
	}
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.RelativeToResponse{}, err
	}
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("relative-to", symbol, benchmark, r), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.RelativeToResponse, error) {
			pair := []string{symbol, benchmark}
			bars, errs := s.windows(ctx, pair, r)
			if err := firstError(pair, errs); err != nil {
				return models.RelativeToResponse{}, fmt.Errorf("relative to %s: %w", benchmark, err)
			}
			aligned := series.Align([]models.Series{
				{Symbol: symbol, Points: series.DropNull(series.FromBars(bars[symbol], models.FieldClose))},
				{Symbol: benchmark, Points: series.DropNull(series.FromBars(bars[benchmark], models.FieldClose))},
			}, series.Intersect)
			ratio, err := series.ToRatio(aligned[0].Points, aligned[1].Points, 1)
			if err != nil {
				return models.RelativeToResponse{}, err
			}
			rebased := series.Rebase(ratio, 100)
			return models.RelativeToResponse{
				Symbol:        symbol,
				Benchmark:     benchmark,
				Ratio:         rebased,
				MovingAverage: series.MovingAverage(rebased, relativeTrendWindow),
			}, nil
		})
}
