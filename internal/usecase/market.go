package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/guregu/null/v6"
	"golang.org/x/sync/errgroup"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/service/cache"
	"CapitalDash/internal/service/series"
	"CapitalDash/internal/services/features"
	xlogger "CapitalDash/pkg/logger"
)

const (
	MarketSP500  = "sp500"
	MarketNasdaq = "nasdaq"

	vixSymbol    = "^VIX"
	spxSymbol    = "^GSPC"
	spySymbol    = "SPY"
	rspSymbol    = "RSP"
	magsSymbol   = "MAGS"
	summaryRange = models.Range1M
)

// indexCandidates are tried in order until one yields two closes.
var indexCandidates = map[string][]string{
	MarketSP500:  {"^GSPC", "SPY"},
	MarketNasdaq: {"^NDX", "QQQ"},
}

// Sector is one of the sector ETFs on the dashboard.
type Sector struct {
	Symbol string
	Name   string
}

var sectors = []Sector{
	{"XLC", "Comm Services"},
	{"XLY", "Consumer Disc"},
	{"XLP", "Consumer Staples"},
	{"XLE", "Energy"},
	{"XLF", "Financials"},
	{"XLV", "Health Care"},
	{"XLI", "Industrials"},
	{"XLB", "Materials"},
	{"VNQ", "Real Estate"},
	{"XLK", "Technology"},
	{"XLU", "Utilities"},
}

// Sectors returns the sector ETFs in display order.
func Sectors() []Sector {
	out := make([]Sector, len(sectors))
	copy(out, sectors)
	return out
}

// SectorSymbols returns the tickers of Sectors.
func SectorSymbols() []string {
	out := make([]string, len(sectors))
	for i, s := range sectors {
		out[i] = s.Symbol
	}
	return out
}

func candidatesFor(market string) ([]string, error) {
	c, ok := indexCandidates[strings.ToLower(strings.TrimSpace(market))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown market %q", domain.ErrInvalidRequest, market)
	}
	return c, nil
}

func lastValidBar(bars []models.Bar) (models.Bar, bool) {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Close.Valid {
			return bars[i], true
		}
	}
	return models.Bar{}, false
}

// MarketSummary reports the index change over the last two daily closes
// together with VIX and breadth. VIX and breadth failures leave their
// fields null.
func (s *MarketService) MarketSummary(ctx context.Context, market string) (models.MarketSummary, error) {
	candidates, err := candidatesFor(market)
	if err != nil {
		return models.MarketSummary{}, err
	}
	market = strings.ToLower(strings.TrimSpace(market))
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("summary", market), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.MarketSummary, error) {
			out := models.MarketSummary{Market: strings.ToUpper(market)}
			var (
				indexErr error
				g        errgroup.Group
			)
			g.Go(func() error {
				for _, sym := range candidates {
					bars, err := s.window(ctx, sym, summaryRange)
					if err != nil {
						indexErr = err
						continue
					}
					last, change, pct, ok := features.DayChange(bars)
					if !ok {
						continue
					}
					b, _ := lastValidBar(bars)
					out.Symbol, out.Date = sym, b.Time
					out.IndexValue, out.DayChange, out.DayChangePct = last, change, pct
					return nil
				}
				if indexErr == nil {
					indexErr = fmt.Errorf("no closes for %s", strings.Join(candidates, ", "))
				}
				return fmt.Errorf("%w: %s index: %w", domain.ErrUpstreamUnavailable, market, indexErr)
			})
			g.Go(func() error {
				bars, err := s.window(ctx, vixSymbol, summaryRange)
				if err != nil {
					s.logger.Warn("vix unavailable", xlogger.Error(err))
					return nil
				}
				if last, _, pct, ok := features.DayChange(bars); ok {
					out.VIXValue, out.VIXChangePct = null.FloatFrom(last), null.FloatFrom(pct)
				}
				return nil
			})
			g.Go(func() error {
				s.fillAdvanceDecline(ctx, market, &out)
				return nil
			})
			if err := g.Wait(); err != nil {
				return models.MarketSummary{}, err
			}
			return out, nil
		})
}

func (s *MarketService) fillAdvanceDecline(ctx context.Context, market string, out *models.MarketSummary) {
	if s.src.Constituents == nil {
		return
	}
	ad, err := s.src.Constituents.FetchAdvanceDecline(ctx, market)
	if err != nil {
		s.logger.Warn("advance/decline unavailable", xlogger.String("market", market), xlogger.Error(err))
		return
	}
	out.AdvancersPct = null.FloatFrom(ad.AdvancersPct)
	out.DeclinersPct = null.FloatFrom(ad.DeclinersPct)
}

// dayChangeFromQuote measures the session price against the previous close,
// falling back to the session baseline.
func dayChangeFromQuote(sq models.SessionQuote) (change, pct null.Float) {
	base := sq.PreviousClose
	if !base.Valid || base.Float64 <= 0 {
		base = sq.Baseline
	}
	if !sq.Price.Valid || !base.Valid || base.Float64 <= 0 {
		return null.Float{}, null.Float{}
	}
	diff := sq.Price.Float64 - base.Float64
	return null.FloatFrom(diff), null.FloatFrom(diff / base.Float64 * 100)
}

// RealtimeMarketSummary is MarketSummary from live quotes, priced by the
// active trading session. An index quote without a change baseline is
// passed over for the next candidate.
func (s *MarketService) RealtimeMarketSummary(ctx context.Context, market string) (models.MarketSummary, error) {
	candidates, err := candidatesFor(market)
	if err != nil {
		return models.MarketSummary{}, err
	}
	market = strings.ToLower(strings.TrimSpace(market))
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("realtime-summary", market), s.cfg.RealtimeTTL,
		func(ctx context.Context) (models.MarketSummary, error) {
			symbols := append(append([]string{}, candidates...), vixSymbol)
			var wg sync.WaitGroup
			var resolved map[string]models.SessionQuote
			out := models.MarketSummary{Market: strings.ToUpper(market), Date: s.today()}
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, resolved = s.quotes(ctx, symbols)
			}()
			go func() {
				defer wg.Done()
				s.fillAdvanceDecline(ctx, market, &out)
			}()
			wg.Wait()

			found := false
			for _, sym := range candidates {
				sq, ok := resolved[sym]
				if !ok {
					continue
				}
				change, pct := dayChangeFromQuote(sq)
				if !change.Valid {
					s.logger.Warn("index quote has no baseline", xlogger.String("symbol", sym))
					continue
				}
				out.Symbol = sym
				out.IndexValue = sq.Price.Float64
				out.DayChange, out.DayChangePct = change.Float64, pct.Float64
				out.PriceSource = sq.PriceSource
				found = true
				break
			}
			if !found {
				return models.MarketSummary{}, fmt.Errorf("%w: no priced quote for %s", domain.ErrUpstreamUnavailable, strings.Join(candidates, ", "))
			}
			if vix, ok := resolved[vixSymbol]; ok {
				_, pct := dayChangeFromQuote(vix)
				out.VIXValue, out.VIXChangePct = vix.Price, pct
			}
			return out, nil
		})
}

// SectorSummary reports each sector ETF's last daily change and volume
// against its trailing average.
func (s *MarketService) SectorSummary(ctx context.Context) (models.SectorSummaryResponse, error) {
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("sectors"), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.SectorSummaryResponse, error) {
			symbols := SectorSymbols()
			bars, errs := s.windows(ctx, symbols, models.Range6M)
			out := models.SectorSummaryResponse{Sectors: make([]models.SectorItem, 0, len(sectors))}
			for _, sec := range sectors {
				b := bars[sec.Symbol]
				_, _, pct, ok := features.DayChange(b)
				if !ok {
					continue
				}
				millions, ofAvg := features.VolumeStats(b, features.AvgVolumeWindow)
				out.Sectors = append(out.Sectors, models.SectorItem{
					Name:           sec.Name,
					Symbol:         sec.Symbol,
					ChangePct:      pct,
					VolumeMillions: millions.ValueOrZero(),
					PercentOfAvg:   ofAvg,
				})
			}
			if len(out.Sectors) == 0 && len(errs) > 0 {
				return models.SectorSummaryResponse{}, fmt.Errorf("sector summary: %w", firstError(symbols, errs))
			}
			return out, nil
		})
}

// RealtimeSectorSummary is SectorSummary from live quotes.
func (s *MarketService) RealtimeSectorSummary(ctx context.Context) (models.SectorSummaryResponse, error) {
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("realtime-sectors"), s.cfg.RealtimeTTL,
		func(ctx context.Context) (models.SectorSummaryResponse, error) {
			raw, resolved := s.quotes(ctx, SectorSymbols())
			out := models.SectorSummaryResponse{Sectors: make([]models.SectorItem, 0, len(sectors))}
			for _, sec := range sectors {
				sq, ok := resolved[sec.Symbol]
				if !ok {
					continue
				}
				_, pct := dayChangeFromQuote(sq)
				q := raw[sec.Symbol]
				item := models.SectorItem{
					Name:      sec.Name,
					Symbol:    sec.Symbol,
					ChangePct: pct.ValueOrZero(),
				}
				if q.Volume.Valid {
					item.VolumeMillions = q.Volume.Float64 / 1e6
					if q.AvgVolume.Valid && q.AvgVolume.Float64 > 0 {
						item.PercentOfAvg = null.FloatFrom(q.Volume.Float64 / q.AvgVolume.Float64 * 100)
					}
				}
				out.Sectors = append(out.Sectors, item)
			}
			if len(out.Sectors) == 0 {
				return models.SectorSummaryResponse{}, fmt.Errorf("%w: no sector quotes", domain.ErrUpstreamUnavailable)
			}
			return out, nil
		})
}

// Breadth puts Barchart breadth series, each as percent change from its
// first valid value, and the raw benchmark close on one axis.
// A breadth symbol that fails is left out; all of them failing is an error.
func (s *MarketService) Breadth(ctx context.Context, symbols []string, rangeKey, benchmark string) (models.MarketBreadthResponse, error) {
	symbols, err := normalizeSymbols(symbols)
	if err != nil {
		return models.MarketBreadthResponse{}, err
	}
	benchmark = normalizeSymbol(benchmark)
	if benchmark == "" {
		return models.MarketBreadthResponse{}, fmt.Errorf("%w: empty benchmark", domain.ErrInvalidRequest)
	}
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.MarketBreadthResponse{}, err
	}
	key := responseKey("breadth", strings.Join(symbols, ","), r, benchmark)
	return cache.GetOrCompute(ctx, s.caches.Responses, key, s.cfg.ResponseTTL,
		func(ctx context.Context) (models.MarketBreadthResponse, error) {
			end := s.today()
			start := end.AddDays(-r.Days())
			var (
				mu       sync.Mutex
				got      = make(map[string][]models.ValuePoint, len(symbols))
				firstErr error
				bench    []models.Bar
				benchErr error
			)
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(s.cfg.MaxConcurrency)
			for _, sym := range symbols {
				g.Go(func() error {
					pts, err := s.src.Breadth.FetchBreadth(gctx, sym, start, end)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						s.logger.Warn("breadth series unavailable", xlogger.String("symbol", sym), xlogger.Error(err))
						if firstErr == nil {
							firstErr = err
						}
						return nil
					}
					got[sym] = pts
					return nil
				})
			}
			g.Go(func() error {
				bench, benchErr = s.window(gctx, benchmark, r)
				return nil
			})
			_ = g.Wait()

			in := []models.Series{{Symbol: benchmark}}
			if benchErr != nil {
				s.logger.Warn("breadth benchmark unavailable", xlogger.String("symbol", benchmark), xlogger.Error(benchErr))
			} else {
				in[0].Points = series.DropNull(series.FromBars(bench, models.FieldClose))
			}
			for _, sym := range symbols {
				if pts, ok := got[sym]; ok {
					rel := series.ToRelative(pts, series.FirstValidIndex(pts))
					in = append(in, models.Series{Symbol: sym, Points: rel})
				}
			}
			if len(in) == 1 {
				if firstErr == nil {
					firstErr = fmt.Errorf("%w: no breadth data", domain.ErrUpstreamUnavailable)
				}
				return models.MarketBreadthResponse{}, fmt.Errorf("breadth: %w", firstErr)
			}
			aligned := series.Align(in, series.Union)
			if series.ShouldDownsample(r.Days()) {
				for i := range aligned {
					aligned[i].Points = series.Weekly(aligned[i].Points)
				}
			}
			return models.MarketBreadthResponse{Benchmark: aligned[0], Series: aligned[1:]}, nil
		})
}

// ForwardPE carries the latest forward P/E reading onto each S&P 500
// trading day of the window.
func (s *MarketService) ForwardPE(ctx context.Context, rangeKey string) (models.ForwardPeResponse, error) {
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.ForwardPeResponse{}, err
	}
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("forward-pe", r), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.ForwardPeResponse, error) {
			var (
				pe  []models.ValuePoint
				spx []models.Bar
			)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				pe, err = s.src.Valuation.FetchForwardPE(gctx)
				return err
			})
			g.Go(func() (err error) {
				spx, err = s.window(gctx, spxSymbol, r)
				return err
			})
			if err := g.Wait(); err != nil {
				return models.ForwardPeResponse{}, fmt.Errorf("forward pe: %w", err)
			}
			closes := series.DropNull(series.FromBars(spx, models.FieldClose))
			filled := series.ForwardFill(series.Dates(closes), pe)
			if series.ShouldDownsample(r.Days()) {
				filled, closes = series.Weekly(filled), series.Weekly(closes)
			}
			return models.ForwardPeResponse{ForwardPE: filled, SPX: closes}, nil
		})
}

// FearGreed pairs the CNN index with SPY closes on a union axis.
func (s *MarketService) FearGreed(ctx context.Context, rangeKey string) (models.FearGreedResponse, error) {
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.FearGreedResponse{}, err
	}
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("fear-greed", r), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.FearGreedResponse, error) {
			var (
				index []models.ValuePoint
				spy   []models.Bar
			)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				index, err = s.src.Sentiment.FetchFearGreed(gctx)
				return err
			})
			g.Go(func() (err error) {
				spy, err = s.window(gctx, spySymbol, r)
				return err
			})
			if err := g.Wait(); err != nil {
				return models.FearGreedResponse{}, fmt.Errorf("fear and greed: %w", err)
			}
			end := s.today()
			index = series.Since(index, end.AddDays(-r.Days()))
			aligned := series.Align([]models.Series{
				{Symbol: "fear_greed", Points: index},
				{Symbol: spySymbol, Points: series.DropNull(series.FromBars(spy, models.FieldClose))},
			}, series.Union)
			return models.FearGreedResponse{Index: aligned[0].Points, SPY: aligned[1].Points}, nil
		})
}

// SpyRspRatio is the cap-weighted over equal-weighted S&P 500 ratio on
// shared dates, with the MAGS closes alongside.
func (s *MarketService) SpyRspRatio(ctx context.Context, rangeKey string) (models.SpyRspRatioResponse, error) {
	r, err := parseRange(rangeKey)
	if err != nil {
		return models.SpyRspRatioResponse{}, err
	}
	return cache.GetOrCompute(ctx, s.caches.Responses, responseKey("spy-rsp", r), s.cfg.ResponseTTL,
		func(ctx context.Context) (models.SpyRspRatioResponse, error) {
			bars, errs := s.windows(ctx, []string{spySymbol, rspSymbol, magsSymbol}, r)
			if err := firstError([]string{spySymbol, rspSymbol}, errs); err != nil {
				return models.SpyRspRatioResponse{}, fmt.Errorf("spy/rsp ratio: %w", err)
			}
			aligned := series.Align([]models.Series{
				{Symbol: spySymbol, Points: series.DropNull(series.FromBars(bars[spySymbol], models.FieldClose))},
				{Symbol: rspSymbol, Points: series.DropNull(series.FromBars(bars[rspSymbol], models.FieldClose))},
			}, series.Intersect)
			ratio, err := series.ToRatio(aligned[0].Points, aligned[1].Points, 1)
			if err != nil {
				return models.SpyRspRatioResponse{}, err
			}
			mags := series.DropNull(series.FromBars(bars[magsSymbol], models.FieldClose))
			return models.SpyRspRatioResponse{Ratio: ratio, MAGS: mags}, nil
		})
}
