package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	"CapitalDash/internal/service/cache"
	"CapitalDash/internal/service/series"
	"CapitalDash/internal/service/session"
	"CapitalDash/internal/services/features"
	pkgcache "CapitalDash/pkg/cache"
	xlogger "CapitalDash/pkg/logger"
	"CapitalDash/pkg/util"
)

const (
	// coverageSlackDays tolerates a stored history starting a little after the
	// requested start (weekends, holidays, listing date rounding).
	coverageSlackDays = 7
	// overlapDays is re-fetched before the last stored bar so late revisions land.
	overlapDays = 5
)

// Sources groups the upstream providers the service reads from.
type Sources struct {
	Series       repository.SeriesSource
	Quotes       repository.QuoteSource
	Sentiment    repository.SentimentSource
	Valuation    repository.ValuationSource
	Breadth      repository.BreadthSource
	Constituents repository.ConstituentsSource
}

type ServiceConfig struct {
	ResponseTTL    time.Duration
	RealtimeTTL    time.Duration
	SeriesTTL      time.Duration
	QuoteTTL       time.Duration
	HistoryDays    int
	MaxConcurrency int
	// Instance tags published events.
	Instance string
}

func (c *ServiceConfig) applyDefaults() {
	if c.ResponseTTL <= 0 {
		c.ResponseTTL = 60 * time.Second
	}
	if c.RealtimeTTL <= 0 {
		c.RealtimeTTL = 5 * time.Minute
	}
	if c.SeriesTTL <= 0 {
		c.SeriesTTL = 12 * time.Hour
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 15 * time.Second
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 1826
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 6
	}
}

// MarketService fetches through the caches and shapes every dashboard response.
type MarketService struct {
	src       Sources
	store     repository.HistoryStore
	caches    *cache.Caches
	catalog   *ETFCatalog
	publisher repository.EventPublisher
	metrics   repository.Metrics
	logger    *xlogger.Logger
	cfg       ServiceConfig
	now       func() time.Time
}

type ServiceOption func(*MarketService)

// WithNow replaces the wall clock used for session classification and windows.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *MarketService) { s.now = now }
}

func WithPublisher(p repository.EventPublisher) ServiceOption {
	return func(s *MarketService) { s.publisher = p }
}

func WithServiceMetrics(m repository.Metrics) ServiceOption {
	return func(s *MarketService) { s.metrics = m }
}

func NewMarketService(src Sources, store repository.HistoryStore, caches *cache.Caches, catalog *ETFCatalog,
	cfg ServiceConfig, logger *xlogger.Logger, opts ...ServiceOption) *MarketService {
	cfg.applyDefaults()
	if logger == nil {
		logger = xlogger.NewNop()
	}
	s := &MarketService{
		src:     src,
		store:   store,
		caches:  caches,
		catalog: catalog,
		logger:  logger.With(xlogger.String("component", "market_service")),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MarketService) Catalog() *ETFCatalog { return s.catalog }

func (s *MarketService) today() util.Date {
	return util.DateIn(s.now(), session.Location())
}

func parseRange(key string) (models.TimeRange, error) {
	r, ok := models.ParseTimeRange(key)
	if !ok {
		return "", fmt.Errorf("%w: unknown range %q", domain.ErrInvalidRequest, key)
	}
	return r, nil
}

func normalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

func normalizeSymbols(symbols []string) ([]string, error) {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = normalizeSymbol(sym)
		if sym == "" || slices.Contains(out, sym) {
			continue
		}
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty symbol list", domain.ErrInvalidRequest)
	}
	return out, nil
}

func responseKey(op string, params ...interface{}) string {
	return pkgcache.Key(op, params...)
}

func seriesKey(symbol string) string { return "series:" + symbol }

// TimeRanges lists the supported chart windows.
func (s *MarketService) TimeRanges() []models.TimeRangeInfo {
	ranges := models.TimeRanges()
	out := make([]models.TimeRangeInfo, len(ranges))
	for i, r := range ranges {
		out[i] = models.TimeRangeInfo{Key: r, Days: r.Days()}
	}
	return out
}

// History returns the full daily history of symbol through the series cache.
func (s *MarketService) History(ctx context.Context, symbol string) ([]models.Bar, error) {
	symbol = normalizeSymbol(symbol)
	return cache.GetOrCompute(ctx, s.caches.Series, seriesKey(symbol), s.cfg.SeriesTTL,
		func(ctx context.Context) ([]models.Bar, error) {
			return s.loadHistory(ctx, symbol, false)
		})
}

// RefreshHistory pulls the latest bars for symbol past the cache and primes
// the series tier. Stored rows are not accepted in place of a fetch.
func (s *MarketService) RefreshHistory(ctx context.Context, symbol string) error {
	symbol = normalizeSymbol(symbol)
	bars, err := s.loadHistory(ctx, symbol, true)
	if err != nil {
		return err
	}
	s.caches.Series.Set(seriesKey(symbol), bars, s.cfg.SeriesTTL)
	if last, _, _, ok := features.DayChange(bars); ok && s.metrics != nil {
		s.metrics.RecordLastPrice(symbol, last)
	}
	return nil
}

// loadHistory reads the store first and only calls the upstream for the
// part of the window the store does not cover.
func (s *MarketService) loadHistory(ctx context.Context, symbol string, force bool) ([]models.Bar, error) {
	end := s.today()
	start := end.AddDays(-s.cfg.HistoryDays)
	log := s.logger.With(xlogger.String("symbol", symbol))

	first, last, stored, err := s.store.Coverage(ctx, symbol)
	if err != nil {
		log.Warn("history coverage lookup failed", xlogger.Error(err))
		stored = false
	}
	covered := stored && first.DaysSince(start) <= coverageSlackDays
	if covered && !force && !last.Before(expectedLastSession(end)) {
		bars, err := s.store.Range(ctx, symbol, start, end)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err != nil {
			log.Warn("history range read failed", xlogger.Error(err))
		}
	}

	from := start
	if covered {
		from = last.AddDays(-overlapDays)
	}
	fetched, ferr := s.src.Series.FetchSeries(ctx, symbol, from, end)
	if errors.Is(ferr, domain.ErrNoData) {
		fetched, ferr = nil, nil
	}
	if ferr != nil {
		if !force && stored {
			if bars, err := s.store.Range(ctx, symbol, start, end); err == nil && len(bars) > 0 {
				log.Warn("upstream failed, serving stored history", xlogger.Error(ferr))
				return bars, nil
			}
		}
		return nil, ferr
	}
	if len(fetched) > 0 {
		if err := s.store.Upsert(ctx, symbol, fetched); err != nil {
			log.Warn("history upsert failed", xlogger.Error(err))
		}
	}

	var kept []models.Bar
	if stored {
		if kept, err = s.store.Range(ctx, symbol, start, end); err != nil {
			log.Warn("history range read failed", xlogger.Error(err))
		}
	}
	return mergeBars(kept, fetched), nil
}

// expectedLastSession is the latest weekday strictly before end; the bar for
// end itself only exists after the close.
func expectedLastSession(end util.Date) util.Date {
	d := end.AddDays(-1)
	for {
		switch d.Time().Weekday() {
		case time.Saturday, time.Sunday:
			d = d.AddDays(-1)
		default:
			return d
		}
	}
}

// mergeBars unions two sorted bar slices by date; b wins on equal dates.
func mergeBars(a, b []models.Bar) []models.Bar {
	if len(a) == 0 {
		return nonNilBars(b)
	}
	if len(b) == 0 {
		return a
	}
	byDate := make(map[util.Date]models.Bar, len(a)+len(b))
	for _, bar := range a {
		byDate[bar.Time] = bar
	}
	for _, bar := range b {
		byDate[bar.Time] = bar
	}
	out := make([]models.Bar, 0, len(byDate))
	for _, bar := range byDate {
		out = append(out, bar)
	}
	slices.SortFunc(out, func(x, y models.Bar) int { return x.Time.Compare(y.Time) })
	return out
}

func nonNilBars(b []models.Bar) []models.Bar {
	if b == nil {
		return []models.Bar{}
	}
	return b
}

// window slices the cached history to the lookback of r.
func (s *MarketService) window(ctx context.Context, symbol string, r models.TimeRange) ([]models.Bar, error) {
	bars, err := s.History(ctx, symbol)
	if err != nil {
		return nil, err
	}
	end := s.today()
	return series.BarsBetween(bars, end.AddDays(-r.Days()), end), nil
}

// windows loads several symbols concurrently. Failures are returned per
// symbol and never cancel the siblings.
func (s *MarketService) windows(ctx context.Context, symbols []string, r models.TimeRange) (map[string][]models.Bar, map[string]error) {
	var (
		mu   sync.Mutex
		bars = make(map[string][]models.Bar, len(symbols))
		errs = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			b, err := s.window(gctx, sym, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[sym] = err
				return nil
			}
			bars[sym] = b
			return nil
		})
	}
	_ = g.Wait()
	for sym, err := range errs {
		s.logger.Warn("symbol history unavailable", xlogger.String("symbol", sym), xlogger.Error(err))
	}
	return bars, errs
}

// quotes resolves session prices for symbols concurrently. Raw quotes are
// cached for QuoteTTL. Symbols without a quote or a usable price are missing
// from the result.
func (s *MarketService) quotes(ctx context.Context, symbols []string) (map[string]models.Quote, map[string]models.SessionQuote) {
	var (
		mu       sync.Mutex
		raw      = make(map[string]models.Quote, len(symbols))
		resolved = make(map[string]models.SessionQuote, len(symbols))
	)
	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			q, err := cache.GetOrCompute(gctx, s.caches.Responses, "quote:"+sym, s.cfg.QuoteTTL, func(ctx context.Context) (models.Quote, error) {
				return s.src.Quotes.FetchQuote(ctx, sym)
			})
			if err != nil {
				s.logger.Warn("quote unavailable", xlogger.String("symbol", sym), xlogger.Error(err))
				return nil
			}
			sq, ok := session.Resolve(q, now)
			mu.Lock()
			defer mu.Unlock()
			raw[sym] = q
			if ok {
				resolved[sym] = sq
			}
			return nil
		})
	}
	_ = g.Wait()
	return raw, resolved
}

// SessionQuotes returns the session-classified price of each symbol that
// has one, in request order.
func (s *MarketService) SessionQuotes(ctx context.Context, symbols []string) ([]models.SessionQuote, error) {
	symbols, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	_, resolved := s.quotes(ctx, symbols)
	out := make([]models.SessionQuote, 0, len(resolved))
	for _, sym := range symbols {
		if sq, ok := resolved[sym]; ok {
			out = append(out, sq)
		}
	}
	return out, nil
}

// firstError picks the error of the first symbol in order, for when every
// symbol of a request failed.
func firstError(symbols []string, errs map[string]error) error {
	for _, sym := range symbols {
		if err, ok := errs[sym]; ok {
			return err
		}
	}
	return nil
}

// ClearCache wipes every cache tier and announces it.
func (s *MarketService) ClearCache(ctx context.Context) {
	s.caches.ClearAll(ctx)
	s.logger.Info("caches cleared")
	s.publish(ctx, models.Event{Type: models.EventCacheCleared})
}

// ClearResponses drops derived responses after a refresh.
func (s *MarketService) ClearResponses(ctx context.Context) {
	s.caches.ClearResponses(ctx)
}

func (s *MarketService) publish(ctx context.Context, ev models.Event) {
	if s.publisher == nil {
		return
	}
	ev.Source = s.cfg.Instance
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", xlogger.String("type", ev.Type), xlogger.Error(err))
	}
}

// Publish forwards an event with this instance as its source.
func (s *MarketService) Publish(ctx context.Context, ev models.Event) {
	s.publish(ctx, ev)
}

// StoreHealth pings the history store.
func (s *MarketService) StoreHealth(ctx context.Context) error {
	return s.store.Health(ctx)
}
