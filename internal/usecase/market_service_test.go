package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/repository"
	"CapitalDash/internal/service/cache"
	"CapitalDash/internal/service/series"
	"CapitalDash/pkg/util"
)

// Wednesday 2025-03-12 11:00 in New York, during the regular session.
var testNow = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

type fakeSeries struct {
	mu    sync.Mutex
	bars  map[string][]models.Bar
	errs  map[string]error
	calls map[string]int
}

func newFakeSeries() *fakeSeries {
	return &fakeSeries{
		bars:  make(map[string][]models.Bar),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeSeries) FetchSeries(_ context.Context, symbol string, start, end util.Date) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return series.BarsBetween(f.bars[symbol], start, end), nil
}

func (f *fakeSeries) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

type fakeQuotes struct {
	quotes map[string]models.Quote
}

func (f *fakeQuotes) FetchQuote(_ context.Context, symbol string) (models.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return models.Quote{}, domain.ErrUpstreamUnavailable
	}
	return q, nil
}

// weekdayBars returns one bar per weekday ending at last, oldest first, with
// closes produced by closeAt(i) where i counts from the first bar.
func weekdayBars(last util.Date, n int, closeAt func(i int) float64) []models.Bar {
	var days []util.Date
	for d := last; len(days) < n; d = d.AddDays(-1) {
		switch d.Time().Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		days = append(days, d)
	}
	out := make([]models.Bar, n)
	for i := range days {
		d := days[n-1-i]
		out[i] = models.Bar{
			Time:   d,
			Close:  null.FloatFrom(closeAt(i)),
			Volume: null.FloatFrom(1e6),
		}
	}
	return out
}

type fixture struct {
	svc    *MarketService
	series *fakeSeries
	quotes *fakeQuotes
	store  *repository.MemoryHistory
}

func newFixture(t *testing.T, catalog []models.LeveragedETF) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	f := &fixture{
		series: newFakeSeries(),
		quotes: &fakeQuotes{quotes: make(map[string]models.Quote)},
		store:  repository.NewMemoryHistory(),
	}
	caches := &cache.Caches{
		Responses: cache.NewTTLCache(cache.WithClock(clock)),
		Series:    cache.NewTTLCache(cache.WithClock(clock)),
	}
	f.svc = NewMarketService(
		Sources{Series: f.series, Quotes: f.quotes},
		f.store,
		caches,
		NewETFCatalog(nil, catalog, nil),
		ServiceConfig{HistoryDays: 60},
		nil,
		WithNow(clock),
	)
	return f
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLeveragedETF_TwoPercentMove(t *testing.T) {
	f := newFixture(t, []models.LeveragedETF{
		{Ticker: "QLD", Name: "Ultra QQQ", Underlying: "QQQ", Leverage: 2, Direction: models.DirectionLong},
		{Ticker: "QID", Name: "UltraShort QQQ", Underlying: "QQQ", Leverage: 2, Direction: models.DirectionShort},
		{Ticker: "QQQX", Name: "No Quote", Underlying: "QQQ", Leverage: 3, Direction: models.DirectionLong},
	})
	f.quotes.quotes["QQQ"] = models.Quote{Symbol: "QQQ", Regular: null.FloatFrom(100), PreviousClose: null.FloatFrom(99)}
	f.quotes.quotes["QLD"] = models.Quote{Symbol: "QLD", Regular: null.FloatFrom(50)}
	f.quotes.quotes["QID"] = models.Quote{Symbol: "QID", Regular: null.FloatFrom(20), PreviousClose: null.FloatFrom(20)}

	resp, err := f.svc.LeveragedETF(context.Background(), "qqq", 102)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.LeveragedETFs) != 2 {
		t.Fatalf("expected the unpriced fund to be skipped, got %d items", len(resp.LeveragedETFs))
	}
	long, short := resp.LeveragedETFs[0], resp.LeveragedETFs[1]
	if long.Ticker != "QLD" || !approx(long.TargetChangePct, 4) || long.TargetPrice != 52 {
		t.Fatalf("unexpected long projection %+v", long)
	}
	if short.Ticker != "QID" || !approx(short.TargetChangePct, -4) || short.TargetPrice != 19.2 {
		t.Fatalf("unexpected short projection %+v", short)
	}
	if long.Leverage != "2x" || resp.Underlying.Leverage != "1x" || resp.Underlying.Direction != "underlying" {
		t.Fatalf("unexpected labels %q %q %q", long.Leverage, resp.Underlying.Leverage, resp.Underlying.Direction)
	}
	if long.TargetDayChangePct.Valid {
		t.Fatalf("fund without a change baseline should have no implied day change")
	}
	if !short.TargetDayChangePct.Valid || !approx(short.TargetDayChangePct.Float64, -4) {
		t.Fatalf("unexpected implied day change %v", short.TargetDayChangePct)
	}
	if long.YTDReturn.Valid {
		t.Fatalf("ytd should be null without a year-end close")
	}
	if resp.TargetUnderlyingPrice != 102 || long.PriceSource != "regular" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestLeveragedETF_DefaultTargetIsCurrentPrice(t *testing.T) {
	f := newFixture(t, []models.LeveragedETF{
		{Ticker: "QLD", Underlying: "QQQ", Leverage: 2, Direction: models.DirectionLong},
	})
	f.quotes.quotes["QQQ"] = models.Quote{Symbol: "QQQ", Regular: null.FloatFrom(100)}
	f.quotes.quotes["QLD"] = models.Quote{Symbol: "QLD", Regular: null.FloatFrom(50)}

	resp, err := f.svc.LeveragedETF(context.Background(), "QQQ", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TargetUnderlyingPrice != 100 || resp.LeveragedETFs[0].TargetChangePct != 0 || resp.LeveragedETFs[0].TargetPrice != 50 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestLeveragedETF_YTDFromPreviousYearEnd(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.quotes["QQQ"] = models.Quote{Symbol: "QQQ", Regular: null.FloatFrom(110)}
	f.series.bars["QQQ"] = []models.Bar{
		{Time: util.NewDate(2024, 12, 30), Close: null.FloatFrom(90)},
		{Time: util.NewDate(2024, 12, 31), Close: null.FloatFrom(100)},
	}
	resp, err := f.svc.LeveragedETF(context.Background(), "QQQ", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Underlying.YTDReturn.Valid || !approx(resp.Underlying.YTDReturn.Float64, 10) {
		t.Fatalf("expected 10%% ytd, got %v", resp.Underlying.YTDReturn)
	}
}

func TestLeveragedETF_UnderlyingWithoutQuote(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.LeveragedETF(context.Background(), "QQQ", 0)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestMarketSummary_VIXFailureLeavesNullFields(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["^GSPC"] = weekdayBars(today.AddDays(-1), 20, func(i int) float64 {
		if i == 19 {
			return 102
		}
		return 100
	})
	f.series.errs["^VIX"] = domain.ErrUpstreamUnavailable

	sum, err := f.svc.MarketSummary(context.Background(), "sp500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Symbol != "^GSPC" || sum.IndexValue != 102 || !approx(sum.DayChangePct, 2) || sum.DayChange != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.VIXValue.Valid || sum.VIXChangePct.Valid {
		t.Fatalf("vix fields should be null, got %v %v", sum.VIXValue, sum.VIXChangePct)
	}
	if sum.Market != "SP500" || !sum.Date.Equal(today.AddDays(-1)) {
		t.Fatalf("unexpected market/date %q %s", sum.Market, sum.Date)
	}
}

func TestMarketSummary_FallsBackToSecondCandidate(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.errs["^NDX"] = domain.ErrUpstreamUnavailable
	f.series.bars["QQQ"] = weekdayBars(today.AddDays(-1), 5, func(i int) float64 { return float64(400 + i) })

	sum, err := f.svc.MarketSummary(context.Background(), "nasdaq")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Symbol != "QQQ" || sum.IndexValue != 404 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestMarketSummary_UnknownMarket(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.MarketSummary(context.Background(), "dow"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestOHLCV_CacheHitSkipsUpstream(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["SPY"] = weekdayBars(today.AddDays(-1), 30, func(i int) float64 { return float64(500 + i) })

	for i := 0; i < 3; i++ {
		p, err := f.svc.OHLCV(context.Background(), "spy", "1M")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Symbol != "SPY" || len(p.Points) == 0 {
			t.Fatalf("unexpected payload %+v", p)
		}
	}
	if n := f.series.count("SPY"); n != 1 {
		t.Fatalf("expected one upstream call, got %d", n)
	}
}

func TestOHLCV_UnknownRange(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.OHLCV(context.Background(), "SPY", "10Y")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if n := f.series.count("SPY"); n != 0 {
		t.Fatalf("validation must precede fetch, got %d calls", n)
	}
}

func TestOHLCV_NoDataIsEmptySeries(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.svc.OHLCV(context.Background(), "NEW", "1W")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Points == nil || len(p.Points) != 0 {
		t.Fatalf("expected an empty, non-nil series, got %#v", p.Points)
	}
}

func TestHistory_CoveredStoreSkipsUpstream(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	stored := weekdayBars(today.AddDays(-1), 45, func(i int) float64 { return float64(i + 1) })
	if err := f.store.Upsert(context.Background(), "SPY", stored); err != nil {
		t.Fatal(err)
	}

	bars, err := f.svc.History(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) == 0 {
		t.Fatalf("expected stored bars")
	}
	if n := f.series.count("SPY"); n != 0 {
		t.Fatalf("expected no upstream call, got %d", n)
	}
}

func TestHistory_IncrementalFetchMerges(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	all := weekdayBars(today.AddDays(-1), 45, func(i int) float64 { return float64(i + 1) })
	if err := f.store.Upsert(context.Background(), "SPY", all[:40]); err != nil {
		t.Fatal(err)
	}
	f.series.bars["SPY"] = all

	bars, err := f.svc.History(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := bars[len(bars)-1].Time, all[len(all)-1].Time; !got.Equal(want) {
		t.Fatalf("expected history through %s, got %s", want, got)
	}
	_, last, _, _ := f.store.Coverage(context.Background(), "SPY")
	if !last.Equal(all[len(all)-1].Time) {
		t.Fatalf("fetched bars were not stored, last %s", last)
	}
}

func TestHistory_StoredRowsServeOnUpstreamFailure(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	stale := weekdayBars(today.AddDays(-10), 30, func(i int) float64 { return 10 })
	if err := f.store.Upsert(context.Background(), "SPY", stale); err != nil {
		t.Fatal(err)
	}
	f.series.errs["SPY"] = domain.ErrUpstreamUnavailable

	bars, err := f.svc.History(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("expected stored rows, got %v", err)
	}
	if len(bars) != len(stale) {
		t.Fatalf("expected %d stored bars, got %d", len(stale), len(bars))
	}
	if err := f.svc.RefreshHistory(context.Background(), "SPY"); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("refresh must not accept stored rows, got %v", err)
	}
}

func TestRelativePerformance_UnionAxisAndSkipsFailures(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["AAA"] = weekdayBars(today.AddDays(-1), 10, func(i int) float64 { return float64(100 + i) })
	f.series.bars["BBB"] = weekdayBars(today.AddDays(-3), 8, func(i int) float64 { return 50 })
	f.series.errs["CCC"] = domain.ErrUpstreamUnavailable

	out, err := f.svc.RelativePerformance(context.Background(), []string{"AAA", "BBB", "CCC"}, "1M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 series, got %d", len(out))
	}
	if len(out[0].Points) != len(out[1].Points) {
		t.Fatalf("series not on one axis: %d vs %d", len(out[0].Points), len(out[1].Points))
	}
	if v := out[0].Points[0].Value; !v.Valid || v.Float64 != 0 {
		t.Fatalf("first point should be the zero baseline, got %v", v)
	}
	if last := out[1].Points[len(out[1].Points)-1].Value; last.Valid {
		t.Fatalf("BBB has no bar on the last axis date, got %v", last)
	}
}

func TestRelativePerformance_AllFail(t *testing.T) {
	f := newFixture(t, nil)
	f.series.errs["AAA"] = domain.ErrUpstreamUnavailable
	_, err := f.svc.RelativePerformance(context.Background(), []string{"AAA"}, "1M")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestRelativeTo_RatioRebasedTo100(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["AAA"] = weekdayBars(today.AddDays(-1), 10, func(i int) float64 { return float64(20 + 2*i) })
	f.series.bars["BBB"] = weekdayBars(today.AddDays(-1), 10, func(i int) float64 { return float64(10 + i) })

	resp, err := f.svc.RelativeTo(context.Background(), "AAA", "BBB", "1M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range resp.Ratio {
		if !p.Value.Valid || !approx(p.Value.Float64, 100) {
			t.Fatalf("constant ratio should rebase to 100, got %v at %s", p.Value, p.Time)
		}
	}
	if len(resp.MovingAverage) != 0 {
		t.Fatalf("moving average needs %d points, got %d", relativeTrendWindow, len(resp.MovingAverage))
	}
}

func TestClearCache_ForcesRecompute(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["SPY"] = weekdayBars(today.AddDays(-1), 45, func(i int) float64 { return 1 })

	if _, err := f.svc.OHLCV(context.Background(), "SPY", "1M"); err != nil {
		t.Fatal(err)
	}
	f.svc.ClearCache(context.Background())
	if _, err := f.svc.OHLCV(context.Background(), "SPY", "1M"); err != nil {
		t.Fatal(err)
	}
	// The second load is served from the store, which now covers the window.
	if n := f.series.count("SPY"); n != 1 {
		t.Fatalf("expected the store to absorb the reload, got %d upstream calls", n)
	}
}

func TestETFCatalog_ForUnderlyingKeepsOrder(t *testing.T) {
	c := NewETFCatalog(nil, []models.LeveragedETF{
		{Ticker: "TQQQ", Underlying: "QQQ"},
		{Ticker: "UPRO", Underlying: "SPY"},
		{Ticker: "SQQQ", Underlying: "QQQ"},
	}, nil)
	got := c.ForUnderlying("QQQ")
	if len(got) != 2 || got[0].Ticker != "TQQQ" || got[1].Ticker != "SQQQ" {
		t.Fatalf("unexpected rows %+v", got)
	}
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload without a source should be a no-op, got %v", err)
	}
}

func TestPeerEvents_ClearsOnRemoteEventsOnly(t *testing.T) {
	f := newFixture(t, nil)
	h := f.svc.PeerEvents("capitaldash.events")
	ctx := context.Background()
	f.svc.caches.Responses.Set("k", 1, time.Minute)
	f.svc.caches.Series.Set("s", 1, time.Minute)

	own, _ := json.Marshal(models.Event{Type: models.EventCacheCleared})
	if err := h.Handle(ctx, own); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.svc.caches.Responses.Get("k"); !ok {
		t.Fatal("events from this instance must be ignored")
	}

	refresh, _ := json.Marshal(models.Event{Type: models.EventRefreshCompleted, Source: "peer-1"})
	if err := h.Handle(ctx, refresh); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.svc.caches.Responses.Get("k"); ok {
		t.Fatal("a peer refresh should drop responses")
	}
	if _, ok := f.svc.caches.Series.Get("s"); !ok {
		t.Fatal("a peer refresh should keep the series tier")
	}

	cleared, _ := json.Marshal(models.Event{Type: models.EventCacheCleared, Source: "peer-1"})
	if err := h.Handle(ctx, cleared); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.svc.caches.Series.Get("s"); ok {
		t.Fatal("a peer cache clear should drop the series tier")
	}
	if err := h.Handle(ctx, []byte("not json")); err != nil {
		t.Fatalf("bad payloads should be skipped, got %v", err)
	}
}
