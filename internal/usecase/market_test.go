package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/service/series"
	"CapitalDash/pkg/util"
)

type fakeBreadth struct {
	points map[string][]models.ValuePoint
	errs   map[string]error
}

func (f *fakeBreadth) FetchBreadth(_ context.Context, symbol string, _, _ util.Date) ([]models.ValuePoint, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.points[symbol], nil
}

type fakeReadings struct {
	points []models.ValuePoint
	err    error
}

func (f *fakeReadings) FetchForwardPE(context.Context) ([]models.ValuePoint, error) {
	return f.points, f.err
}

func (f *fakeReadings) FetchFearGreed(context.Context) ([]models.ValuePoint, error) {
	return f.points, f.err
}

func closes(bars []models.Bar) []models.ValuePoint {
	return series.FromBars(bars, models.FieldClose)
}

func TestBreadth_RelativeSeriesOnUnionAxis(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["^NDX"] = weekdayBars(today.AddDays(-1), 20, func(i int) float64 { return float64(100 + i) })
	f.svc.src.Breadth = &fakeBreadth{
		points: map[string][]models.ValuePoint{
			"$NDTW": closes(weekdayBars(today.AddDays(-1), 20, func(i int) float64 { return float64(40 + i) })),
			// two extra leading days the benchmark does not have
			"$NDFI": closes(weekdayBars(today.AddDays(-1), 22, func(int) float64 { return 50 })),
		},
		errs: map[string]error{"$NDFD": domain.ErrUpstreamUnavailable},
	}

	resp, err := f.svc.Breadth(context.Background(), []string{"$ndtw", "$NDFI", "$NDFD"}, "1M", "^NDX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Series) != 2 || resp.Series[0].Symbol != "$NDTW" || resp.Series[1].Symbol != "$NDFI" {
		t.Fatalf("expected the failed symbol to be skipped, got %+v", resp.Series)
	}
	bench, ndtw, ndfi := resp.Benchmark.Points, resp.Series[0].Points, resp.Series[1].Points
	if len(bench) != 22 || len(ndtw) != 22 || len(ndfi) != 22 {
		t.Fatalf("series not on the union axis: %d %d %d", len(bench), len(ndtw), len(ndfi))
	}
	if bench[0].Value.Valid || ndtw[0].Value.Valid {
		t.Fatalf("first axis day exists only in $NDFI, got %v %v", bench[0].Value, ndtw[0].Value)
	}
	if v := bench[2].Value; !v.Valid || v.Float64 != 100 {
		t.Fatalf("benchmark should stay in raw closes, got %v", v)
	}
	if v := ndtw[2].Value; !v.Valid || v.Float64 != 0 {
		t.Fatalf("breadth should start at a zero baseline, got %v", v)
	}
	if v := ndtw[21].Value; !v.Valid || !approx(v.Float64, 47.5) {
		t.Fatalf("expected 59 vs 40 as +47.5%%, got %v", v)
	}
	for _, p := range ndfi {
		if !p.Value.Valid || p.Value.Float64 != 0 {
			t.Fatalf("flat breadth should stay at 0, got %v on %s", p.Value, p.Time)
		}
	}
}

func TestBreadth_AllSymbolsFail(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.src.Breadth = &fakeBreadth{errs: map[string]error{"$NDTW": domain.ErrUpstreamUnavailable}}
	_, err := f.svc.Breadth(context.Background(), []string{"$NDTW"}, "1M", "^NDX")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestForwardPE_FillsOntoTradingDays(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	// 2025-02-12 through 2025-03-11
	f.series.bars["^GSPC"] = weekdayBars(today.AddDays(-1), 20, func(i int) float64 { return float64(5000 + i) })
	f.svc.src.Valuation = &fakeReadings{points: []models.ValuePoint{
		{Time: util.NewDate(2025, 2, 20), Value: null.FloatFrom(21)},
		{Time: util.NewDate(2025, 3, 3), Value: null.FloatFrom(22)},
		{Time: util.NewDate(2025, 3, 8), Value: null.FloatFrom(23)},
	}}

	resp, err := f.svc.ForwardPE(context.Background(), "1M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.SPX) != 20 {
		t.Fatalf("expected every S&P close, got %d", len(resp.SPX))
	}
	if len(resp.ForwardPE) != 14 {
		t.Fatalf("days before the first reading should be omitted, got %d points", len(resp.ForwardPE))
	}
	first, last := resp.ForwardPE[0], resp.ForwardPE[len(resp.ForwardPE)-1]
	if !first.Time.Equal(util.NewDate(2025, 2, 20)) || first.Value.Float64 != 21 {
		t.Fatalf("unexpected first point %+v", first)
	}
	if !last.Time.Equal(util.NewDate(2025, 3, 11)) || last.Value.Float64 != 23 {
		t.Fatalf("weekend reading should carry to the next session, got %+v", last)
	}
	for _, p := range resp.ForwardPE {
		if p.Time.Equal(util.NewDate(2025, 3, 8)) {
			t.Fatalf("non-trading day %s leaked onto the axis", p.Time)
		}
		if p.Time.Equal(util.NewDate(2025, 2, 28)) && p.Value.Float64 != 21 {
			t.Fatalf("expected 21 carried to 2025-02-28, got %v", p.Value)
		}
	}
}

func TestForwardPE_SourceFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.src.Valuation = &fakeReadings{err: domain.ErrUpstreamUnavailable}
	if _, err := f.svc.ForwardPE(context.Background(), "1M"); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestFearGreed_UnionWithSPYAndRangeCut(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	var index []models.ValuePoint
	for d := util.NewDate(2025, 1, 1); d.Before(today); d = d.AddDays(1) {
		index = append(index, models.ValuePoint{Time: d, Value: null.FloatFrom(45)})
	}
	f.svc.src.Sentiment = &fakeReadings{points: index}
	f.series.bars["SPY"] = weekdayBars(today.AddDays(-1), 20, func(i int) float64 { return float64(500 + i) })

	resp, err := f.svc.FearGreed(context.Background(), "1M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2025-02-10 through 2025-03-11, weekends included
	if len(resp.Index) != 30 || len(resp.SPY) != 30 {
		t.Fatalf("expected a 30 day union axis, got %d %d", len(resp.Index), len(resp.SPY))
	}
	if !resp.Index[0].Time.Equal(today.AddDays(-30)) {
		t.Fatalf("index should be cut at the range start, got %s", resp.Index[0].Time)
	}
	for i, p := range resp.SPY {
		wd := p.Time.Time().Weekday()
		weekend := wd == time.Saturday || wd == time.Sunday
		if weekend && p.Value.Valid {
			t.Fatalf("SPY has no close on %s", p.Time)
		}
		if !resp.Index[i].Value.Valid {
			t.Fatalf("index missing on %s", resp.Index[i].Time)
		}
	}
}

func TestSpyRspRatio_IntersectsBeforeDividing(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["SPY"] = weekdayBars(today.AddDays(-1), 20, func(int) float64 { return 500 })
	// RSP stops on Friday 2025-03-07
	f.series.bars["RSP"] = weekdayBars(today.AddDays(-5), 18, func(int) float64 { return 250 })
	f.series.bars["MAGS"] = weekdayBars(today.AddDays(-1), 5, func(i int) float64 { return float64(50 + i) })

	resp, err := f.svc.SpyRspRatio(context.Background(), "1M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Ratio) != 18 {
		t.Fatalf("ratio should cover shared dates only, got %d", len(resp.Ratio))
	}
	for _, p := range resp.Ratio {
		if !p.Value.Valid || !approx(p.Value.Float64, 2) {
			t.Fatalf("expected ratio 2 on %s, got %v", p.Time, p.Value)
		}
	}
	if last := resp.Ratio[len(resp.Ratio)-1].Time; !last.Equal(util.NewDate(2025, 3, 7)) {
		t.Fatalf("ratio should end with RSP, got %s", last)
	}
	if len(resp.MAGS) != 5 || resp.MAGS[4].Value.Float64 != 54 {
		t.Fatalf("unexpected MAGS closes %+v", resp.MAGS)
	}
}

func TestSpyRspRatio_MissingLegFails(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["SPY"] = weekdayBars(today.AddDays(-1), 20, func(int) float64 { return 500 })
	f.series.errs["RSP"] = domain.ErrUpstreamUnavailable
	f.series.errs["MAGS"] = domain.ErrUpstreamUnavailable

	if _, err := f.svc.SpyRspRatio(context.Background(), "1M"); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestDrawdown_StatsFromFullSeriesBeforeDownsample(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.cfg.HistoryDays = 400
	today := util.DateIn(testNow, time.UTC)
	// 250 weekdays end on Tuesday 2025-03-11, so every fifth bar is a
	// Wednesday and the weekly output keeps i=100 but not i=101.
	f.series.bars["SPY"] = weekdayBars(today.AddDays(-1), 250, func(i int) float64 {
		switch {
		case i < 100:
			return 100
		case i == 100:
			return 200
		case i == 101:
			return 100
		default:
			return 150
		}
	})

	resp, err := f.svc.Drawdown(context.Background(), "spy", "1Y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Symbol != "SPY" || !approx(resp.MaxDrawdown, -50) || !approx(resp.CurrentDrawdown, -25) {
		t.Fatalf("unexpected stats %s max=%v current=%v", resp.Symbol, resp.MaxDrawdown, resp.CurrentDrawdown)
	}
	if len(resp.Drawdown) >= 60 || len(resp.Drawdown) != len(resp.Price) {
		t.Fatalf("expected weekly output, got %d drawdown and %d price points", len(resp.Drawdown), len(resp.Price))
	}
	for _, p := range resp.Drawdown {
		if p.Value.Float64 < -25-1e-9 {
			t.Fatalf("the -50%% day should not survive downsampling, got %v on %s", p.Value, p.Time)
		}
	}
}

func TestRealtimeMarketSummary_SessionPriceAndNullVIX(t *testing.T) {
	f := newFixture(t, nil)
	// No regular print yet: the post-market field is the fallback.
	f.quotes.quotes["^GSPC"] = models.Quote{Symbol: "^GSPC", PostMarket: null.FloatFrom(5050), PreviousClose: null.FloatFrom(5000)}

	sum, err := f.svc.RealtimeMarketSummary(context.Background(), "sp500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Symbol != "^GSPC" || sum.IndexValue != 5050 || sum.DayChange != 50 || !approx(sum.DayChangePct, 1) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.PriceSource != "post-market" {
		t.Fatalf("expected post-market price source, got %q", sum.PriceSource)
	}
	if sum.VIXValue.Valid || sum.VIXChangePct.Valid {
		t.Fatalf("vix fields should be null, got %v %v", sum.VIXValue, sum.VIXChangePct)
	}
	if !sum.Date.Equal(util.DateIn(testNow, time.UTC)) {
		t.Fatalf("expected today's date, got %s", sum.Date)
	}
}

func TestRealtimeMarketSummary_SkipsQuoteWithoutBaseline(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.quotes["^GSPC"] = models.Quote{Symbol: "^GSPC", Regular: null.FloatFrom(5000)}
	f.quotes.quotes["SPY"] = models.Quote{Symbol: "SPY", Regular: null.FloatFrom(505), PreviousClose: null.FloatFrom(500)}
	f.quotes.quotes["^VIX"] = models.Quote{Symbol: "^VIX", Regular: null.FloatFrom(18), PreviousClose: null.FloatFrom(20)}

	sum, err := f.svc.RealtimeMarketSummary(context.Background(), "sp500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Symbol != "SPY" || sum.IndexValue != 505 || !approx(sum.DayChangePct, 1) {
		t.Fatalf("expected the SPY fallback, got %+v", sum)
	}
	if !sum.VIXValue.Valid || sum.VIXValue.Float64 != 18 || !approx(sum.VIXChangePct.Float64, -10) {
		t.Fatalf("unexpected vix %v %v", sum.VIXValue, sum.VIXChangePct)
	}
}

func TestRealtimeMarketSummary_NoChangeAnywhere(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.quotes["^NDX"] = models.Quote{Symbol: "^NDX", Regular: null.FloatFrom(20000)}
	_, err := f.svc.RealtimeMarketSummary(context.Background(), "nasdaq")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("a quote without a baseline should not report a 0%% move, got %v", err)
	}
}

func TestSectorSummary_SkipsSectorsWithoutCloses(t *testing.T) {
	f := newFixture(t, nil)
	today := util.DateIn(testNow, time.UTC)
	f.series.bars["XLK"] = weekdayBars(today.AddDays(-1), 30, func(i int) float64 {
		if i == 29 {
			return 102
		}
		return 100
	})
	f.series.errs["XLE"] = domain.ErrUpstreamUnavailable

	resp, err := f.svc.SectorSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Sectors) != 1 {
		t.Fatalf("expected only XLK, got %+v", resp.Sectors)
	}
	s := resp.Sectors[0]
	if s.Symbol != "XLK" || s.Name != "Technology" || !approx(s.ChangePct, 2) {
		t.Fatalf("unexpected sector %+v", s)
	}
	if s.VolumeMillions != 1 || !s.PercentOfAvg.Valid || !approx(s.PercentOfAvg.Float64, 100) {
		t.Fatalf("unexpected volume stats %v %v", s.VolumeMillions, s.PercentOfAvg)
	}
}

func TestSectorSummary_AllFail(t *testing.T) {
	f := newFixture(t, nil)
	for _, sym := range SectorSymbols() {
		f.series.errs[sym] = domain.ErrUpstreamUnavailable
	}
	if _, err := f.svc.SectorSummary(context.Background()); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestRealtimeSectorSummary_FromQuotes(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.quotes["XLF"] = models.Quote{
		Symbol:        "XLF",
		Regular:       null.FloatFrom(51),
		PreviousClose: null.FloatFrom(50),
		Volume:        null.FloatFrom(2e6),
		AvgVolume:     null.FloatFrom(4e6),
	}
	f.quotes.quotes["XLU"] = models.Quote{Symbol: "XLU", Regular: null.FloatFrom(70)}

	resp, err := f.svc.RealtimeSectorSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Sectors) != 2 || resp.Sectors[0].Symbol != "XLF" || resp.Sectors[1].Symbol != "XLU" {
		t.Fatalf("expected XLF then XLU in display order, got %+v", resp.Sectors)
	}
	xlf, xlu := resp.Sectors[0], resp.Sectors[1]
	if !approx(xlf.ChangePct, 2) || xlf.VolumeMillions != 2 || !approx(xlf.PercentOfAvg.Float64, 50) {
		t.Fatalf("unexpected XLF %+v", xlf)
	}
	if xlu.ChangePct != 0 || xlu.VolumeMillions != 0 || xlu.PercentOfAvg.Valid {
		t.Fatalf("unexpected XLU %+v", xlu)
	}
}

func TestRealtimeSectorSummary_NoQuotes(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.RealtimeSectorSummary(context.Background()); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
