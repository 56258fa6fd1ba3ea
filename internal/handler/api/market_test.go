package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guregu/null/v6"
	"github.com/labstack/echo/v4"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/service/ratelimit"
	"CapitalDash/internal/service/scheduler"
	"CapitalDash/pkg/util"
)

type fakeService struct {
	mu        sync.Mutex
	err       error
	storeErr  error
	cleared   int
	lastRange string
	symbols   []string
}

func (f *fakeService) TimeRanges() []models.TimeRangeInfo {
	return []models.TimeRangeInfo{{Key: models.Range1W, Days: 7}}
}

func (f *fakeService) OHLCV(_ context.Context, symbol, rangeKey string) (models.SeriesPayload, error) {
	f.lastRange = rangeKey
	if f.err != nil {
		return models.SeriesPayload{}, f.err
	}
	return models.SeriesPayload{Symbol: symbol, Points: []models.Bar{{Time: util.NewDate(2025, time.March, 11), Close: null.FloatFrom(10)}}}, nil
}

func (f *fakeService) RelativePerformance(_ context.Context, symbols []string, _ string) ([]models.Series, error) {
	f.symbols = symbols
	return nil, f.err
}

func (f *fakeService) DailyPerformance(context.Context, []string) ([]models.DailyPerformance, error) {
	return nil, f.err
}

func (f *fakeService) Drawdown(context.Context, string, string) (models.DrawdownResponse, error) {
	return models.DrawdownResponse{}, f.err
}

func (f *fakeService) RelativeTo(context.Context, string, string, string) (models.RelativeToResponse, error) {
	return models.RelativeToResponse{}, f.err
}

func (f *fakeService) MarketSummary(_ context.Context, market string) (models.MarketSummary, error) {
	return models.MarketSummary{Market: market}, f.err
}

func (f *fakeService) RealtimeMarketSummary(_ context.Context, market string) (models.MarketSummary, error) {
	return models.MarketSummary{Market: market}, f.err
}

func (f *fakeService) SectorSummary(context.Context) (models.SectorSummaryResponse, error) {
	return models.SectorSummaryResponse{}, f.err
}

func (f *fakeService) RealtimeSectorSummary(context.Context) (models.SectorSummaryResponse, error) {
	return models.SectorSummaryResponse{}, f.err
}

func (f *fakeService) Breadth(_ context.Context, symbols []string, _ string, _ string) (models.MarketBreadthResponse, error) {
	f.symbols = symbols
	return models.MarketBreadthResponse{}, f.err
}

func (f *fakeService) ForwardPE(context.Context, string) (models.ForwardPeResponse, error) {
	return models.ForwardPeResponse{}, f.err
}

func (f *fakeService) FearGreed(context.Context, string) (models.FearGreedResponse, error) {
	return models.FearGreedResponse{}, f.err
}

func (f *fakeService) SpyRspRatio(context.Context, string) (models.SpyRspRatioResponse, error) {
	return models.SpyRspRatioResponse{}, f.err
}

func (f *fakeService) LeveragedETF(context.Context, string, float64) (models.LeveragedETFResponse, error) {
	return models.LeveragedETFResponse{}, f.err
}

func (f *fakeService) SessionQuotes(_ context.Context, symbols []string) ([]models.SessionQuote, error) {
	out := make([]models.SessionQuote, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, models.SessionQuote{Symbol: s, Session: "regular", PriceSource: "regular", Price: null.FloatFrom(100)})
	}
	return out, nil
}

func (f *fakeService) ClearCache(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeService) StoreHealth(context.Context) error { return f.storeErr }

type fakeStatus struct {
	ready bool
	state scheduler.State
}

func (s fakeStatus) Ready() bool            { return s.ready }
func (s fakeStatus) State() scheduler.State { return s.state }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestEcho(svc *fakeService, opts ...HandlerOption) *echo.Echo {
	e := echo.New()
	NewMarketHandler(svc, fakeStatus{ready: true, state: scheduler.Idle}, nil, opts...).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v (%s)", target, err, rec.Body.String())
	}
	return rec, env
}

func TestOHLCV_DefaultsRangeAndWrapsData(t *testing.T) {
	svc := &fakeService{}
	rec, env := do(t, newTestEcho(svc), http.MethodGet, "/api/ohlcv?symbol=SPY")
	if rec.Code != http.StatusOK || env.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if svc.lastRange != "1Y" {
		t.Fatalf("expected default range 1Y, got %q", svc.lastRange)
	}
	var payload models.SeriesPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Symbol != "SPY" || len(payload.Points) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestOHLCV_MissingSymbolIsBadRequest(t *testing.T) {
	rec, _ := do(t, newTestEcho(&fakeService{}), http.MethodGet, "/api/ohlcv")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ERR_REQUIRED") {
		t.Fatalf("expected a validation error, got %s", rec.Body.String())
	}
}

func TestOHLCV_InvalidRequestMapsTo400(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("%w: unknown range %q", domain.ErrInvalidRequest, "7Y")}
	rec, _ := do(t, newTestEcho(svc), http.MethodGet, "/api/ohlcv?symbol=SPY&range=7Y")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "ERR_BAD_REQUEST") {
		t.Fatalf("expected 400 ERR_BAD_REQUEST, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMarketSummary_UpstreamMapsTo503(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("no index data: %w", domain.ErrUpstreamUnavailable)}
	rec, _ := do(t, newTestEcho(svc), http.MethodGet, "/api/market/summary")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "ERR_UPSTREAM") {
		t.Fatalf("expected 503 ERR_UPSTREAM, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSectorSummary_UnknownErrorMapsTo500(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("boom")}
	rec, _ := do(t, newTestEcho(svc), http.MethodGet, "/api/sectors/summary")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRelativePerformance_SplitsSymbols(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newTestEcho(svc), http.MethodGet, "/api/performance/relative?symbols=spy,%20qqq,,SPY&range=1M")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.symbols) != 2 || svc.symbols[0] != "SPY" || svc.symbols[1] != "QQQ" {
		t.Fatalf("unexpected symbols %v", svc.symbols)
	}
}

func TestRelativePerformance_RejectsBadTicker(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newTestEcho(svc), http.MethodGet, "/api/performance/relative?symbols=SPY,DROP%20TABLE")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "ERR_TICKER") {
		t.Fatalf("expected 400 ERR_TICKER, got %d %s", rec.Code, rec.Body.String())
	}
	if svc.symbols != nil {
		t.Fatalf("service should not be called, got %v", svc.symbols)
	}
}

func TestOHLCV_ReportsQueryFieldName(t *testing.T) {
	rec, _ := do(t, newTestEcho(&fakeService{}), http.MethodGet, "/api/ohlcv?symbol=a%2Fb")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"field":"symbol"`) || !strings.Contains(body, "ERR_TICKER") {
		t.Fatalf("expected ticker error on field symbol, got %s", body)
	}
}

func TestBreadth_DefaultsToNDTW(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newTestEcho(svc), http.MethodGet, "/api/market/breadth")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.symbols) != 1 || svc.symbols[0] != "$NDTW" {
		t.Fatalf("unexpected default symbols %v", svc.symbols)
	}
}

func TestClearCache_RateLimitedPerAddress(t *testing.T) {
	svc := &fakeService{}
	e := newTestEcho(svc, WithRateLimiter(ratelimit.New(1, 1)))

	rec, env := do(t, e, http.MethodPost, "/api/cache/clear")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"ok"`) {
		t.Fatalf("expected ok, got %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, e, http.MethodPost, "/api/cache/clear")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if svc.cleared != 1 {
		t.Fatalf("expected one clear, got %d", svc.cleared)
	}
}

func TestHealth_ReportsRefresherAndStore(t *testing.T) {
	svc := &fakeService{storeErr: fmt.Errorf("disk gone")}
	rec, env := do(t, newTestEcho(svc), http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var h models.HealthResponse
	if err := json.Unmarshal(env.Data, &h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if h.Status != "degraded" || !h.Ready || h.RefresherState != "idle" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestHealth_NotReadyIsStillOK(t *testing.T) {
	e := echo.New()
	NewMarketHandler(&fakeService{}, fakeStatus{state: scheduler.Idle}, nil).RegisterRoutes(e)
	_, env := do(t, e, http.MethodGet, "/api/health")
	var h models.HealthResponse
	if err := json.Unmarshal(env.Data, &h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if h.Status != "ok" || h.Ready {
		t.Fatalf("readiness should not degrade the status, got %+v", h)
	}
}

func TestQuoteStream_PushesFirstFrame(t *testing.T) {
	e := newTestEcho(&fakeService{}, WithStreamConfig(StreamConfig{Interval: time.Hour}))
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/quotes?symbols=spy,qqq"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame quoteFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "quotes" || len(frame.Quotes) != 2 || frame.Quotes[0].Symbol != "SPY" {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestQuoteStream_TooManySymbols(t *testing.T) {
	e := newTestEcho(&fakeService{}, WithStreamConfig(StreamConfig{MaxSymbols: 1}))
	rec, _ := do(t, e, http.MethodGet, "/ws/quotes?symbols=SPY,QQQ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
