package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/service/metrics"
	"CapitalDash/internal/service/ratelimit"
	"CapitalDash/internal/service/scheduler"
	xhttp "CapitalDash/pkg/http"
	xlogger "CapitalDash/pkg/logger"
)

// MarketService is the aggregation layer behind the dashboard routes.
type MarketService interface {
	TimeRanges() []models.TimeRangeInfo
	OHLCV(ctx context.Context, symbol, rangeKey string) (models.SeriesPayload, error)
	RelativePerformance(ctx context.Context, symbols []string, rangeKey string) ([]models.Series, error)
	DailyPerformance(ctx context.Context, symbols []string) ([]models.DailyPerformance, error)
	Drawdown(ctx context.Context, symbol, rangeKey string) (models.DrawdownResponse, error)
	RelativeTo(ctx context.Context, symbol, benchmark, rangeKey string) (models.RelativeToResponse, error)
	MarketSummary(ctx context.Context, market string) (models.MarketSummary, error)
	RealtimeMarketSummary(ctx context.Context, market string) (models.MarketSummary, error)
	SectorSummary(ctx context.Context) (models.SectorSummaryResponse, error)
	RealtimeSectorSummary(ctx context.Context) (models.SectorSummaryResponse, error)
	Breadth(ctx context.Context, symbols []string, rangeKey, benchmark string) (models.MarketBreadthResponse, error)
	ForwardPE(ctx context.Context, rangeKey string) (models.ForwardPeResponse, error)
	FearGreed(ctx context.Context, rangeKey string) (models.FearGreedResponse, error)
	SpyRspRatio(ctx context.Context, rangeKey string) (models.SpyRspRatioResponse, error)
	LeveragedETF(ctx context.Context, underlying string, target float64) (models.LeveragedETFResponse, error)
	SessionQuotes(ctx context.Context, symbols []string) ([]models.SessionQuote, error)
	ClearCache(ctx context.Context)
	StoreHealth(ctx context.Context) error
}

// RefreshStatus reports startup readiness of the background refresher.
type RefreshStatus interface {
	Ready() bool
	State() scheduler.State
}

// MarketHandler serves the dashboard API on Echo.
type MarketHandler struct {
	svc     MarketService
	status  RefreshStatus
	limiter *ratelimit.Limiter
	metrics *metrics.Endpoints
	stream  StreamConfig
	logger  *xlogger.Logger
}

type HandlerOption func(*MarketHandler)

// WithRateLimiter guards the admin routes per remote address.
func WithRateLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *MarketHandler) { h.limiter = l }
}

func WithEndpointMetrics(m *metrics.Endpoints) HandlerOption {
	return func(h *MarketHandler) { h.metrics = m }
}

func WithStreamConfig(cfg StreamConfig) HandlerOption {
	return func(h *MarketHandler) { h.stream = cfg }
}

func NewMarketHandler(svc MarketService, status RefreshStatus, logger *xlogger.Logger, opts ...HandlerOption) *MarketHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &MarketHandler{svc: svc, status: status, logger: logger}
	for _, o := range opts {
		o(h)
	}
	h.stream.applyDefaults()
	return h
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/time-ranges", h.TimeRanges)
	g.GET("/ohlcv", h.OHLCV)
	g.GET("/performance/relative", h.RelativePerformance)
	g.GET("/performance/daily", h.DailyPerformance)
	g.GET("/performance/drawdown", h.Drawdown)
	g.GET("/performance/relative-to", h.RelativeTo)
	g.GET("/market/summary", h.MarketSummary)
	g.GET("/market/realtime-summary", h.RealtimeMarketSummary)
	g.GET("/market/breadth", h.Breadth)
	g.GET("/market/forward-pe", h.ForwardPE)
	g.GET("/market/fear-greed", h.FearGreed)
	g.GET("/market/spy-rsp-ratio", h.SpyRspRatio)
	g.GET("/sectors/summary", h.SectorSummary)
	g.GET("/sectors/realtime-summary", h.RealtimeSectorSummary)
	g.GET("/leveraged-etf/calculate", h.LeveragedETF)
	g.POST("/cache/clear", h.ClearCache)
	g.GET("/health", h.Health)

	e.GET("/ws/quotes", h.QuoteStream)
}

// respond renders a usecase result and records the call.
func (h *MarketHandler) respond(c echo.Context, endpoint string, start time.Time, data interface{}, err error) error {
	if err == nil {
		h.metrics.Observe(endpoint, start, "")
		return xhttp.SuccessResponse(c, data)
	}
	appErr := toAppError(err)
	h.metrics.Observe(endpoint, start, appErr.Code)
	if appErr.Status >= 500 && !errors.Is(err, context.Canceled) {
		h.logger.Error(endpoint+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *MarketHandler) TimeRanges(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.TimeRanges())
}

func (h *MarketHandler) OHLCV(c echo.Context) error {
	start := time.Now()
	req := &models.OHLCVRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.OHLCV(c.Request().Context(), req.Symbol, req.Range)
	return h.respond(c, "ohlcv", start, res, err)
}

func (h *MarketHandler) RelativePerformance(c echo.Context) error {
	start := time.Now()
	req := &models.SymbolsRangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols, appErr := xhttp.SplitTickers("symbols", req.Symbols)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	res, err := h.svc.RelativePerformance(c.Request().Context(), symbols, req.Range)
	return h.respond(c, "relative_performance", start, res, err)
}

func (h *MarketHandler) DailyPerformance(c echo.Context) error {
	start := time.Now()
	req := &models.SymbolsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols, appErr := xhttp.SplitTickers("symbols", req.Symbols)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	res, err := h.svc.DailyPerformance(c.Request().Context(), symbols)
	return h.respond(c, "daily_performance", start, res, err)
}

func (h *MarketHandler) Drawdown(c echo.Context) error {
	start := time.Now()
	req := &models.DrawdownRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Drawdown(c.Request().Context(), req.Symbol, req.Range)
	return h.respond(c, "drawdown", start, res, err)
}

func (h *MarketHandler) RelativeTo(c echo.Context) error {
	start := time.Now()
	req := &models.RelativeToRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.RelativeTo(c.Request().Context(), req.Symbol, req.Benchmark, req.Range)
	return h.respond(c, "relative_to", start, res, err)
}

func (h *MarketHandler) MarketSummary(c echo.Context) error {
	start := time.Now()
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.MarketSummary(c.Request().Context(), req.Market)
	return h.respond(c, "market_summary", start, res, err)
}

func (h *MarketHandler) RealtimeMarketSummary(c echo.Context) error {
	start := time.Now()
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.RealtimeMarketSummary(c.Request().Context(), req.Market)
	if err == nil {
		xhttp.PrivateCache(c, 15)
	}
	return h.respond(c, "realtime_market_summary", start, res, err)
}

func (h *MarketHandler) Breadth(c echo.Context) error {
	start := time.Now()
	req := &models.BreadthRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols, appErr := xhttp.SplitTickers("symbols", req.Symbols)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	res, err := h.svc.Breadth(c.Request().Context(), symbols, req.Range, req.Benchmark)
	return h.respond(c, "breadth", start, res, err)
}

func (h *MarketHandler) ForwardPE(c echo.Context) error {
	start := time.Now()
	req := &models.RangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.ForwardPE(c.Request().Context(), req.Range)
	return h.respond(c, "forward_pe", start, res, err)
}

func (h *MarketHandler) FearGreed(c echo.Context) error {
	start := time.Now()
	req := &models.RangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.FearGreed(c.Request().Context(), req.Range)
	return h.respond(c, "fear_greed", start, res, err)
}

func (h *MarketHandler) SpyRspRatio(c echo.Context) error {
	start := time.Now()
	req := &models.RangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.SpyRspRatio(c.Request().Context(), req.Range)
	return h.respond(c, "spy_rsp_ratio", start, res, err)
}

func (h *MarketHandler) SectorSummary(c echo.Context) error {
	start := time.Now()
	res, err := h.svc.SectorSummary(c.Request().Context())
	return h.respond(c, "sector_summary", start, res, err)
}

func (h *MarketHandler) RealtimeSectorSummary(c echo.Context) error {
	start := time.Now()
	res, err := h.svc.RealtimeSectorSummary(c.Request().Context())
	if err == nil {
		xhttp.PrivateCache(c, 15)
	}
	return h.respond(c, "realtime_sector_summary", start, res, err)
}

func (h *MarketHandler) LeveragedETF(c echo.Context) error {
	start := time.Now()
	req := &models.LeveragedETFRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.LeveragedETF(c.Request().Context(), req.Underlying, req.Target)
	return h.respond(c, "leveraged_etf", start, res, err)
}

// ClearCache wipes every cache tier. Callers are limited per remote address.
func (h *MarketHandler) ClearCache(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		h.metrics.Observe("cache_clear", time.Now(), xhttp.CodeRateLimited)
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("cache clear is rate limited"))
	}
	h.svc.ClearCache(c.Request().Context())
	h.logger.Info("cache cleared by request", xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *MarketHandler) Health(c echo.Context) error {
	res := models.HealthResponse{Status: "ok"}
	if h.status != nil {
		res.Ready = h.status.Ready()
		res.RefresherState = h.status.State().String()
	}
	if err := h.svc.StoreHealth(c.Request().Context()); err != nil {
		h.logger.Warn("history store unhealthy", xlogger.Error(err))
		res.Status = "degraded"
	}
	return xhttp.SuccessResponse(c, res)
}
