package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	xlogger "CapitalDash/pkg/logger"
)

// StreamConfig tunes the /ws/quotes push stream.
type StreamConfig struct {
	Interval     time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	MaxSymbols   int
	AllowOrigins []string
}

func (c *StreamConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxSymbols <= 0 {
		c.MaxSymbols = 25
	}
}

type quoteFrame struct {
	Type   string                `json:"type"`
	At     time.Time             `json:"at"`
	Quotes []models.SessionQuote `json:"quotes"`
}

// QuoteStream upgrades to a websocket and pushes session-classified quotes
// for the requested symbols every Interval until the client goes away.
func (h *MarketHandler) QuoteStream(c echo.Context) error {
	req := &models.QuoteStreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols, appErr := xhttp.SplitTickers("symbols", req.Symbols)
	switch {
	case appErr != nil:
		return xhttp.AppErrorResponse(c, appErr)
	case len(symbols) == 0:
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbols is required"))
	case len(symbols) > h.stream.MaxSymbols:
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("at most %d symbols per stream", h.stream.MaxSymbols))
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the client
		h.logger.Debug("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	log := h.logger.With(xlogger.String("remote", c.RealIP()), xlogger.Strings("symbols", symbols))
	log.Debug("quote stream opened")

	pongWait := 2 * h.stream.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Client frames are ignored; a read error means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(h.stream.Interval)
	defer push.Stop()
	ping := time.NewTicker(h.stream.PingInterval)
	defer ping.Stop()

	if err := h.pushQuotes(ctx, conn, symbols); err != nil {
		log.Debug("quote stream closed", xlogger.Error(err))
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug("quote stream closed")
			return nil
		case <-push.C:
			if err := h.pushQuotes(ctx, conn, symbols); err != nil {
				log.Debug("quote stream closed", xlogger.Error(err))
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("quote stream ping failed", xlogger.Error(err))
				return nil
			}
		}
	}
}

func (h *MarketHandler) pushQuotes(ctx context.Context, conn *websocket.Conn, symbols []string) error {
	start := time.Now()
	quotes, err := h.svc.SessionQuotes(ctx, symbols)
	if err != nil {
		h.metrics.Observe("quote_stream", start, toAppError(err).Code)
		return fmt.Errorf("session quotes: %w", err)
	}
	h.metrics.Observe("quote_stream", start, "")
	_ = conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout))
	return conn.WriteJSON(quoteFrame{Type: "quotes", At: start.UTC(), Quotes: quotes})
}

func (h *MarketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.stream.AllowOrigins) == 0 || slices.Contains(h.stream.AllowOrigins, "*") {
		return true
	}
	return slices.Contains(h.stream.AllowOrigins, origin)
}
