package usecase

import (
	"context"
	"fmt"
	"sync"

	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	xlogger "CapitalDash/pkg/logger"
)

// ETFCatalog holds the leveraged ETF rows in display order. A failed reload
// keeps the previous rows.
type ETFCatalog struct {
	mu     sync.RWMutex
	rows   []models.LeveragedETF
	source repository.ETFCatalogSource
	logger *xlogger.Logger
}

// NewETFCatalog seeds the catalog with defaults. source may be nil, in which
// case Reload is a no-op.
func NewETFCatalog(source repository.ETFCatalogSource, defaults []models.LeveragedETF, logger *xlogger.Logger) *ETFCatalog {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ETFCatalog{
		rows:   defaults,
		source: source,
		logger: logger.With(xlogger.String("component", "etf_catalog")),
	}
}

func (c *ETFCatalog) Reload(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	rows, err := c.source.FetchCatalog(ctx)
	if err != nil {
		c.logger.Warn("etf catalog reload failed, keeping previous rows", xlogger.Error(err))
		return fmt.Errorf("reload etf catalog: %w", err)
	}
	if len(rows) == 0 {
		c.logger.Warn("etf catalog source returned no rows")
		return nil
	}
	c.mu.Lock()
	c.rows = rows
	c.mu.Unlock()
	c.logger.Info("etf catalog reloaded", xlogger.Int("rows", len(rows)))
	return nil
}

// ForUnderlying returns the funds tracking underlying, in catalog order.
func (c *ETFCatalog) ForUnderlying(underlying string) []models.LeveragedETF {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.LeveragedETF
	for _, e := range c.rows {
		if e.Underlying == underlying {
			out = append(out, e)
		}
	}
	return out
}

func (c *ETFCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

func fund(ticker, underlying string, leverage float64, direction, name string) models.LeveragedETF {
	return models.LeveragedETF{Ticker: ticker, Underlying: underlying, Leverage: leverage, Direction: direction, Name: name}
}

// DefaultETFCatalog is served until the first successful reload, sorted long
// before short and by leverage descending.
func DefaultETFCatalog() []models.LeveragedETF {
	return []models.LeveragedETF{
		fund("TQQQ", "QQQ", 3, models.DirectionLong, "ProShares UltraPro QQQ"),
		fund("QLD", "QQQ", 2, models.DirectionLong, "ProShares Ultra QQQ"),
		fund("SQQQ", "QQQ", 3, models.DirectionShort, "ProShares UltraPro Short QQQ"),
		fund("QID", "QQQ", 2, models.DirectionShort, "ProShares UltraShort QQQ"),
		fund("UPRO", "SPY", 3, models.DirectionLong, "ProShares UltraPro S&P500"),
		fund("SPXL", "SPY", 3, models.DirectionLong, "Direxion Daily S&P 500 Bull 3X"),
		fund("SSO", "SPY", 2, models.DirectionLong, "ProShares Ultra S&P500"),
		fund("SPXU", "SPY", 3, models.DirectionShort, "ProShares UltraPro Short S&P500"),
		fund("SDS", "SPY", 2, models.DirectionShort, "ProShares UltraShort S&P500"),
		fund("SOXL", "SOXX", 3, models.DirectionLong, "Direxion Daily Semiconductor Bull 3X"),
		fund("SOXS", "SOXX", 3, models.DirectionShort, "Direxion Daily Semiconductor Bear 3X"),
		fund("TNA", "IWM", 3, models.DirectionLong, "Direxion Daily Small Cap Bull 3X"),
		fund("TZA", "IWM", 3, models.DirectionShort, "Direxion Daily Small Cap Bear 3X"),
		fund("NVDL", "NVDA", 2, models.DirectionLong, "GraniteShares 2x Long NVDA Daily"),
		fund("TSLL", "TSLA", 2, models.DirectionLong, "Direxion Daily TSLA Bull 2X"),
	}
}
