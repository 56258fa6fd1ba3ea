package marketdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	"CapitalDash/pkg/util"
)

const DefaultETFCatalogURL = "https://raw.githubusercontent.com/pokedo0/Leveraged-ETF-Data-Scraper/refs/heads/main/leveraged_etf_filled.csv"

// ETFCatalogClient loads the leveraged ETF catalog CSV.
type ETFCatalogClient struct {
	base *HTTPServiceBase
	url  string
}

func NewETFCatalogClient(base *HTTPServiceBase, url string) *ETFCatalogClient {
	if url == "" {
		url = DefaultETFCatalogURL
	}
	return &ETFCatalogClient{base: base, url: url}
}

func (c *ETFCatalogClient) FetchCatalog(ctx context.Context) ([]models.LeveragedETF, error) {
	var body []byte
	err := c.base.DoWithRetry(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: c.url}, &body)
	if err != nil {
		return nil, err
	}
	rows, err := ParseETFCatalog(body)
	if err != nil {
		return nil, c.base.Unavailable("etf catalog: %v", err)
	}
	return rows, nil
}

// ParseETFCatalog reads the catalog CSV. Rows without a ticker or
// underlying, and variable leverage funds, are skipped.
func ParseETFCatalog(body []byte) ([]models.LeveragedETF, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"ticker", "underlying_ticker", "leverage", "direction"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	cell := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(rec []string, name string) null.Float {
		if v, ok := util.ParseFloat(cell(rec, name)); ok {
			return null.FloatFrom(v)
		}
		return null.Float{}
	}

	var out []models.LeveragedETF
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		ticker := strings.ToUpper(cell(rec, "ticker"))
		underlying := strings.ToUpper(cell(rec, "underlying_ticker"))
		if ticker == "" || underlying == "" {
			continue
		}
		lev, ok := parseLeverage(cell(rec, "leverage"))
		if !ok {
			continue
		}
		dir := strings.ToLower(cell(rec, "direction"))
		if dir != models.DirectionShort {
			dir = models.DirectionLong
		}
		out = append(out, models.LeveragedETF{
			Ticker:     ticker,
			Name:       cell(rec, "name"),
			Underlying: underlying,
			Leverage:   lev,
			Direction:  dir,
			AUM:        num(rec, "aum"),
			AvgVolume:  num(rec, "avg_volume"),
		})
	}
	SortCatalog(out)
	return out, nil
}

// parseLeverage accepts "2", "2x" and "-3x". "variable" is rejected.
func parseLeverage(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "x")
	if s == "" || s == "variable" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	if v < 0 {
		v = -v
	}
	return v, true
}

// SortCatalog orders long funds first, then by leverage and AUM, both
// descending.
func SortCatalog(etfs []models.LeveragedETF) {
	slices.SortStableFunc(etfs, func(a, b models.LeveragedETF) int {
		if a.Direction != b.Direction {
			if a.Direction == models.DirectionLong {
				return -1
			}
			return 1
		}
		if a.Leverage != b.Leverage {
			if a.Leverage > b.Leverage {
				return -1
			}
			return 1
		}
		av, bv := a.AUM.ValueOrZero(), b.AUM.ValueOrZero()
		switch {
		case av > bv:
			return -1
		case av < bv:
			return 1
		}
		return 0
	})
}

// DefaultCatalog is used until the CSV source has been loaded once.
func DefaultCatalog() []models.LeveragedETF {
	etf := func(ticker, name, underlying string, lev float64, dir string) models.LeveragedETF {
		return models.LeveragedETF{Ticker: ticker, Name: name, Underlying: underlying, Leverage: lev, Direction: dir}
	}
	out := []models.LeveragedETF{
		etf("TQQQ", "ProShares UltraPro QQQ", "QQQ", 3, models.DirectionLong),
		etf("QLD", "ProShares Ultra QQQ", "QQQ", 2, models.DirectionLong),
		etf("SQQQ", "ProShares UltraPro Short QQQ", "QQQ", 3, models.DirectionShort),
		etf("QID", "ProShares UltraShort QQQ", "QQQ", 2, models.DirectionShort),
		etf("UPRO", "ProShares UltraPro S&P500", "SPY", 3, models.DirectionLong),
		etf("SPXL", "Direxion Daily S&P 500 Bull 3X", "SPY", 3, models.DirectionLong),
		etf("SSO", "ProShares Ultra S&P500", "SPY", 2, models.DirectionLong),
		etf("SPXU", "ProShares UltraPro Short S&P500", "SPY", 3, models.DirectionShort),
		etf("SDS", "ProShares UltraShort S&P500", "SPY", 2, models.DirectionShort),
		etf("SOXL", "Direxion Daily Semiconductor Bull 3X", "SOXX", 3, models.DirectionLong),
		etf("SOXS", "Direxion Daily Semiconductor Bear 3X", "SOXX", 3, models.DirectionShort),
		etf("NVDL", "GraniteShares 2x Long NVDA Daily", "NVDA", 2, models.DirectionLong),
		etf("NVDU", "Direxion Daily NVDA Bull 2X", "NVDA", 2, models.DirectionLong),
		etf("NVDD", "Direxion Daily NVDA Bear 1X", "NVDA", 1, models.DirectionShort),
		etf("TSLL", "Direxion Daily TSLA Bull 2X", "TSLA", 2, models.DirectionLong),
		etf("TSLQ", "Tradr 2X Short TSLA Daily", "TSLA", 2, models.DirectionShort),
		etf("AAPU", "Direxion Daily AAPL Bull 2X", "AAPL", 2, models.DirectionLong),
		etf("MSFU", "Direxion Daily MSFT Bull 2X", "MSFT", 2, models.DirectionLong),
		etf("AMZU", "Direxion Daily AMZN Bull 2X", "AMZN", 2, models.DirectionLong),
		etf("GGLL", "Direxion Daily GOOGL Bull 2X", "GOOGL", 2, models.DirectionLong),
		etf("METU", "Direxion Daily META Bull 2X", "META", 2, models.DirectionLong),
	}
	SortCatalog(out)
	return out
}
