package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	"CapitalDash/pkg/util"
)

// YahooEndpoints are the Yahoo Finance URLs used by YahooClient.
type YahooEndpoints struct {
	ChartURL  string
	QuoteURL  string
	CrumbURL  string
	CookieURL string
}

func DefaultYahooEndpoints() YahooEndpoints {
	return YahooEndpoints{
		ChartURL:  "https://query1.finance.yahoo.com/v8/finance/chart",
		QuoteURL:  "https://query1.finance.yahoo.com/v7/finance/quote",
		CrumbURL:  "https://query1.finance.yahoo.com/v1/test/getcrumb",
		CookieURL: "https://fc.yahoo.com",
	}
}

// YahooClient implements SeriesSource and QuoteSource against Yahoo Finance.
type YahooClient struct {
	base *HTTPServiceBase
	urls YahooEndpoints

	mu    sync.Mutex
	crumb string
}

func NewYahooClient(base *HTTPServiceBase, urls YahooEndpoints) *YahooClient {
	return &YahooClient{base: base, urls: urls}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(vals []*float64, i int) null.Float {
	if i >= len(vals) {
		return null.Float{}
	}
	return null.FloatFromPtr(vals[i])
}

// FetchSeries returns daily bars in [start, end] sorted by date. Unknown
// symbols and empty windows yield an empty slice.
func (y *YahooClient) FetchSeries(ctx context.Context, symbol string, start, end util.Date) ([]models.Bar, error) {
	var chart yahooChart
	err := y.base.DoWithRetry(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    y.urls.ChartURL + "/" + url.PathEscape(symbol),
		QueryParams: map[string][]string{
			"period1":  {strconv.FormatInt(start.Time().Unix(), 10)},
			"period2":  {strconv.FormatInt(end.AddDays(1).Time().Unix(), 10)},
			"interval": {"1d"},
			"events":   {"history"},
		},
	}, &chart)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return []models.Bar{}, nil
		}
		return nil, err
	}
	if chart.Chart.Error != nil {
		return nil, y.base.Unavailable("chart %s: %s", symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return []models.Bar{}, nil
	}

	res := chart.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return []models.Bar{}, nil
	}
	q := res.Indicators.Quote[0]
	byDate := make(map[util.Date]models.Bar, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		closeV := at(q.Close, i)
		if !closeV.Valid {
			continue
		}
		d := util.DateOf(time.Unix(ts+res.Meta.GMTOffset, 0).UTC())
		if d.Before(start) || d.After(end) {
			continue
		}
		byDate[d] = models.Bar{
			Time:   d,
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  closeV,
			Volume: at(q.Volume, i),
		}
	}
	bars := make([]models.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	slices.SortFunc(bars, func(a, b models.Bar) int { return a.Time.Compare(b.Time) })
	return bars, nil
}

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuote `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

type yahooQuote struct {
	Symbol                       string   `json:"symbol"`
	RegularMarketPrice           *float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose   *float64 `json:"regularMarketPreviousClose"`
	RegularMarketChangePercent   *float64 `json:"regularMarketChangePercent"`
	PreMarketPrice               *float64 `json:"preMarketPrice"`
	PreMarketChangePercent       *float64 `json:"preMarketChangePercent"`
	PostMarketPrice              *float64 `json:"postMarketPrice"`
	PostMarketChangePercent      *float64 `json:"postMarketChangePercent"`
	OvernightMarketPrice         *float64 `json:"overnightMarketPrice"`
	OvernightMarketChangePercent *float64 `json:"overnightMarketChangePercent"`
	RegularMarketVolume          *float64 `json:"regularMarketVolume"`
	AverageDailyVolume3Month     *float64 `json:"averageDailyVolume3Month"`
	RegularMarketTime            int64    `json:"regularMarketTime"`
}

func (q yahooQuote) toModel() models.Quote {
	out := models.Quote{
		Symbol:              q.Symbol,
		Regular:             null.FloatFromPtr(q.RegularMarketPrice),
		PreMarket:           null.FloatFromPtr(q.PreMarketPrice),
		PostMarket:          null.FloatFromPtr(q.PostMarketPrice),
		Overnight:           null.FloatFromPtr(q.OvernightMarketPrice),
		PreviousClose:       null.FloatFromPtr(q.RegularMarketPreviousClose),
		ChangePct:           null.FloatFromPtr(q.RegularMarketChangePercent),
		PreMarketChangePct:  null.FloatFromPtr(q.PreMarketChangePercent),
		PostMarketChangePct: null.FloatFromPtr(q.PostMarketChangePercent),
		OvernightChangePct:  null.FloatFromPtr(q.OvernightMarketChangePercent),
		Volume:              null.FloatFromPtr(q.RegularMarketVolume),
		AvgVolume:           null.FloatFromPtr(q.AverageDailyVolume3Month),
	}
	if q.RegularMarketTime > 0 {
		out.MarketTime = time.Unix(q.RegularMarketTime, 0).UTC()
	}
	return out
}

// FetchQuote returns the current quote of one symbol.
func (y *YahooClient) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	quotes, err := y.FetchQuotes(ctx, []string{symbol})
	if err != nil {
		return models.Quote{}, err
	}
	q, ok := quotes[strings.ToUpper(symbol)]
	if !ok {
		return models.Quote{}, y.base.Unavailable("quote %s: symbol missing from response", symbol)
	}
	return q, nil
}

// FetchQuotes batches symbols into one request. A rejected crumb is
// refreshed once.
func (y *YahooClient) FetchQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	var resp yahooQuoteResponse
	err := y.quoteOnce(ctx, symbols, &resp)
	if code := StatusCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
		y.resetCrumb()
		resp = yahooQuoteResponse{}
		err = y.quoteOnce(ctx, symbols, &resp)
	}
	if err != nil {
		return nil, err
	}
	if resp.QuoteResponse.Error != nil {
		return nil, y.base.Unavailable("quote: %s", resp.QuoteResponse.Error.Description)
	}
	out := make(map[string]models.Quote, len(resp.QuoteResponse.Result))
	for _, q := range resp.QuoteResponse.Result {
		out[strings.ToUpper(q.Symbol)] = q.toModel()
	}
	return out, nil
}

func (y *YahooClient) quoteOnce(ctx context.Context, symbols []string, dest *yahooQuoteResponse) error {
	crumb, err := y.ensureCrumb(ctx)
	if err != nil {
		return err
	}
	params := map[string][]string{"symbols": {strings.Join(symbols, ",")}}
	if crumb != "" {
		params["crumb"] = []string{crumb}
	}
	return y.base.Do(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         y.urls.QuoteURL,
		QueryParams: params,
	}, dest)
}

func (y *YahooClient) ensureCrumb(ctx context.Context) (string, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.crumb != "" || y.urls.CrumbURL == "" {
		return y.crumb, nil
	}
	if y.urls.CookieURL != "" {
		// fc.yahoo.com answers 404 but sets the session cookie.
		_ = y.base.Do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: y.urls.CookieURL}, nil)
	}
	var body []byte
	if err := y.base.Do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: y.urls.CrumbURL}, &body); err != nil {
		return "", fmt.Errorf("crumb: %w", err)
	}
	y.crumb = strings.TrimSpace(string(body))
	return y.crumb, nil
}

func (y *YahooClient) resetCrumb() {
	y.mu.Lock()
	y.crumb = ""
	y.mu.Unlock()
}
