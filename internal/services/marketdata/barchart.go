package marketdata

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	"CapitalDash/pkg/util"
)

const (
	DefaultBarchartHomeURL  = "https://www.barchart.com/"
	DefaultBarchartQueryURL = "https://www.barchart.com/proxies/timeseries/queryeod.ashx"

	xsrfCookie = "XSRF-TOKEN"
)

// BarchartClient reads "$" breadth indices from the Barchart time series
// proxy. The proxy wants the XSRF cookie of a homepage visit echoed back as
// a header, so the underlying client must carry a cookie jar.
type BarchartClient struct {
	base     *HTTPServiceBase
	homeURL  string
	queryURL string

	mu   sync.Mutex
	xsrf string
}

func NewBarchartClient(base *HTTPServiceBase, homeURL, queryURL string) *BarchartClient {
	if homeURL == "" {
		homeURL = DefaultBarchartHomeURL
	}
	if queryURL == "" {
		queryURL = DefaultBarchartQueryURL
	}
	return &BarchartClient{base: base, homeURL: homeURL, queryURL: queryURL}
}

// FetchBreadth returns daily closes in [start, end].
func (b *BarchartClient) FetchBreadth(ctx context.Context, symbol string, start, end util.Date) ([]models.ValuePoint, error) {
	body, err := b.query(ctx, symbol, start, end)
	if code := StatusCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
		b.resetToken()
		body, err = b.query(ctx, symbol, start, end)
	}
	if err != nil {
		return nil, err
	}

	byDate := make(map[util.Date]float64)
	for d, v := range parseBarchartRows(body) {
		if d.Before(start) || d.After(end) {
			continue
		}
		byDate[d] = v
	}
	return sortedPoints(byDate), nil
}

func (b *BarchartClient) query(ctx context.Context, symbol string, start, end util.Date) ([]byte, error) {
	token, err := b.token(ctx)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"User-Agent": DefaultUserAgent,
		"Accept":     "text/plain, */*",
		"Referer":    b.homeURL,
	}
	if token != "" {
		headers["X-XSRF-TOKEN"] = token
	}
	var body []byte
	err = b.base.Do(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     b.queryURL,
		Headers: headers,
		QueryParams: map[string][]string{
			"symbol":     {symbol},
			"data":       {"daily"},
			"maxrecords": {strconv.Itoa(end.DaysSince(start) + 10)},
			"start":      {strings.ReplaceAll(start.String(), "-", "")},
			"end":        {strings.ReplaceAll(end.String(), "-", "")},
			"order":      {"asc"},
			"volume":     {"contract"},
		},
	}, &body)
	return body, err
}

func (b *BarchartClient) token(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.xsrf != "" {
		return b.xsrf, nil
	}
	err := b.base.Do(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     b.homeURL,
		Headers: map[string]string{"User-Agent": DefaultUserAgent, "Accept": "text/html"},
	}, nil)
	if err != nil {
		return "", err
	}
	raw := b.base.Cookie(b.homeURL, xsrfCookie)
	if v, err := url.QueryUnescape(raw); err == nil {
		raw = v
	}
	b.xsrf = raw
	return b.xsrf, nil
}

func (b *BarchartClient) resetToken() {
	b.mu.Lock()
	b.xsrf = ""
	b.mu.Unlock()
}

// parseBarchartRows reads "symbol,date,open,high,low,close,volume" lines.
// Headers and malformed rows are skipped.
func parseBarchartRows(body []byte) map[util.Date]float64 {
	out := make(map[util.Date]float64)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 7 || strings.EqualFold(parts[0], "symbol") {
			continue
		}
		d, ok := util.ParseDate(strings.TrimSpace(parts[1]))
		if !ok {
			continue
		}
		v, ok := util.ParseFloat(parts[5])
		if !ok {
			continue
		}
		out[d] = v
	}
	return out
}
