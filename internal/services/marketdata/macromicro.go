package marketdata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	"CapitalDash/pkg/util"
)

const DefaultForwardPEURL = "https://en.macromicro.me/series/20052/sp500-forward-pe-ratio"

var embeddedSeries = regexp.MustCompile(`JSON\.parse\(atob\("([A-Za-z0-9+/=]+)"\)\)`)

// ForwardPEClient scrapes the S&P 500 forward P/E series embedded in the
// MacroMicro page as base64 encoded JSON.
type ForwardPEClient struct {
	base *HTTPServiceBase
	url  string
}

func NewForwardPEClient(base *HTTPServiceBase, url string) *ForwardPEClient {
	if url == "" {
		url = DefaultForwardPEURL
	}
	return &ForwardPEClient{base: base, url: url}
}

func (f *ForwardPEClient) FetchForwardPE(ctx context.Context) ([]models.ValuePoint, error) {
	var body []byte
	err := f.base.DoWithRetry(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     f.url,
		Headers: map[string]string{"User-Agent": DefaultUserAgent, "Accept": "text/html"},
	}, &body)
	if err != nil {
		return nil, err
	}
	return f.parse(string(body))
}

func (f *ForwardPEClient) parse(html string) ([]models.ValuePoint, error) {
	if strings.Contains(html, "Just a moment") {
		return nil, f.base.Unavailable("forward pe: blocked by anti-bot challenge")
	}
	m := embeddedSeries.FindStringSubmatch(html)
	if m == nil {
		return nil, f.base.Unavailable("forward pe: embedded series not found")
	}
	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return nil, f.base.Unavailable("forward pe: decode base64: %v", err)
	}
	var rows [][]json.Number
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, f.base.Unavailable("forward pe: decode rows: %v", err)
	}

	byDate := make(map[util.Date]float64, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		ts, err1 := row[0].Float64()
		v, err2 := row[1].Float64()
		if err1 != nil || err2 != nil {
			continue
		}
		byDate[util.DateOf(time.UnixMilli(int64(ts)).UTC())] = v
	}
	if len(byDate) == 0 {
		return nil, f.base.Unavailable("forward pe: empty series")
	}
	return sortedPoints(byDate), nil
}
