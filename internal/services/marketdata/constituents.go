package marketdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	"CapitalDash/pkg/util"
)

const DefaultConstituentsURL = "https://raw.githubusercontent.com/pokedo0/index-constituents/main/docs/constituents-%s.csv"

var constituentFiles = map[string]string{
	"sp500":  "sp500",
	"nasdaq": "nasdaq100",
}

// ConstituentsClient derives advancers and decliners from the daily
// constituents snapshot, whose Chg column holds the percent change.
type ConstituentsClient struct {
	base *HTTPServiceBase
	url  string
}

// NewConstituentsClient takes a URL pattern with one %s for the index file name.
func NewConstituentsClient(base *HTTPServiceBase, urlPattern string) *ConstituentsClient {
	if urlPattern == "" {
		urlPattern = DefaultConstituentsURL
	}
	return &ConstituentsClient{base: base, url: urlPattern}
}

func (c *ConstituentsClient) FetchAdvanceDecline(ctx context.Context, market string) (models.AdvanceDecline, error) {
	file, ok := constituentFiles[market]
	if !ok {
		return models.AdvanceDecline{}, fmt.Errorf("%w: unknown market %q", domain.ErrInvalidRequest, market)
	}
	var body []byte
	err := c.base.DoWithRetry(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    fmt.Sprintf(c.url, file),
	}, &body)
	if err != nil {
		return models.AdvanceDecline{}, err
	}
	ad, err := countAdvanceDecline(body)
	if err != nil {
		return models.AdvanceDecline{}, c.base.Unavailable("constituents %s: %v", market, err)
	}
	return ad, nil
}

func countAdvanceDecline(body []byte) (models.AdvanceDecline, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return models.AdvanceDecline{}, fmt.Errorf("read header: %w", err)
	}
	symCol, chgCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "symbol":
			symCol = i
		case "chg", "chg%", "change%":
			chgCol = i
		}
	}
	if symCol < 0 || chgCol < 0 {
		return models.AdvanceDecline{}, fmt.Errorf("missing Symbol or Chg column")
	}

	var up, down, flat int
	seen := make(map[string]struct{})
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.AdvanceDecline{}, fmt.Errorf("read row: %w", err)
		}
		if len(rec) <= symCol || len(rec) <= chgCol {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(rec[symCol]))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		chg, ok := util.ParseFloat(strings.Trim(strings.TrimSpace(rec[chgCol]), "()"))
		if !ok {
			continue
		}
		switch {
		case chg > 0:
			up++
		case chg < 0:
			down++
		default:
			flat++
		}
	}
	total := up + down + flat
	if total == 0 {
		return models.AdvanceDecline{}, fmt.Errorf("no rows with a change value")
	}
	return models.AdvanceDecline{
		AdvancersPct: float64(up) / float64(total) * 100,
		DeclinersPct: float64(down) / float64(total) * 100,
		Tracked:      total,
	}, nil
}
