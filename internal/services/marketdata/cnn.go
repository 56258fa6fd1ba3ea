package marketdata

import (
	"context"
	"slices"
	"time"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
	xhttp "CapitalDash/pkg/http"
	"CapitalDash/pkg/util"
)

const DefaultFearGreedURL = "https://production.dataviz.cnn.io/index/fearandgreed/graphdata"

// FearGreedClient reads the CNN Fear & Greed index history.
type FearGreedClient struct {
	base *HTTPServiceBase
	url  string
}

func NewFearGreedClient(base *HTTPServiceBase, url string) *FearGreedClient {
	if url == "" {
		url = DefaultFearGreedURL
	}
	return &FearGreedClient{base: base, url: url}
}

type fearGreedPayload struct {
	Historical struct {
		Data []struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		} `json:"data"`
	} `json:"fear_and_greed_historical"`
}

// FetchFearGreed returns one point per day, x being epoch milliseconds.
func (f *FearGreedClient) FetchFearGreed(ctx context.Context) ([]models.ValuePoint, error) {
	var payload fearGreedPayload
	err := f.base.DoWithRetry(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    f.url,
		Headers: map[string]string{
			"User-Agent": DefaultUserAgent,
			"Accept":     "application/json",
			"Referer":    "https://edition.cnn.com/markets/fear-and-greed",
			"Origin":     "https://edition.cnn.com",
		},
	}, &payload)
	if err != nil {
		return nil, err
	}

	byDate := make(map[util.Date]float64, len(payload.Historical.Data))
	for _, row := range payload.Historical.Data {
		if row.X == nil || row.Y == nil {
			continue
		}
		d := util.DateOf(time.UnixMilli(int64(*row.X)).UTC())
		byDate[d] = *row.Y
	}
	return sortedPoints(byDate), nil
}

func sortedPoints(byDate map[util.Date]float64) []models.ValuePoint {
	out := make([]models.ValuePoint, 0, len(byDate))
	for d, v := range byDate {
		out = append(out, models.ValuePoint{Time: d, Value: null.FloatFrom(v)})
	}
	slices.SortFunc(out, func(a, b models.ValuePoint) int { return a.Time.Compare(b.Time) })
	return out
}
