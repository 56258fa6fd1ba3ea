// Package features derives per-symbol statistics from daily bars.
package features

import (
	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/stat"

	"CapitalDash/internal/domain/models"
	"CapitalDash/pkg/util"
)

// AvgVolumeWindow is the trailing window for the average volume baseline.
const AvgVolumeWindow = 60

// DayChange compares the last two valid closes.
func DayChange(bars []models.Bar) (last, change, changePct float64, ok bool) {
	var closes []float64
	for i := len(bars) - 1; i >= 0 && len(closes) < 2; i-- {
		if c := bars[i].Close; c.Valid {
			closes = append(closes, c.Float64)
		}
	}
	if len(closes) < 2 || closes[1] == 0 {
		return 0, 0, 0, false
	}
	last, prev := closes[0], closes[1]
	return last, last - prev, (last - prev) / prev * 100, true
}

// VolumeStats returns the latest volume in millions and its share of the
// mean volume over the last window bars, both null when unknown.
func VolumeStats(bars []models.Bar, window int) (millions, pctOfAvg null.Float) {
	n := len(bars)
	if n == 0 || !bars[n-1].Volume.Valid {
		return null.Float{}, null.Float{}
	}
	latest := bars[n-1].Volume.Float64
	millions = null.FloatFrom(latest / 1e6)

	var hist []float64
	for i := n - 1; i >= 0 && len(hist) < window; i-- {
		if v := bars[i].Volume; v.Valid && v.Float64 > 0 {
			hist = append(hist, v.Float64)
		}
	}
	if len(hist) == 0 {
		return millions, null.Float{}
	}
	avg := stat.Mean(hist, nil)
	if avg == 0 {
		return millions, null.Float{}
	}
	return millions, null.FloatFrom(latest / avg * 100)
}

// CloseOnOrBefore returns the last valid close dated on or before the
// given day, used for period baselines such as year-to-date.
func CloseOnOrBefore(bars []models.Bar, day util.Date) (float64, bool) {
	for i := len(bars) - 1; i >= 0; i-- {
		b := bars[i]
		if b.Time.After(day) || !b.Close.Valid || b.Close.Float64 <= 0 {
			continue
		}
		return b.Close.Float64, true
	}
	return 0, false
}
