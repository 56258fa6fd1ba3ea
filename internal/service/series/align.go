// Package series joins, resamples and transforms date-indexed value series.
package series

import (
	"slices"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
	"CapitalDash/pkg/util"
)

// Mode selects how Align builds the shared axis.
type Mode int

const (
	// Union keeps every date seen in any input; gaps become null.
	Union Mode = iota
	// Intersect keeps only dates where every input has a value.
	Intersect
)

// WeeklyThresholdDays is the shortest lookback that is served weekly.
const WeeklyThresholdDays = 365

// Align projects every input onto one sorted date axis. When a date repeats
// inside one input, the later point wins. The output keeps input order and
// symbols.
func Align(in []models.Series, mode Mode) []models.Series {
	lookups := make([]map[util.Date]null.Float, len(in))
	seen := make(map[util.Date]int)
	for i, s := range in {
		m := make(map[util.Date]null.Float, len(s.Points))
		for _, p := range s.Points {
			m[p.Time] = p.Value
		}
		lookups[i] = m
		for d, v := range m {
			if mode == Intersect && !v.Valid {
				continue
			}
			seen[d]++
		}
	}

	axis := make([]util.Date, 0, len(seen))
	for d, n := range seen {
		if mode == Intersect && n != len(in) {
			continue
		}
		axis = append(axis, d)
	}
	slices.SortFunc(axis, util.Date.Compare)

	out := make([]models.Series, len(in))
	for i, s := range in {
		pts := make([]models.ValuePoint, len(axis))
		for j, d := range axis {
			pts[j] = models.ValuePoint{Time: d, Value: lookups[i][d]}
		}
		out[i] = models.Series{Symbol: s.Symbol, Points: pts}
	}
	return out
}

// ShouldDownsample reports whether a lookback is long enough for weekly output.
func ShouldDownsample(days int) bool { return days >= WeeklyThresholdDays }

// Weekly keeps the first point and then every point at least seven calendar
// days after the last kept one. Values are not averaged.
func Weekly(points []models.ValuePoint) []models.ValuePoint {
	if len(points) == 0 {
		return points
	}
	out := make([]models.ValuePoint, 0, len(points)/7+2)
	last := points[0].Time
	out = append(out, points[0])
	for _, p := range points[1:] {
		if p.Time.DaysSince(last) >= 7 {
			out = append(out, p)
			last = p.Time
		}
	}
	return out
}

// ForwardFill places the latest src value at or before each axis date.
// Axis dates before the first valid src value are omitted.
func ForwardFill(axis []util.Date, src []models.ValuePoint) []models.ValuePoint {
	out := make([]models.ValuePoint, 0, len(axis))
	var (
		j    int
		last null.Float
	)
	for _, d := range axis {
		for j < len(src) && !src[j].Time.After(d) {
			if src[j].Value.Valid {
				last = src[j].Value
			}
			j++
		}
		if last.Valid {
			out = append(out, models.ValuePoint{Time: d, Value: last})
		}
	}
	return out
}

// FromBars extracts one column of bars as a value series.
func FromBars(bars []models.Bar, field models.BarField) []models.ValuePoint {
	out := make([]models.ValuePoint, len(bars))
	for i, b := range bars {
		out[i] = models.ValuePoint{Time: b.Time, Value: b.Get(field)}
	}
	return out
}

// Dates returns the axis of points.
func Dates(points []models.ValuePoint) []util.Date {
	out := make([]util.Date, len(points))
	for i, p := range points {
		out[i] = p.Time
	}
	return out
}

// DropNull removes points without a value.
func DropNull(points []models.ValuePoint) []models.ValuePoint {
	out := make([]models.ValuePoint, 0, len(points))
	for _, p := range points {
		if p.Value.Valid {
			out = append(out, p)
		}
	}
	return out
}

// Since keeps points dated on or after start.
func Since(points []models.ValuePoint, start util.Date) []models.ValuePoint {
	i, _ := slices.BinarySearchFunc(points, start, func(p models.ValuePoint, d util.Date) int {
		return p.Time.Compare(d)
	})
	return points[i:]
}

// BarsBetween keeps bars dated in [start, end]. bars must be sorted.
func BarsBetween(bars []models.Bar, start, end util.Date) []models.Bar {
	lo, _ := slices.BinarySearchFunc(bars, start, func(b models.Bar, d util.Date) int {
		return b.Time.Compare(d)
	})
	hi := lo
	for hi < len(bars) && !bars[hi].Time.After(end) {
		hi++
	}
	return bars[lo:hi]
}
