package series

import (
	"errors"
	"math"

	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/stat"

	"CapitalDash/internal/domain/models"
)

// ErrAxisMismatch is returned when two series do not share one date axis.
var ErrAxisMismatch = errors.New("series axes differ")

func nonZero(v null.Float) bool {
	return v.Valid && v.Float64 != 0 && !math.IsNaN(v.Float64) && !math.IsInf(v.Float64, 0)
}

// FirstValidIndex returns the index of the first non-null, non-zero value or -1.
func FirstValidIndex(points []models.ValuePoint) int {
	for i, p := range points {
		if nonZero(p.Value) {
			return i
		}
	}
	return -1
}

// ToRelative expresses each value as percent change from the value at
// baselineIndex. A null or zero baseline yields an all-null series.
func ToRelative(points []models.ValuePoint, baselineIndex int) []models.ValuePoint {
	out := make([]models.ValuePoint, len(points))
	var base null.Float
	if baselineIndex >= 0 && baselineIndex < len(points) {
		base = points[baselineIndex].Value
	}
	for i, p := range points {
		out[i].Time = p.Time
		if !nonZero(base) || !p.Value.Valid {
			continue
		}
		out[i].Value = null.FloatFrom(100 * (p.Value.Float64/base.Float64 - 1))
	}
	return out
}

// ToRatio divides num by den point by point and multiplies by scale. Both
// inputs must share the same dates in the same order.
func ToRatio(num, den []models.ValuePoint, scale float64) ([]models.ValuePoint, error) {
	if len(num) != len(den) {
		return nil, ErrAxisMismatch
	}
	out := make([]models.ValuePoint, len(num))
	for i := range num {
		if !num[i].Time.Equal(den[i].Time) {
			return nil, ErrAxisMismatch
		}
		out[i].Time = num[i].Time
		if !num[i].Value.Valid || !nonZero(den[i].Value) {
			continue
		}
		out[i].Value = null.FloatFrom(scale * num[i].Value.Float64 / den[i].Value.Float64)
	}
	return out, nil
}

// Rebase scales points so the first usable value equals base.
func Rebase(points []models.ValuePoint, base float64) []models.ValuePoint {
	out := make([]models.ValuePoint, len(points))
	idx := FirstValidIndex(points)
	for i, p := range points {
		out[i].Time = p.Time
		if idx < 0 || !p.Value.Valid {
			continue
		}
		out[i].Value = null.FloatFrom(p.Value.Float64 / points[idx].Value.Float64 * base)
	}
	return out
}

// MovingAverage is a trailing simple mean over window points. Null inputs
// are dropped first, so n valid inputs give n-window+1 outputs.
func MovingAverage(points []models.ValuePoint, window int) []models.ValuePoint {
	valid := DropNull(points)
	if window <= 0 || len(valid) < window {
		return []models.ValuePoint{}
	}
	values := make([]float64, len(valid))
	for i, p := range valid {
		values[i] = p.Value.Float64
	}
	out := make([]models.ValuePoint, 0, len(valid)-window+1)
	for i := window - 1; i < len(valid); i++ {
		out = append(out, models.ValuePoint{
			Time:  valid[i].Time,
			Value: null.FloatFrom(stat.Mean(values[i+1-window:i+1], nil)),
		})
	}
	return out
}

// DrawdownResult holds the per-point drawdown in percent and its summary.
type DrawdownResult struct {
	Points  []models.ValuePoint
	Current float64
	Max     float64
}

// Drawdown measures each value against the running peak. Values are never
// positive and are exactly zero at a new peak. Null points are skipped.
func Drawdown(points []models.ValuePoint) DrawdownResult {
	res := DrawdownResult{Points: make([]models.ValuePoint, 0, len(points))}
	peak := math.Inf(-1)
	for _, p := range points {
		if !p.Value.Valid || p.Value.Float64 <= 0 {
			continue
		}
		v := p.Value.Float64
		if v > peak {
			peak = v
		}
		dd := 100 * (v/peak - 1)
		res.Points = append(res.Points, models.ValuePoint{Time: p.Time, Value: null.FloatFrom(dd)})
		res.Current = dd
		if dd < res.Max {
			res.Max = dd
		}
	}
	return res
}

// ChangePct returns the percent change between the last two valid values.
func ChangePct(points []models.ValuePoint) (last, prev float64, ok bool) {
	found := 0
	for i := len(points) - 1; i >= 0 && found < 2; i-- {
		if !nonZero(points[i].Value) {
			continue
		}
		if found == 0 {
			last = points[i].Value.Float64
		} else {
			prev = points[i].Value.Float64
		}
		found++
	}
	return last, prev, found == 2
}
