package features

import (
	"math"
	"testing"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
	"CapitalDash/pkg/util"
)

func bars(closes []float64, volumes []float64) []models.Bar {
	out := make([]models.Bar, len(closes))
	start := util.NewDate(2024, 1, 1)
	for i, c := range closes {
		out[i] = models.Bar{Time: start.AddDays(i), Close: null.FloatFrom(c)}
		if i < len(volumes) && volumes[i] >= 0 {
			out[i].Volume = null.FloatFrom(volumes[i])
		}
	}
	return out
}

func TestDayChange_UsesLastTwoValidCloses(t *testing.T) {
	b := bars([]float64{100, 110, 121}, nil)
	b = append(b, models.Bar{Time: util.NewDate(2024, 1, 9)})
	last, change, pct, ok := DayChange(b)
	if !ok {
		t.Fatalf("expected ok")
	}
	if last != 121 || change != 11 || math.Abs(pct-10) > 1e-9 {
		t.Fatalf("unexpected change last=%v change=%v pct=%v", last, change, pct)
	}
	if _, _, _, ok := DayChange(bars([]float64{1}, nil)); ok {
		t.Fatalf("expected single bar to be insufficient")
	}
}

func TestVolumeStats_PercentOfWindowAverage(t *testing.T) {
	b := bars([]float64{1, 1, 1, 1}, []float64{1e6, 3e6, 2e6, 4e6})
	millions, pct := VolumeStats(b, AvgVolumeWindow)
	if millions.Float64 != 4 {
		t.Fatalf("expected 4M, got %v", millions)
	}
	if math.Abs(pct.Float64-160) > 1e-9 {
		t.Fatalf("expected 160%%, got %v", pct)
	}

	millions, pct = VolumeStats(bars([]float64{1}, []float64{-1}), AvgVolumeWindow)
	if millions.Valid || pct.Valid {
		t.Fatalf("expected nulls without volume")
	}
}

func TestCloseOnOrBefore(t *testing.T) {
	b := bars([]float64{10, 20, 30}, nil)
	v, ok := CloseOnOrBefore(b, util.NewDate(2024, 1, 2))
	if !ok || v != 20 {
		t.Fatalf("expected 20, got %v ok=%v", v, ok)
	}
	if _, ok := CloseOnOrBefore(b, util.NewDate(2023, 12, 31)); ok {
		t.Fatalf("expected no close before the series")
	}
}
