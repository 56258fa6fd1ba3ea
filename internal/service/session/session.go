// Package session maps instants to US equity trading sessions and picks the
// price field that is authoritative for each of them.
package session

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
)

type Window int

const (
	Overnight Window = iota
	PreMarket
	Regular
	PostMarket
)

func (w Window) String() string {
	switch w {
	case PreMarket:
		return "pre-market"
	case Regular:
		return "regular"
	case PostMarket:
		return "post-market"
	default:
		return "overnight"
	}
}

// Minute-of-day boundaries in Eastern wall-clock time. Each window is
// closed at its start and open at its end.
const (
	preMarketOpen = 4 * 60
	regularOpen   = 9*60 + 30
	regularClose  = 16 * 60
	postClose     = 20 * 60
	minutesPerDay = 24 * 60
)

var eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load location %s: %v", name, err))
	}
	return loc
}

// Location returns the exchange time zone.
func Location() *time.Location { return eastern }

// ClassifyMinute classifies an Eastern wall-clock minute of day.
func ClassifyMinute(minute int) Window {
	m := ((minute % minutesPerDay) + minutesPerDay) % minutesPerDay
	switch {
	case m < preMarketOpen:
		return Overnight
	case m < regularOpen:
		return PreMarket
	case m < regularClose:
		return Regular
	case m < postClose:
		return PostMarket
	default:
		return Overnight
	}
}

// Classify returns the session active at instant. DST is resolved by the
// tz database for the instant's date.
func Classify(instant time.Time) Window {
	et := instant.In(eastern)
	return ClassifyMinute(et.Hour()*60 + et.Minute())
}

// PriceFields are the per-session prices a quote may carry.
type PriceFields struct {
	Regular    null.Float
	PreMarket  null.Float
	PostMarket null.Float
	Overnight  null.Float
}

func FieldsOf(q models.Quote) PriceFields {
	return PriceFields{
		Regular:    q.Regular,
		PreMarket:  q.PreMarket,
		PostMarket: q.PostMarket,
		Overnight:  q.Overnight,
	}
}

func (f PriceFields) field(w Window) null.Float {
	switch w {
	case PreMarket:
		return f.PreMarket
	case PostMarket:
		return f.PostMarket
	case Overnight:
		return f.Overnight
	default:
		return f.Regular
	}
}

// Selection is the chosen price and the session field it came from.
type Selection struct {
	Price  float64
	Source Window
}

var fallbackOrder = []Window{Regular, PostMarket, PreMarket, Overnight}

func usable(v null.Float) bool { return v.Valid && v.Float64 > 0 }

// SelectPrice prefers the field of w and otherwise falls back through
// regular, post-market, pre-market and overnight. ok is false when no field
// carries a positive price.
func SelectPrice(w Window, f PriceFields) (Selection, bool) {
	if v := f.field(w); usable(v) {
		return Selection{Price: v.Float64, Source: w}, true
	}
	for _, fb := range fallbackOrder {
		if v := f.field(fb); usable(v) {
			return Selection{Price: v.Float64, Source: fb}, true
		}
	}
	return Selection{}, false
}

// Resolve reduces q to the price authoritative at instant. Regular prices
// are measured against the previous close, extended-hours prices against
// the regular price.
func Resolve(q models.Quote, instant time.Time) (models.SessionQuote, bool) {
	w := Classify(instant)
	sel, ok := SelectPrice(w, FieldsOf(q))
	if !ok {
		return models.SessionQuote{}, false
	}
	out := models.SessionQuote{
		Symbol:        q.Symbol,
		Session:       w.String(),
		PriceSource:   sel.Source.String(),
		Price:         null.FloatFrom(sel.Price),
		PreviousClose: q.PreviousClose,
		AsOf:          instant,
	}
	baseline := q.PreviousClose
	if sel.Source != Regular && usable(q.Regular) {
		baseline = q.Regular
	}
	if usable(baseline) {
		out.Baseline = baseline
		out.ChangePct = null.FloatFrom((sel.Price/baseline.Float64 - 1) * 100)
	}
	return out, true
}
