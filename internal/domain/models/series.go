package models

import (
	"github.com/guregu/null/v6"

	"CapitalDash/pkg/util"
)

// ValuePoint is one observation of a derived series. Value is null when the
// source had no observation for the date.
type ValuePoint struct {
	Time  util.Date  `json:"time"`
	Value null.Float `json:"value"`
}

// Series is an ordered list of points with strictly increasing dates.
type Series struct {
	Symbol string       `json:"symbol"`
	Points []ValuePoint `json:"points"`
}

// Bar is a daily OHLCV row.
type Bar struct {
	Time   util.Date  `json:"time"`
	Open   null.Float `json:"open,omitzero"`
	High   null.Float `json:"high,omitzero"`
	Low    null.Float `json:"low,omitzero"`
	Close  null.Float `json:"close,omitzero"`
	Volume null.Float `json:"volume,omitzero"`
}

// BarField selects one column of a Bar.
type BarField int

const (
	FieldClose BarField = iota
	FieldOpen
	FieldHigh
	FieldLow
	FieldVolume
)

// Get returns the selected column.
func (b Bar) Get(f BarField) null.Float {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldVolume:
		return b.Volume
	default:
		return b.Close
	}
}

// SeriesPayload is the OHLCV response for one symbol.
type SeriesPayload struct {
	Symbol string `json:"symbol"`
	Points []Bar  `json:"points"`
}

// Last returns the final valid value of s.
func (s Series) Last() null.Float {
	for i := len(s.Points) - 1; i >= 0; i-- {
		if s.Points[i].Value.Valid {
			return s.Points[i].Value
		}
	}
	return null.Float{}
}
