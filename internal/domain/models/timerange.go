package models

import "strings"

// TimeRange is a chart window token such as "1Y".
type TimeRange string

const (
	Range1W TimeRange = "1W"
	Range1M TimeRange = "1M"
	Range3M TimeRange = "3M"
	Range6M TimeRange = "6M"
	Range1Y TimeRange = "1Y"
	Range2Y TimeRange = "2Y"
	Range5Y TimeRange = "5Y"
)

var rangeDays = map[TimeRange]int{
	Range1W: 7,
	Range1M: 30,
	Range3M: 90,
	Range6M: 180,
	Range1Y: 365,
	Range2Y: 730,
	Range5Y: 1825,
}

// TimeRanges lists supported tokens from shortest to longest.
func TimeRanges() []TimeRange {
	return []TimeRange{Range1W, Range1M, Range3M, Range6M, Range1Y, Range2Y, Range5Y}
}

// ParseTimeRange matches tokens case-insensitively.
func ParseTimeRange(s string) (TimeRange, bool) {
	r := TimeRange(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rangeDays[r]; !ok {
		return "", false
	}
	return r, true
}

// Days returns the lookback in calendar days, 0 for unknown tokens.
func (r TimeRange) Days() int { return rangeDays[r] }

// TimeRangeInfo is one entry of the time-ranges listing.
type TimeRangeInfo struct {
	Key  TimeRange `json:"key"`
	Days int       `json:"days"`
}
