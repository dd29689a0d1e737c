package models

import (
	"fmt"
	"sort"
	"strings"
)

// Period is the K-line bucket size
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	Period5Min    Period = "5min"
	Period15Min   Period = "15min"
	Period30Min   Period = "30min"
	Period60Min   Period = "60min"
)

// AllPeriods lists the supported periods
var AllPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly, Period5Min, Period15Min, Period30Min, Period60Min}

// ParsePeriod validates a period string. Empty means daily.
func ParsePeriod(s string) (Period, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PeriodDaily, nil
	}
	for _, p := range AllPeriods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported period %q", s)
}

// IsIntraday reports whether bars carry a time of day
func (p Period) IsIntraday() bool {
	switch p {
	case Period5Min, Period15Min, Period30Min, Period60Min:
		return true
	}
	return false
}

// KLineBar is one OHLCV observation. Date is "2006-01-02" for daily and
// longer periods and "2006-01-02 15:04" for intraday periods.
type KLineBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	Amount float64 `json:"amount,omitempty"`
}

// NormalizeBars sorts bars chronologically and drops duplicate dates,
// keeping the last occurrence.
func NormalizeBars(bars []KLineBar) []KLineBar {
	if len(bars) == 0 {
		return bars
	}
	byDate := make(map[string]int, len(bars))
	out := make([]KLineBar, 0, len(bars))
	for _, b := range bars {
		if b.Date == "" {
			continue
		}
		if idx, ok := byDate[b.Date]; ok {
			out[idx] = b
			continue
		}
		byDate[b.Date] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Closes extracts the close prices
func Closes(bars []KLineBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// TimeSeriesPoint is one minute of the intraday price line
type TimeSeriesPoint struct {
	Time     string  `json:"time"`
	Price    float64 `json:"price"`
	AvgPrice float64 `json:"avgPrice"`
	Volume   int64   `json:"volume"`
	Amount   float64 `json:"amount"`
}
