package analysis

import (
	"sort"

	"finance_backend/models"
)

// MarketBreadth is the cross-sectional gain/loss profile of a basket
type MarketBreadth struct {
	Dates      []string   `json:"dates"`
	AvgGains   []float64  `json:"avgGains"`
	AvgLosses  []float64  `json:"avgLosses"`
	RSI        []*float64 `json:"rsi"`
	StockCount int        `json:"stockCount"`
}

// CalculateMarketBreadth averages each day's percent changes across the
// basket, separately for gainers and losers, over the trailing days dates,
// and feeds the two series into the Wilder recurrence. A zero change counts
// as neither gain nor loss. A symbol without a bar on a date is left out of
// that date's averages.
func CalculateMarketBreadth(series map[string][]models.KLineBar, days, period int) MarketBreadth {
	changes := make(map[string][]float64)
	stockCount := 0

	for _, bars := range series {
		bars = models.NormalizeBars(bars)
		if len(bars) < 2 {
			continue
		}
		stockCount++
		for i := 1; i < len(bars); i++ {
			prev := bars[i-1].Close
			if prev <= 0 {
				continue
			}
			pct := (bars[i].Close - prev) / prev * 100
			changes[bars[i].Date] = append(changes[bars[i].Date], pct)
		}
	}

	dates := make([]string, 0, len(changes))
	for d := range changes {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if days > 0 && len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	res := MarketBreadth{
		Dates:      dates,
		AvgGains:   make([]float64, len(dates)),
		AvgLosses:  make([]float64, len(dates)),
		StockCount: stockCount,
	}

	rawGains := make([]float64, len(dates))
	rawLosses := make([]float64, len(dates))
	for i, d := range dates {
		var gainSum, lossSum float64
		var gainN, lossN int
		for _, pct := range changes[d] {
			switch {
			case pct > 0:
				gainSum += pct
				gainN++
			case pct < 0:
				lossSum += -pct
				lossN++
			}
		}
		if gainN > 0 {
			rawGains[i] = gainSum / float64(gainN)
		}
		if lossN > 0 {
			rawLosses[i] = lossSum / float64(lossN)
		}
		res.AvgGains[i] = models.Round2(rawGains[i])
		res.AvgLosses[i] = models.Round2(rawLosses[i])
	}

	res.RSI = PadLeft(WilderRSI(rawGains, rawLosses, period), len(dates))
	return res
}
