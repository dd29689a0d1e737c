package analysis

import (
	"finance_backend/models"
)

// Default indicator parameters
const (
	DefaultRSIPeriod  = 14
	DefaultSMAPeriod  = 20
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// CalculateSMA returns the simple moving average of closes aligned with bars.
// The first period-1 positions are nil.
func CalculateSMA(bars []models.KLineBar, period int) []*float64 {
	return sma(models.Closes(bars), period)
}

func sma(values []float64, period int) []*float64 {
	out := make([]*float64, len(values))
	if period < 1 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = ptr(sum / float64(period))
		}
	}
	return out
}

// CalculateEMA seeds with the simple mean of the first period values and then
// applies EMA_t = v_t*k + EMA_{t-1}*(1-k) with k = 2/(period+1).
func CalculateEMA(values []float64, period int) []*float64 {
	out := make([]*float64, len(values))
	if period < 1 || len(values) < period {
		return out
	}

	k := 2.0 / float64(period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	out[period-1] = ptr(ema)

	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ptr(ema)
	}
	return out
}

// MACDSeries holds the three MACD lines, each aligned with the input bars
type MACDSeries struct {
	MACD      []*float64 `json:"macd"`
	Signal    []*float64 `json:"signal"`
	Histogram []*float64 `json:"histogram"`
}

// CalculateMACD computes EMA(fast)-EMA(slow), its EMA(signal) and the histogram
func CalculateMACD(bars []models.KLineBar, fast, slow, signal int) MACDSeries {
	n := len(bars)
	res := MACDSeries{
		MACD:      make([]*float64, n),
		Signal:    make([]*float64, n),
		Histogram: make([]*float64, n),
	}
	if fast < 1 || slow < 1 || signal < 1 {
		return res
	}

	closes := models.Closes(bars)
	fastEMA := CalculateEMA(closes, fast)
	slowEMA := CalculateEMA(closes, slow)

	// The signal EMA runs over the defined part of the MACD line only
	start := -1
	var line []float64
	for i := 0; i < n; i++ {
		if fastEMA[i] == nil || slowEMA[i] == nil {
			continue
		}
		if start < 0 {
			start = i
		}
		v := *fastEMA[i] - *slowEMA[i]
		res.MACD[i] = ptr(v)
		line = append(line, v)
	}
	if start < 0 {
		return res
	}

	sig := CalculateEMA(line, signal)
	for j, s := range sig {
		if s == nil {
			continue
		}
		i := start + j
		res.Signal[i] = ptr(*s)
		res.Histogram[i] = ptr(*res.MACD[i] - *s)
	}
	return res
}

// CalculateRSI is Wilder's RSI over closes. The output is shorter than bars
// by period: element 0 belongs to bars[period]. Use PadLeft to align it.
func CalculateRSI(bars []models.KLineBar, period int) []float64 {
	if period < 1 || len(bars) <= period {
		return []float64{}
	}

	gains := make([]float64, 0, len(bars)-1)
	losses := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		if delta > 0 {
			gains = append(gains, delta)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -delta)
		}
	}
	return WilderRSI(gains, losses, period)
}

// WilderRSI runs the Wilder recurrence over parallel gain and loss series.
// The averages are seeded with the simple mean of the first period values,
// then avg_t = (avg_{t-1}*(period-1) + v_t) / period. A zero average loss
// yields 100. Values are unrounded. Output length is len(gains)-period+1.
func WilderRSI(gains, losses []float64, period int) []float64 {
	n := len(gains)
	if len(losses) < n {
		n = len(losses)
	}
	if period < 1 || n < period {
		return []float64{}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, n-period+1)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period; i < n; i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// PadLeft aligns a raw series to length n by prepending nils
func PadLeft(raw []float64, n int) []*float64 {
	out := make([]*float64, n)
	offset := n - len(raw)
	for i, v := range raw {
		if offset+i < 0 {
			continue
		}
		out[offset+i] = ptr(v)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
