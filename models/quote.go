package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one rung of the bid or ask ladder
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// Quote is a normalized realtime quote. Build it with NewQuote so that
// Change and ChangePercent are always derived from Price and PrevClose.
type Quote struct {
	Symbol        string       `json:"symbol"`
	Name          string       `json:"name"`
	Open          float64      `json:"open"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	Price         float64      `json:"price"`
	PrevClose     float64      `json:"prevClose"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"changePercent"`
	Volume        int64        `json:"volume"`
	Amount        float64      `json:"amount"`
	Date          string       `json:"date,omitempty"`
	Time          string       `json:"time,omitempty"`
	Bids          []PriceLevel `json:"bids,omitempty"`
	Asks          []PriceLevel `json:"asks,omitempty"`
	Source        string       `json:"source"`
}

// QuoteFields carries the raw values an adapter parsed
type QuoteFields struct {
	Symbol    string
	Name      string
	Open      float64
	High      float64
	Low       float64
	Price     float64
	PrevClose float64
	Volume    int64
	Amount    float64
	Date      string
	Time      string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Source    string
}

// NewQuote rounds prices to 2 decimals and derives change/changePercent
// from the rounded price and previous close.
func NewQuote(f QuoteFields) Quote {
	q := Quote{
		Symbol:    f.Symbol,
		Name:      f.Name,
		Open:      Round2(f.Open),
		High:      Round2(f.High),
		Low:       Round2(f.Low),
		Volume:    f.Volume,
		Amount:    Round2(f.Amount),
		Date:      f.Date,
		Time:      f.Time,
		Bids:      roundLevels(f.Bids),
		Asks:      roundLevels(f.Asks),
		Source:    f.Source,
	}
	q.Price, q.PrevClose, q.Change, q.ChangePercent = derive(f.Price, f.PrevClose)
	return q
}

// WithPrices returns a copy of q with price and previous close replaced and
// the derived fields recomputed.
func (q Quote) WithPrices(price, prevClose float64) Quote {
	out := q
	out.Bids = append([]PriceLevel(nil), q.Bids...)
	out.Asks = append([]PriceLevel(nil), q.Asks...)
	out.Price, out.PrevClose, out.Change, out.ChangePercent = derive(price, prevClose)
	return out
}

// HasDepth reports whether the quote carried a bid/ask ladder
func (q Quote) HasDepth() bool {
	return len(q.Bids) > 0 || len(q.Asks) > 0
}

func derive(rawPrice, rawPrevClose float64) (price, prevClose, change, changePercent float64) {
	p := decimal.NewFromFloat(rawPrice).Round(2)
	pc := decimal.NewFromFloat(rawPrevClose).Round(2)
	ch := p.Sub(pc)

	pct := decimal.Zero
	if !pc.IsZero() {
		pct = ch.Div(pc).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return p.InexactFloat64(), pc.InexactFloat64(), ch.Round(2).InexactFloat64(), pct.InexactFloat64()
}

// Round2 applies the shared 2-decimal rounding rule
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func roundLevels(levels []PriceLevel) []PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, PriceLevel{Price: Round2(l.Price), Volume: l.Volume})
	}
	return out
}

// OrderBookDepth is a bid/ask snapshot. Bids are sorted by descending price,
// asks by ascending price. Either side may be empty.
type OrderBookDepth struct {
	Symbol           string       `json:"symbol"`
	Bids             []PriceLevel `json:"bids"`
	Asks             []PriceLevel `json:"asks"`
	Timestamp        time.Time    `json:"timestamp"`
	IsHistoricalData bool         `json:"isHistoricalData"`
}

// NewOrderBookDepth sorts both sides and drops levels without a positive price
func NewOrderBookDepth(symbol string, bids, asks []PriceLevel, ts time.Time) OrderBookDepth {
	d := OrderBookDepth{
		Symbol:    symbol,
		Bids:      cleanLevels(bids),
		Asks:      cleanLevels(asks),
		Timestamp: ts,
	}
	sort.SliceStable(d.Bids, func(i, j int) bool { return d.Bids[i].Price > d.Bids[j].Price })
	sort.SliceStable(d.Asks, func(i, j int) bool { return d.Asks[i].Price < d.Asks[j].Price })
	return d
}

// IsEmpty reports whether both sides are empty
func (d OrderBookDepth) IsEmpty() bool {
	return len(d.Bids) == 0 && len(d.Asks) == 0
}

func cleanLevels(levels []PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Price <= 0 {
			continue
		}
		out = append(out, PriceLevel{Price: Round2(l.Price), Volume: l.Volume})
	}
	return out
}
