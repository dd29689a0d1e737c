package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewQuoteDerivesChange(t *testing.T) {
	q := NewQuote(QuoteFields{
		Symbol:    "sh600519",
		Price:     1688.456,
		PrevClose: 1650.004,
		Open:      1651.111,
		Source:    "sina",
	})

	if q.Price != 1688.46 {
		t.Errorf("expected price 1688.46, got %v", q.Price)
	}
	if q.PrevClose != 1650 {
		t.Errorf("expected prevClose 1650, got %v", q.PrevClose)
	}
	if q.Change != 38.46 {
		t.Errorf("expected change 38.46, got %v", q.Change)
	}
	if q.ChangePercent != 2.33 {
		t.Errorf("expected changePercent 2.33, got %v", q.ChangePercent)
	}
	if q.Open != 1651.11 {
		t.Errorf("expected open 1651.11, got %v", q.Open)
	}
}

func TestNewQuoteZeroPrevClose(t *testing.T) {
	q := NewQuote(QuoteFields{Symbol: "sh600000", Price: 10.5})
	if q.ChangePercent != 0 {
		t.Errorf("expected 0 changePercent with zero prevClose, got %v", q.ChangePercent)
	}
	if q.Change != 10.5 {
		t.Errorf("expected change 10.5, got %v", q.Change)
	}
}

func TestQuoteRoundingInvariant(t *testing.T) {
	cases := []struct{ price, prevClose float64 }{
		{10.123, 9.876},
		{0.015, 0.014},
		{3245.678, 3301.2},
		{99.995, 100},
		{12.34, 12.34},
		{7.1, 8.3},
	}

	for _, tc := range cases {
		q := NewQuote(QuoteFields{Price: tc.price, PrevClose: tc.prevClose})

		p := decimal.NewFromFloat(q.Price)
		pc := decimal.NewFromFloat(q.PrevClose)
		wantChange := p.Sub(pc).Round(2).InexactFloat64()
		wantPct := 0.0
		if !pc.IsZero() {
			wantPct = p.Sub(pc).Div(pc).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}

		if q.Change != wantChange {
			t.Errorf("price=%v prevClose=%v: change %v, recomputed %v", tc.price, tc.prevClose, q.Change, wantChange)
		}
		if q.ChangePercent != wantPct {
			t.Errorf("price=%v prevClose=%v: changePercent %v, recomputed %v", tc.price, tc.prevClose, q.ChangePercent, wantPct)
		}
	}
}

func TestWithPricesDoesNotMutateOriginal(t *testing.T) {
	orig := NewQuote(QuoteFields{
		Symbol:    "sh000001",
		Price:     3000,
		PrevClose: 2990,
		Bids:      []PriceLevel{{Price: 2999, Volume: 1}},
	})
	updated := orig.WithPrices(3010.555, 2990)

	if orig.Price != 3000 || orig.Change != 10 {
		t.Errorf("original quote was mutated: %+v", orig)
	}
	if updated.Price != 3010.56 || updated.Change != 20.56 {
		t.Errorf("unexpected overwrite result: price=%v change=%v", updated.Price, updated.Change)
	}
	updated.Bids[0].Volume = 99
	if orig.Bids[0].Volume != 1 {
		t.Error("WithPrices must copy the bid ladder")
	}
}

func TestNewOrderBookDepthSortsSides(t *testing.T) {
	bids := []PriceLevel{{Price: 10.01, Volume: 3}, {Price: 10.03, Volume: 1}, {Price: 0, Volume: 5}, {Price: 10.02, Volume: 2}}
	asks := []PriceLevel{{Price: 10.06, Volume: 3}, {Price: 10.04, Volume: 1}, {Price: 10.05, Volume: 2}}

	d := NewOrderBookDepth("sz000858", bids, asks, time.Now())

	if len(d.Bids) != 3 {
		t.Fatalf("expected zero-price bid to be dropped, got %d levels", len(d.Bids))
	}
	for i := 1; i < len(d.Bids); i++ {
		if d.Bids[i].Price > d.Bids[i-1].Price {
			t.Errorf("bids not descending: %+v", d.Bids)
		}
	}
	for i := 1; i < len(d.Asks); i++ {
		if d.Asks[i].Price < d.Asks[i-1].Price {
			t.Errorf("asks not ascending: %+v", d.Asks)
		}
	}
	if d.IsHistoricalData {
		t.Error("new depth must not be flagged historical")
	}
}

func TestOrderBookDepthEmptyIsValid(t *testing.T) {
	d := NewOrderBookDepth("sh600519", nil, nil, time.Now())
	if !d.IsEmpty() {
		t.Error("expected empty depth")
	}
	if d.Bids == nil || d.Asks == nil {
		t.Error("empty sides should serialize as [] not null")
	}
}

func TestNormalizeBars(t *testing.T) {
	bars := []KLineBar{
		{Date: "2024-01-03", Close: 3},
		{Date: "2024-01-01", Close: 1},
		{Date: "2024-01-02", Close: 2},
		{Date: "2024-01-03", Close: 33},
		{Date: "", Close: 9},
	}
	out := NormalizeBars(bars)
	if len(out) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(out))
	}
	if out[0].Date != "2024-01-01" || out[2].Date != "2024-01-03" {
		t.Errorf("bars not sorted: %+v", out)
	}
	if out[2].Close != 33 {
		t.Errorf("expected last duplicate to win, got close %v", out[2].Close)
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod(""); err != nil || p != PeriodDaily {
		t.Errorf("empty period should default to daily, got %v %v", p, err)
	}
	if p, err := ParsePeriod("15MIN"); err != nil || p != Period15Min {
		t.Errorf("expected 15min, got %v %v", p, err)
	}
	if _, err := ParsePeriod("yearly"); err == nil {
		t.Error("expected error for unsupported period")
	}
}
