package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuoteSnapshot persists the last quote seen for a symbol on a trading day
type QuoteSnapshot struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"size:20;uniqueIndex:idx_quote_symbol_date_source;not null" json:"symbol"`
	TradeDate     string          `gorm:"size:10;uniqueIndex:idx_quote_symbol_date_source;not null" json:"trade_date"`
	Source        string          `gorm:"size:20;uniqueIndex:idx_quote_symbol_date_source;not null" json:"source"`
	Name          string          `json:"name"`
	Open          decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High          decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Price         decimal.Decimal `gorm:"type:decimal(15,2)" json:"price"`
	PrevClose     decimal.Decimal `gorm:"type:decimal(15,2)" json:"prev_close"`
	Change        decimal.Decimal `gorm:"type:decimal(15,2)" json:"change"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,2)" json:"change_percent"`
	Volume        int64           `json:"volume"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// KLineRecord persists one bar of a (symbol, period) sequence
type KLineRecord struct {
	ID     uint            `gorm:"primaryKey" json:"id"`
	Symbol string          `gorm:"size:20;uniqueIndex:idx_kline_symbol_period_date;not null" json:"symbol"`
	Period string          `gorm:"size:10;uniqueIndex:idx_kline_symbol_period_date;not null" json:"period"`
	Date   string          `gorm:"size:16;uniqueIndex:idx_kline_symbol_period_date;not null" json:"date"`
	Open   decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High   decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low    decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Close  decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	Volume int64           `json:"volume"`
	Amount decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	Source string          `gorm:"size:20" json:"source"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MarketIndex represents market indices (SSE Composite, SZSE Component, ChiNext, ...)
type MarketIndex struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Code          string          `gorm:"size:20;uniqueIndex:idx_index_code_date;not null" json:"code"`
	Date          string          `gorm:"size:10;uniqueIndex:idx_index_code_date;not null" json:"date"`
	Name          string          `json:"name"`
	Open          decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High          decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Close         decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	PrevClose     decimal.Decimal `gorm:"type:decimal(15,2)" json:"prev_close"`
	Volume        int64           `json:"volume"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	Change        decimal.Decimal `gorm:"type:decimal(15,2)" json:"change"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,2)" json:"change_percent"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewQuoteSnapshot converts a quote into its persisted row
func NewQuoteSnapshot(q Quote, tradeDate string, fetchedAt time.Time) QuoteSnapshot {
	return QuoteSnapshot{
		Symbol:        q.Symbol,
		TradeDate:     tradeDate,
		Source:        q.Source,
		Name:          q.Name,
		Open:          decimal.NewFromFloat(q.Open),
		High:          decimal.NewFromFloat(q.High),
		Low:           decimal.NewFromFloat(q.Low),
		Price:         decimal.NewFromFloat(q.Price),
		PrevClose:     decimal.NewFromFloat(q.PrevClose),
		Change:        decimal.NewFromFloat(q.Change),
		ChangePercent: decimal.NewFromFloat(q.ChangePercent),
		Volume:        q.Volume,
		Amount:        decimal.NewFromFloat(q.Amount),
		FetchedAt:     fetchedAt,
	}
}

// NewKLineRecord converts a bar into its persisted row
func NewKLineRecord(symbol string, period Period, source string, b KLineBar) KLineRecord {
	return KLineRecord{
		Symbol: symbol,
		Period: string(period),
		Date:   b.Date,
		Open:   decimal.NewFromFloat(b.Open),
		High:   decimal.NewFromFloat(b.High),
		Low:    decimal.NewFromFloat(b.Low),
		Close:  decimal.NewFromFloat(b.Close),
		Volume: b.Volume,
		Amount: decimal.NewFromFloat(b.Amount),
		Source: source,
	}
}

// Bar converts the persisted row back into a KLineBar
func (r KLineRecord) Bar() KLineBar {
	return KLineBar{
		Date:   r.Date,
		Open:   r.Open.InexactFloat64(),
		High:   r.High.InexactFloat64(),
		Low:    r.Low.InexactFloat64(),
		Close:  r.Close.InexactFloat64(),
		Volume: r.Volume,
		Amount: r.Amount.InexactFloat64(),
	}
}

// NewMarketIndex converts an index quote into its persisted row
func NewMarketIndex(q Quote, date string) MarketIndex {
	return MarketIndex{
		Code:          q.Symbol,
		Date:          date,
		Name:          q.Name,
		Open:          decimal.NewFromFloat(q.Open),
		High:          decimal.NewFromFloat(q.High),
		Low:           decimal.NewFromFloat(q.Low),
		Close:         decimal.NewFromFloat(q.Price),
		PrevClose:     decimal.NewFromFloat(q.PrevClose),
		Volume:        q.Volume,
		Amount:        decimal.NewFromFloat(q.Amount),
		Change:        decimal.NewFromFloat(q.Change),
		ChangePercent: decimal.NewFromFloat(q.ChangePercent),
	}
}

// MigrateFinanceModels runs database migrations for the finance tables
func MigrateFinanceModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&QuoteSnapshot{},
		&KLineRecord{},
		&MarketIndex{},
	)
}
