package services

import (
	"context"
	"fmt"
	"time"

	"finance_backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const storeBatchSize = 200

var shanghaiTZ = time.FixedZone("CST", 8*3600)

// FinanceStore writes refreshed market data into the relational store
type FinanceStore struct {
	db *gorm.DB
}

// NewFinanceStore creates a store on an open gorm connection
func NewFinanceStore(db *gorm.DB) *FinanceStore {
	return &FinanceStore{db: db}
}

// SaveQuotes upserts one snapshot per (symbol, trade date, source)
func (s *FinanceStore) SaveQuotes(ctx context.Context, quotes map[string]models.Quote, fetchedAt time.Time) error {
	if len(quotes) == 0 {
		return nil
	}
	rows := make([]models.QuoteSnapshot, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, models.NewQuoteSnapshot(q, tradeDate(q.Date, fetchedAt), fetchedAt))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "trade_date"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "open", "high", "low", "price", "prev_close", "change", "change_percent", "volume", "amount", "fetched_at",
		}),
	}).CreateInBatches(&rows, storeBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save quote snapshots: %w", err)
	}
	return nil
}

// SaveKLines upserts bars of one (symbol, period) sequence
func (s *FinanceStore) SaveKLines(ctx context.Context, symbol string, period models.Period, source string, bars []models.KLineBar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]models.KLineRecord, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, models.NewKLineRecord(symbol, period, source, b))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "period"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "amount", "source", "updated_at"}),
	}).CreateInBatches(&rows, storeBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save K-lines for %s: %w", symbol, err)
	}
	return nil
}

// LoadKLines returns up to limit of the latest persisted bars of one
// (symbol, period) sequence, oldest first. A limit of zero or less returns
// the whole sequence.
func (s *FinanceStore) LoadKLines(ctx context.Context, symbol string, period models.Period, limit int) ([]models.KLineBar, error) {
	var rows []models.KLineRecord
	query := s.db.WithContext(ctx).
		Where("symbol = ? AND period = ?", symbol, string(period)).
		Order("date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load K-lines for %s: %w", symbol, err)
	}

	bars := make([]models.KLineBar, len(rows))
	for i, row := range rows {
		bars[len(rows)-1-i] = row.Bar()
	}
	return bars, nil
}

// SaveIndices upserts one index snapshot per (code, date)
func (s *FinanceStore) SaveIndices(ctx context.Context, quotes map[string]models.Quote, fetchedAt time.Time) error {
	if len(quotes) == 0 {
		return nil
	}
	rows := make([]models.MarketIndex, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, models.NewMarketIndex(q, tradeDate(q.Date, fetchedAt)))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "open", "high", "low", "close", "prev_close", "volume", "amount", "change", "change_percent", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save market indices: %w", err)
	}
	return nil
}

func tradeDate(quoteDate string, fetchedAt time.Time) string {
	if quoteDate != "" {
		return quoteDate
	}
	return fetchedAt.In(shanghaiTZ).Format("2006-01-02")
}
