package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finance_backend/config"
	"finance_backend/logger"
	"finance_backend/models"
	"finance_backend/services/datafetcher"

	"go.uber.org/zap"
)

// RefreshSummary reports what one refresh run wrote
type RefreshSummary struct {
	Quotes        int           `json:"quotes"`
	KLineSymbols  int           `json:"klineSymbols"`
	KLineFailures int           `json:"klineFailures"`
	Indices       int           `json:"indices"`
	Duration      time.Duration `json:"duration"`
}

// DataRefresher runs the full refresh: watchlist quotes, daily K-lines and
// the index overview, all fetched past the cache and written to the store.
type DataRefresher struct {
	market    *MarketDataService
	store     *FinanceStore
	watchlist *config.Watchlist
	log       *zap.SugaredLogger
}

// NewDataRefresher creates the refresh routine
func NewDataRefresher(market *MarketDataService, store *FinanceStore, watchlist *config.Watchlist) *DataRefresher {
	if watchlist == nil {
		watchlist = config.DefaultWatchlist()
	}
	return &DataRefresher{
		market:    market,
		store:     store,
		watchlist: watchlist,
		log:       logger.Named("refresh"),
	}
}

// Refresh fails when the quote batch cannot be fetched, when any store write
// fails, or when every K-line fetch fails. Individual K-line and overview
// failures are logged and counted.
func (r *DataRefresher) Refresh(ctx context.Context) (RefreshSummary, error) {
	start := time.Now()
	var summary RefreshSummary

	quotes, err := r.market.RefreshQuotes(ctx, r.watchlist.Symbols)
	if err != nil {
		return summary, fmt.Errorf("quote refresh failed: %w", err)
	}
	if err := r.store.SaveQuotes(ctx, quotes, start); err != nil {
		return summary, err
	}
	summary.Quotes = len(quotes)

	source := r.market.DefaultSource()
	var klineErrs []error
	for _, sym := range r.watchlist.Symbols {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		bars, err := r.market.GetKLineData(ctx, sym, models.PeriodDaily, r.watchlist.KLineCount, source, true)
		if err != nil {
			r.log.Warnf("K-line refresh failed for %s: %v", sym, err)
			klineErrs = append(klineErrs, err)
			continue
		}
		if err := r.store.SaveKLines(ctx, sym, models.PeriodDaily, source, bars); err != nil {
			return summary, err
		}
		summary.KLineSymbols++
	}
	summary.KLineFailures = len(klineErrs)
	if summary.KLineSymbols == 0 && len(klineErrs) > 0 {
		return summary, fmt.Errorf("all K-line fetches failed: %w", errors.Join(klineErrs...))
	}

	overview, err := r.market.overview(ctx, datafetcher.FetchOptions{ForceRefresh: true})
	if err != nil {
		r.log.Warnf("Index overview refresh failed: %v", err)
	} else {
		if err := r.store.SaveIndices(ctx, overview, start); err != nil {
			return summary, err
		}
		summary.Indices = len(overview)
	}

	summary.Duration = time.Since(start)
	r.log.Infof("Refresh completed: quotes=%d klines=%d (failed %d) indices=%d in %v",
		summary.Quotes, summary.KLineSymbols, summary.KLineFailures, summary.Indices, summary.Duration)
	return summary, nil
}

// Run adapts Refresh to the scheduler's job signature
func (r *DataRefresher) Run(ctx context.Context) error {
	_, err := r.Refresh(ctx)
	return err
}
