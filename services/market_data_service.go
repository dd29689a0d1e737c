package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"finance_backend/logger"
	"finance_backend/models"
	"finance_backend/services/analysis"
	"finance_backend/services/datafetcher"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	depthHistorySize       = 2048
	defaultBreadthDays     = 30
	maxBreadthDays         = 250
	defaultIndicatorBars   = 120
	breadthFetchConcurrent = 4

	msgDepthHistorical = "live order book unavailable, serving last known snapshot"
	msgDepthNoData     = "no order book data: market closed or symbol has no book"
)

// MarketDataOptions configures the aggregation service
type MarketDataOptions struct {
	DefaultSource string
	BreadthBasket []string
	// KLineArchive, when set, serves persisted bars if every live K-line
	// read for a symbol fails.
	KLineArchive KLineArchive
}

// KLineArchive reads previously persisted bars
type KLineArchive interface {
	LoadKLines(ctx context.Context, symbol string, period models.Period, limit int) ([]models.KLineBar, error)
}

// MarketDataService is the single entry point to market data. It picks a
// source per call, reconciles fields across sources and runs indicators.
type MarketDataService struct {
	sources       map[string]datafetcher.MarketDataSource
	defaultSource string
	breadthBasket []string
	depthHistory  *expirable.LRU[string, models.OrderBookDepth]
	klineArchive  KLineArchive
	log           *zap.SugaredLogger
}

// DepthResult is a successful depth lookup. Depth may have empty sides, in
// which case Message explains why.
type DepthResult struct {
	Depth   models.OrderBookDepth
	Message string
}

// NewMarketDataService creates the service. The first source whose name
// matches opts.DefaultSource is the default; if none matches, the first
// source is.
func NewMarketDataService(opts MarketDataOptions, sources ...datafetcher.MarketDataSource) *MarketDataService {
	s := &MarketDataService{
		sources:       make(map[string]datafetcher.MarketDataSource, len(sources)),
		breadthBasket: opts.BreadthBasket,
		depthHistory:  expirable.NewLRU[string, models.OrderBookDepth](depthHistorySize, nil, datafetcher.HistoricalTTL),
		klineArchive:  opts.KLineArchive,
		log:           logger.Named("market"),
	}
	for _, src := range sources {
		s.sources[src.Name()] = src
	}

	s.defaultSource = strings.ToLower(opts.DefaultSource)
	if _, ok := s.sources[s.defaultSource]; !ok && len(sources) > 0 {
		s.log.Warnf("Default source %q not registered, using %s", opts.DefaultSource, sources[0].Name())
		s.defaultSource = sources[0].Name()
	}
	return s
}

// Sources lists registered source names
func (s *MarketDataService) Sources() []string {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MarketDataService) DefaultSource() string { return s.defaultSource }

// StartCacheSweepers starts the background sweeper of every source that has
// one. The returned func stops them all.
func (s *MarketDataService) StartCacheSweepers(interval time.Duration) func() {
	var stops []func()
	for _, name := range s.Sources() {
		if sw, ok := s.sources[name].(datafetcher.CacheSweeper); ok {
			stops = append(stops, sw.StartCacheSweeper(interval))
		}
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

// source resolves a source name. Empty or unknown names fall back to the default.
func (s *MarketDataService) source(name string) datafetcher.MarketDataSource {
	name = strings.ToLower(strings.TrimSpace(name))
	if src, ok := s.sources[name]; ok {
		return src
	}
	if name != "" {
		s.log.Debugf("Unknown source %q, falling back to %s", name, s.defaultSource)
	}
	return s.sources[s.defaultSource]
}

// ResolveSource returns the name of the source a request would be served by
func (s *MarketDataService) ResolveSource(name string) string {
	if src := s.source(name); src != nil {
		return src.Name()
	}
	return ""
}

// GetStockQuote returns the quote of a single symbol
func (s *MarketDataService) GetStockQuote(ctx context.Context, symbol, source string) (models.Quote, error) {
	quotes, err := s.GetMultipleStockQuotes(ctx, []string{symbol}, source)
	if err != nil {
		return models.Quote{}, err
	}
	sym, _ := datafetcher.NormalizeSymbol(symbol)
	q, ok := quotes[sym]
	if !ok {
		return models.Quote{}, &datafetcher.UpstreamParseError{Source: s.ResolveSource(source), Symbol: sym, Err: fmt.Errorf("no quote returned")}
	}
	return q, nil
}

// GetMultipleStockQuotes returns quotes keyed by normalized symbol
func (s *MarketDataService) GetMultipleStockQuotes(ctx context.Context, symbols []string, source string) (map[string]models.Quote, error) {
	return s.quotes(ctx, symbols, source, datafetcher.FetchOptions{})
}

// RefreshQuotes bypasses the quote cache on the default source
func (s *MarketDataService) RefreshQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	return s.quotes(ctx, symbols, "", datafetcher.FetchOptions{ForceRefresh: true})
}

func (s *MarketDataService) quotes(ctx context.Context, symbols []string, source string, opts datafetcher.FetchOptions) (map[string]models.Quote, error) {
	syms, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	src := s.source(source)
	if src == nil {
		return nil, fmt.Errorf("no market data source registered")
	}

	quotes, err := src.GetRealtimeQuotes(ctx, syms, opts)
	if err != nil {
		return nil, err
	}
	s.applyIndexOverview(ctx, quotes)
	return quotes, nil
}

// applyIndexOverview overwrites the prices of index symbols with the values
// from the default source's overview feed, so an index reads the same on
// every page. Overview failures leave the quotes untouched.
func (s *MarketDataService) applyIndexOverview(ctx context.Context, quotes map[string]models.Quote) {
	hasIndex := false
	for sym := range quotes {
		if datafetcher.IsIndexSymbol(sym) {
			hasIndex = true
			break
		}
	}
	if !hasIndex {
		return
	}

	overview, err := s.GetMarketOverview(ctx)
	if err != nil {
		s.log.Warnf("Index overview unavailable, keeping quote feed prices: %v", err)
		return
	}
	for sym, q := range quotes {
		ov, ok := overview[sym]
		if !ok || !datafetcher.IsIndexSymbol(sym) {
			continue
		}
		quotes[sym] = q.WithPrices(ov.Price, ov.PrevClose)
	}
}

// GetKLineData returns count bars of the given period, oldest first. When
// the live read fails and an archive is configured, the persisted bars are
// returned instead. A forced refresh always wants live bars and never falls
// back.
func (s *MarketDataService) GetKLineData(ctx context.Context, symbol string, period models.Period, count int, source string, forceRefresh bool) ([]models.KLineBar, error) {
	sym, err := datafetcher.NormalizeSymbol(symbol)
	if err != nil {
		return nil, &ValidationError{Field: "symbol", Message: err.Error()}
	}
	src := s.source(source)
	if src == nil {
		return nil, fmt.Errorf("no market data source registered")
	}
	bars, err := src.GetKLine(ctx, sym, period, count, datafetcher.FetchOptions{ForceRefresh: forceRefresh})
	if err == nil || forceRefresh || s.klineArchive == nil {
		return bars, err
	}

	stored, loadErr := s.klineArchive.LoadKLines(ctx, sym, period, count)
	if loadErr != nil {
		s.log.Errorf("K-line archive read failed for %s: %v", sym, loadErr)
		return nil, err
	}
	if len(stored) == 0 {
		return nil, err
	}
	s.log.Warnf("Serving %d archived %s bars for %s: %v", len(stored), period, sym, err)
	return stored, nil
}

// GetOrderBookDepth never fails for lack of data. An empty live book falls
// back to the last non-empty snapshot of the symbol, flagged historical;
// without one an empty depth and a message are returned. Only adapter
// failures are errors.
func (s *MarketDataService) GetOrderBookDepth(ctx context.Context, symbol string) (DepthResult, error) {
	sym, err := datafetcher.NormalizeSymbol(symbol)
	if err != nil {
		return DepthResult{}, &ValidationError{Field: "symbol", Message: err.Error()}
	}

	ds := s.depthSource()
	if ds == nil {
		return DepthResult{Depth: models.NewOrderBookDepth(sym, nil, nil, time.Now()), Message: msgDepthNoData}, nil
	}

	depth, err := ds.GetOrderBook(ctx, sym, datafetcher.FetchOptions{})
	if err != nil {
		return DepthResult{}, err
	}
	if !depth.IsEmpty() {
		s.depthHistory.Add(sym, depth)
		return DepthResult{Depth: depth}, nil
	}

	if last, ok := s.depthHistory.Get(sym); ok {
		last.IsHistoricalData = true
		return DepthResult{Depth: last, Message: msgDepthHistorical}, nil
	}
	depth.Symbol = sym
	return DepthResult{Depth: depth, Message: msgDepthNoData}, nil
}

func (s *MarketDataService) depthSource() datafetcher.DepthSource {
	if ds, ok := s.sources[s.defaultSource].(datafetcher.DepthSource); ok {
		return ds
	}
	for _, name := range s.Sources() {
		if ds, ok := s.sources[name].(datafetcher.DepthSource); ok {
			return ds
		}
	}
	return nil
}

// GetTimeSeriesData returns today's minute line
func (s *MarketDataService) GetTimeSeriesData(ctx context.Context, symbol string) ([]models.TimeSeriesPoint, error) {
	sym, err := datafetcher.NormalizeSymbol(symbol)
	if err != nil {
		return nil, &ValidationError{Field: "symbol", Message: err.Error()}
	}

	var ts datafetcher.TimeSeriesSource
	if v, ok := s.sources[s.defaultSource].(datafetcher.TimeSeriesSource); ok {
		ts = v
	} else {
		for _, name := range s.Sources() {
			if v, ok := s.sources[name].(datafetcher.TimeSeriesSource); ok {
				ts = v
				break
			}
		}
	}
	if ts == nil {
		return nil, fmt.Errorf("no registered source publishes intraday time series")
	}
	return ts.GetTimeSeries(ctx, sym, datafetcher.FetchOptions{})
}

// GetMarketOverview returns the index overview of the default source
func (s *MarketDataService) GetMarketOverview(ctx context.Context) (map[string]models.Quote, error) {
	return s.overview(ctx, datafetcher.FetchOptions{})
}

func (s *MarketDataService) overview(ctx context.Context, opts datafetcher.FetchOptions) (map[string]models.Quote, error) {
	src := s.source("")
	if src == nil {
		return nil, fmt.Errorf("no market data source registered")
	}
	return src.GetIndices(ctx, opts)
}

// IndicatorRequest selects an indicator computation
type IndicatorRequest struct {
	Symbol       string
	Indicator    string
	Period       int
	Source       string
	ForceRefresh bool
}

// IndicatorResult carries the indicator values aligned with KLineData
type IndicatorResult struct {
	Indicator string            `json:"indicator"`
	Period    int               `json:"period,omitempty"`
	Values    interface{}       `json:"values"`
	KLineData []models.KLineBar `json:"klineData"`
}

// GetTechnicalIndicator fetches daily bars and computes sma, macd or rsi.
// RSI values are left-padded with nil to line up with the bars.
func (s *MarketDataService) GetTechnicalIndicator(ctx context.Context, req IndicatorRequest) (IndicatorResult, error) {
	indicator := strings.ToLower(strings.TrimSpace(req.Indicator))
	period := req.Period

	switch indicator {
	case "sma":
		if period <= 0 {
			period = analysis.DefaultSMAPeriod
		}
	case "rsi":
		if period <= 0 {
			period = analysis.DefaultRSIPeriod
		}
	case "macd":
		period = 0
	default:
		return IndicatorResult{}, &ValidationError{Field: "indicator", Message: fmt.Sprintf("unsupported indicator %q (expected sma, macd or rsi)", req.Indicator)}
	}

	count := defaultIndicatorBars
	if period*3 > count {
		count = period * 3
	}
	bars, err := s.GetKLineData(ctx, req.Symbol, models.PeriodDaily, count, req.Source, req.ForceRefresh)
	if err != nil {
		return IndicatorResult{}, err
	}

	res := IndicatorResult{Indicator: indicator, Period: period, KLineData: bars}
	switch indicator {
	case "sma":
		res.Values = analysis.CalculateSMA(bars, period)
	case "rsi":
		res.Values = roundSeries(analysis.PadLeft(analysis.CalculateRSI(bars, period), len(bars)))
	case "macd":
		res.Values = analysis.CalculateMACD(bars, analysis.DefaultMACDFast, analysis.DefaultMACDSlow, analysis.DefaultMACDSignal)
	}
	return res, nil
}

// GetMarketBreadth computes breadth over the basket, or the configured
// default basket when symbols is empty. Symbols that fail to load are
// skipped; the call fails only when none load.
func (s *MarketDataService) GetMarketBreadth(ctx context.Context, symbols []string, days int) (analysis.MarketBreadth, error) {
	if days <= 0 {
		days = defaultBreadthDays
	}
	if days > maxBreadthDays {
		return analysis.MarketBreadth{}, &ValidationError{Field: "days", Message: fmt.Sprintf("days must be at most %d", maxBreadthDays)}
	}
	if len(symbols) == 0 {
		symbols = s.breadthBasket
	}
	syms, err := normalizeSymbols(symbols)
	if err != nil {
		return analysis.MarketBreadth{}, err
	}

	var (
		mu       sync.Mutex
		series   = make(map[string][]models.KLineBar, len(syms))
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(breadthFetchConcurrent)
	for _, sym := range syms {
		g.Go(func() error {
			bars, err := s.GetKLineData(gctx, sym, models.PeriodDaily, days+1, "", false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warnf("Breadth: skipping %s: %v", sym, err)
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			series[sym] = bars
			return nil
		})
	}
	_ = g.Wait()

	if len(series) == 0 && firstErr != nil {
		return analysis.MarketBreadth{}, firstErr
	}
	res := analysis.CalculateMarketBreadth(series, days, analysis.DefaultRSIPeriod)
	res.RSI = roundSeries(res.RSI)
	return res, nil
}

// roundSeries rounds an indicator series to two decimals for display
func roundSeries(values []*float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if v != nil {
			r := models.Round2(*v)
			out[i] = &r
		}
	}
	return out
}

func normalizeSymbols(symbols []string) ([]string, error) {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		sym, err := datafetcher.NormalizeSymbol(raw)
		if err != nil {
			return nil, &ValidationError{Field: "symbol", Message: err.Error()}
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	return out, nil
}
