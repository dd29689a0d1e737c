package datafetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"finance_backend/logger"
	"finance_backend/models"
	"finance_backend/services/cache"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const SourceEastMoney = "eastmoney"

const (
	eastMoneyQuoteFields = "f43,f44,f45,f46,f47,f48,f57,f58,f59,f60,f86," +
		"f11,f12,f13,f14,f15,f16,f17,f18,f19,f20," +
		"f31,f32,f33,f34,f35,f36,f37,f38,f39,f40"
	eastMoneyIndexFields = "f2,f3,f4,f5,f6,f12,f13,f14,f15,f16,f17,f18"
	eastMoneyLotSize     = 100
	quoteFanout          = 4
)

// Bid and ask ladders as (price field, volume field), best level first
var (
	eastMoneyBidFields = [][2]string{{"f19", "f20"}, {"f17", "f18"}, {"f15", "f16"}, {"f13", "f14"}, {"f11", "f12"}}
	eastMoneyAskFields = [][2]string{{"f39", "f40"}, {"f37", "f38"}, {"f35", "f36"}, {"f33", "f34"}, {"f31", "f32"}}
)

var chinaTZ = time.FixedZone("CST", 8*3600)

// EastMoneyOptions configures the EastMoney adapter
type EastMoneyOptions struct {
	PushURL    string
	HistoryURL string
	Indices    []string
	Client     ClientOptions
}

// EastMoneySource reads the push2 quote/overview/trends APIs and the push2his K-line API
type EastMoneySource struct {
	push    *upstreamClient
	history *upstreamClient
	cache   *sourceCache
	indices []string
	log     *zap.SugaredLogger
}

// NewEastMoneySource creates the EastMoney adapter
func NewEastMoneySource(opts EastMoneyOptions) *EastMoneySource {
	if opts.PushURL == "" {
		opts.PushURL = "https://push2.eastmoney.com"
	}
	if opts.HistoryURL == "" {
		opts.HistoryURL = "https://push2his.eastmoney.com"
	}
	const referer = "https://quote.eastmoney.com/"
	return &EastMoneySource{
		push:    newUpstreamClient(SourceEastMoney, opts.PushURL, referer, opts.Client),
		history: newUpstreamClient(SourceEastMoney, opts.HistoryURL, referer, opts.Client),
		cache:   newSourceCache(SourceEastMoney),
		indices: opts.Indices,
		log:     logger.Named("eastmoney"),
	}
}

func (e *EastMoneySource) Name() string { return SourceEastMoney }

// StartCacheSweeper periodically drops expired cache entries
func (e *EastMoneySource) StartCacheSweeper(interval time.Duration) func() {
	return e.cache.store.StartSweeper(interval)
}

// GetRealtimeQuotes fetches each symbol from /api/qt/stock/get, a few at a
// time. Failed symbols are left out; the call fails only if none succeed.
func (e *EastMoneySource) GetRealtimeQuotes(ctx context.Context, symbols []string, opts FetchOptions) (map[string]models.Quote, error) {
	if len(symbols) == 0 {
		return map[string]models.Quote{}, nil
	}
	key := cache.Key(SourceEastMoney, "quote", symbols)
	quotes, err := cachedFetch(ctx, e.cache, key, QuoteTTL, opts, func(ctx context.Context) (map[string]models.Quote, error) {
		return e.fetchQuotes(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}
	return cloneQuotes(quotes), nil
}

func (e *EastMoneySource) fetchQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	var (
		mu       sync.Mutex
		quotes   = make(map[string]models.Quote, len(symbols))
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFanout)
	for _, sym := range symbols {
		g.Go(func() error {
			q, err := e.fetchQuote(gctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			quotes[sym] = q
			return nil
		})
	}
	_ = g.Wait()

	if len(quotes) == 0 && firstErr != nil {
		return nil, firstErr
	}
	if firstErr != nil {
		e.log.Warnf("partial quote batch: %d/%d symbols, first error: %v", len(quotes), len(symbols), firstErr)
	}
	return quotes, nil
}

func (e *EastMoneySource) fetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	secid, err := eastMoneySecID(symbol)
	if err != nil {
		return models.Quote{}, &UpstreamFetchError{Source: SourceEastMoney, Symbol: symbol, Err: err}
	}

	body, err := e.push.get(ctx, symbol, "/api/qt/stock/get", map[string]string{
		"secid":  secid,
		"fields": eastMoneyQuoteFields,
		"invt":   "2",
	})
	if err != nil {
		return models.Quote{}, err
	}

	raw, err := decodeEastMoneyQuote(body)
	if err == nil {
		var qf models.QuoteFields
		qf, err = raw.toQuoteFields(symbol)
		if err == nil {
			return models.NewQuote(qf), nil
		}
	}
	if !errors.Is(err, errEmptyRecord) {
		e.log.Errorf("quote parse failed for %s: %v (payload: %s)", symbol, err, snippet(body))
	}
	return models.Quote{}, &UpstreamParseError{Source: SourceEastMoney, Symbol: symbol, Snippet: snippet(body), Err: err}
}

// eastMoneyQuoteRaw is the undecoded data object of /api/qt/stock/get.
// Numeric fields are floats, or "-" when the value is unavailable.
type eastMoneyQuoteRaw map[string]any

func decodeEastMoneyQuote(body []byte) (eastMoneyQuoteRaw, error) {
	var resp struct {
		Data eastMoneyQuoteRaw `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errEmptyRecord
	}
	return resp.Data, nil
}

func (r eastMoneyQuoteRaw) num(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// divisor is 10^f59: price fields are integers with f59 implied decimals
func (r eastMoneyQuoteRaw) divisor() float64 {
	if d, ok := r.num("f59"); ok && d >= 0 && d <= 6 {
		return math.Pow10(int(d))
	}
	return 100
}

// toQuoteFields converts the raw record. Every price field is divided by the
// same divisor; r itself is never modified, so converting the same record
// twice gives the same result.
func (r eastMoneyQuoteRaw) toQuoteFields(symbol string) (models.QuoteFields, error) {
	div := r.divisor()

	// suspended and halted symbols publish "-" for the price and the whole ladder
	price, ok := r.num("f43")
	if !ok || price <= 0 {
		return models.QuoteFields{}, fmt.Errorf("no price in f43: %w", errEmptyRecord)
	}
	prevClose, ok := r.num("f60")
	if !ok {
		return models.QuoteFields{}, errors.New("missing previous close f60")
	}
	open, _ := r.num("f46")
	high, _ := r.num("f44")
	low, _ := r.num("f45")
	volume, _ := r.num("f47")
	amount, _ := r.num("f48")

	name, _ := r["f58"].(string)
	qf := models.QuoteFields{
		Symbol:    symbol,
		Name:      name,
		Open:      open / div,
		High:      high / div,
		Low:       low / div,
		Price:     price / div,
		PrevClose: prevClose / div,
		Volume:    int64(volume) * eastMoneyLotSize,
		Amount:    amount,
		Bids:      r.ladder(eastMoneyBidFields, div),
		Asks:      r.ladder(eastMoneyAskFields, div),
		Source:    SourceEastMoney,
	}

	if ts, ok := r.num("f86"); ok && ts > 0 {
		t := time.Unix(int64(ts), 0).In(chinaTZ)
		qf.Date = t.Format("2006-01-02")
		qf.Time = t.Format("15:04:05")
	}
	return qf, nil
}

func (r eastMoneyQuoteRaw) ladder(fields [][2]string, div float64) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(fields))
	for _, f := range fields {
		price, ok1 := r.num(f[0])
		vol, ok2 := r.num(f[1])
		if !ok1 || !ok2 || price <= 0 {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price / div, Volume: int64(vol) * eastMoneyLotSize})
	}
	return levels
}

// GetIndices reads the configured indices from the ulist overview feed. The
// feed is requested with fltt=2 so values arrive as plain decimals.
func (e *EastMoneySource) GetIndices(ctx context.Context, opts FetchOptions) (map[string]models.Quote, error) {
	if len(e.indices) == 0 {
		return map[string]models.Quote{}, nil
	}
	key := cache.Key(SourceEastMoney, "indices", e.indices)
	quotes, err := cachedFetch(ctx, e.cache, key, IndexTTL, opts, func(ctx context.Context) (map[string]models.Quote, error) {
		secids := make([]string, 0, len(e.indices))
		for _, sym := range e.indices {
			id, err := eastMoneySecID(sym)
			if err != nil {
				e.log.Warnf("skipping index %s: %v", sym, err)
				continue
			}
			secids = append(secids, id)
		}
		joined := strings.Join(e.indices, ",")

		body, err := e.push.get(ctx, joined, "/api/qt/ulist.np/get", map[string]string{
			"fltt":   "2",
			"invt":   "2",
			"fields": eastMoneyIndexFields,
			"secids": strings.Join(secids, ","),
		})
		if err != nil {
			return nil, err
		}
		quotes, err := parseEastMoneyOverview(body)
		if err != nil {
			e.log.Errorf("index overview parse failed: %v (payload: %s)", err, snippet(body))
			return nil, &UpstreamParseError{Source: SourceEastMoney, Symbol: joined, Snippet: snippet(body), Err: err}
		}
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneQuotes(quotes), nil
}

func parseEastMoneyOverview(body []byte) (map[string]models.Quote, error) {
	var resp struct {
		Data *struct {
			Diff json.RawMessage `json:"diff"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.Diff) == 0 {
		return nil, errEmptyRecord
	}

	// diff is usually an array but some deployments return an index-keyed object
	var rows []eastMoneyQuoteRaw
	if bytes.HasPrefix(bytes.TrimSpace(resp.Data.Diff), []byte("[")) {
		if err := json.Unmarshal(resp.Data.Diff, &rows); err != nil {
			return nil, err
		}
	} else {
		var keyed map[string]eastMoneyQuoteRaw
		if err := json.Unmarshal(resp.Data.Diff, &keyed); err != nil {
			return nil, err
		}
		for _, row := range keyed {
			rows = append(rows, row)
		}
	}

	quotes := make(map[string]models.Quote, len(rows))
	for _, row := range rows {
		code, _ := row["f12"].(string)
		market, ok := row.num("f13")
		price, okPrice := row.num("f2")
		prevClose, okPrev := row.num("f18")
		if code == "" || !ok || !okPrice || !okPrev {
			continue
		}
		symbol := symbolFromEastMoney(int(market), code)
		name, _ := row["f14"].(string)
		open, _ := row.num("f17")
		high, _ := row.num("f15")
		low, _ := row.num("f16")
		volume, _ := row.num("f5")
		amount, _ := row.num("f6")

		quotes[symbol] = models.NewQuote(models.QuoteFields{
			Symbol:    symbol,
			Name:      name,
			Open:      open,
			High:      high,
			Low:       low,
			Price:     price,
			PrevClose: prevClose,
			Volume:    int64(volume) * eastMoneyLotSize,
			Amount:    amount,
			Source:    SourceEastMoney,
		})
	}
	if len(quotes) == 0 {
		return nil, errors.New("overview contained no usable rows")
	}
	return quotes, nil
}

// GetOrderBook builds the depth from the quote's five-level ladder
func (e *EastMoneySource) GetOrderBook(ctx context.Context, symbol string, opts FetchOptions) (models.OrderBookDepth, error) {
	quotes, err := e.GetRealtimeQuotes(ctx, []string{symbol}, opts)
	if err != nil {
		if errors.Is(err, errEmptyRecord) {
			return models.NewOrderBookDepth(symbol, nil, nil, time.Now()), nil
		}
		return models.OrderBookDepth{}, err
	}
	q := quotes[symbol]
	return models.NewOrderBookDepth(symbol, q.Bids, q.Asks, time.Now()), nil
}

// GetKLine fetches count bars from push2his
func (e *EastMoneySource) GetKLine(ctx context.Context, symbol string, period models.Period, count int, opts FetchOptions) ([]models.KLineBar, error) {
	klt, err := eastMoneyKLineType(period)
	if err != nil {
		return nil, err
	}
	secid, err := eastMoneySecID(symbol)
	if err != nil {
		return nil, &UpstreamFetchError{Source: SourceEastMoney, Symbol: symbol, Err: err}
	}
	count = clampCount(count)

	key := cache.Key(SourceEastMoney, "kline", []string{symbol}, string(period), strconv.Itoa(count))
	bars, err := cachedFetch(ctx, e.cache, key, KLineTTL, opts, func(ctx context.Context) ([]models.KLineBar, error) {
		body, err := e.history.get(ctx, symbol, "/api/qt/stock/kline/get", map[string]string{
			"secid":   secid,
			"klt":     klt,
			"fqt":     "1",
			"lmt":     strconv.Itoa(count),
			"end":     "20500101",
			"fields1": "f1,f2,f3",
			"fields2": "f51,f52,f53,f54,f55,f56,f57",
		})
		if err != nil {
			return nil, err
		}
		bars, err := parseEastMoneyKLines(body, period)
		if err != nil {
			e.log.Errorf("K-line parse failed for %s: %v (payload: %s)", symbol, err, snippet(body))
			return nil, &UpstreamParseError{Source: SourceEastMoney, Symbol: symbol, Snippet: snippet(body), Err: err}
		}
		return tailBars(bars, count), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.KLineBar(nil), bars...), nil
}

// parseEastMoneyKLines reads "date,open,close,high,low,volume,amount" lines.
// A null data object means the symbol has no bars.
func parseEastMoneyKLines(body []byte, period models.Period) ([]models.KLineBar, error) {
	var resp struct {
		Data *struct {
			KLines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []models.KLineBar{}, nil
	}

	bars := make([]models.KLineBar, 0, len(resp.Data.KLines))
	for _, line := range resp.Data.KLines {
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			return nil, fmt.Errorf("short K-line row %q", line)
		}
		vals, err := parseFloats(parts[1:])
		if err != nil {
			return nil, fmt.Errorf("K-line row %q: %w", line, err)
		}
		bar := models.KLineBar{
			Date:   barDate(parts[0], period),
			Open:   models.Round2(vals[0]),
			Close:  models.Round2(vals[1]),
			High:   models.Round2(vals[2]),
			Low:    models.Round2(vals[3]),
			Volume: int64(vals[4]) * eastMoneyLotSize,
		}
		if len(vals) > 5 {
			bar.Amount = vals[5]
		}
		bars = append(bars, bar)
	}
	return models.NormalizeBars(bars), nil
}

// GetTimeSeries fetches today's minute line from trends2
func (e *EastMoneySource) GetTimeSeries(ctx context.Context, symbol string, opts FetchOptions) ([]models.TimeSeriesPoint, error) {
	secid, err := eastMoneySecID(symbol)
	if err != nil {
		return nil, &UpstreamFetchError{Source: SourceEastMoney, Symbol: symbol, Err: err}
	}

	key := cache.Key(SourceEastMoney, "trends", []string{symbol})
	points, err := cachedFetch(ctx, e.cache, key, TimeSeriesTTL, opts, func(ctx context.Context) ([]models.TimeSeriesPoint, error) {
		body, err := e.push.get(ctx, symbol, "/api/qt/stock/trends2/get", map[string]string{
			"secid":   secid,
			"ndays":   "1",
			"iscr":    "0",
			"fields1": "f1,f2,f3,f4,f5,f6,f7,f8",
			"fields2": "f51,f52,f53,f54,f55,f56,f57,f58",
		})
		if err != nil {
			return nil, err
		}
		points, err := parseEastMoneyTrends(body)
		if err != nil {
			e.log.Errorf("trends parse failed for %s: %v (payload: %s)", symbol, err, snippet(body))
			return nil, &UpstreamParseError{Source: SourceEastMoney, Symbol: symbol, Snippet: snippet(body), Err: err}
		}
		return points, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.TimeSeriesPoint(nil), points...), nil
}

// parseEastMoneyTrends reads "time,open,close,high,low,volume,amount,avg" lines
func parseEastMoneyTrends(body []byte) ([]models.TimeSeriesPoint, error) {
	var resp struct {
		Data *struct {
			Trends []string `json:"trends"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []models.TimeSeriesPoint{}, nil
	}

	points := make([]models.TimeSeriesPoint, 0, len(resp.Data.Trends))
	for _, line := range resp.Data.Trends {
		parts := strings.Split(line, ",")
		if len(parts) < 8 {
			return nil, fmt.Errorf("short trends row %q", line)
		}
		vals, err := parseFloats(parts[1:8])
		if err != nil {
			return nil, fmt.Errorf("trends row %q: %w", line, err)
		}
		points = append(points, models.TimeSeriesPoint{
			Time:     parts[0],
			Price:    models.Round2(vals[1]),
			Volume:   int64(vals[4]) * eastMoneyLotSize,
			Amount:   vals[5],
			AvgPrice: models.Round2(vals[6]),
		})
	}
	return points, nil
}

func parseFloats(parts []string) ([]float64, error) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func eastMoneyKLineType(period models.Period) (string, error) {
	switch period {
	case models.Period5Min:
		return "5", nil
	case models.Period15Min:
		return "15", nil
	case models.Period30Min:
		return "30", nil
	case models.Period60Min:
		return "60", nil
	case models.PeriodDaily:
		return "101", nil
	case models.PeriodWeekly:
		return "102", nil
	case models.PeriodMonthly:
		return "103", nil
	}
	return "", fmt.Errorf("eastmoney: unsupported period %q", period)
}
