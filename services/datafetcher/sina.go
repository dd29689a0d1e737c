package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"finance_backend/logger"
	"finance_backend/models"
	"finance_backend/services/cache"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const SourceSina = "sina"

var sinaRecordPattern = regexp.MustCompile(`var hq_str_(\w+)="([^"]*)"`)

// SinaOptions configures the Sina adapter
type SinaOptions struct {
	QuoteURL string
	KLineURL string
	Indices  []string
	Client   ClientOptions
}

// SinaSource reads hq.sinajs.cn quotes and the CN_MarketDataService K-line feed
type SinaSource struct {
	quotes  *upstreamClient
	klines  *upstreamClient
	cache   *sourceCache
	indices []string
	log     *zap.SugaredLogger
}

// NewSinaSource creates the Sina adapter
func NewSinaSource(opts SinaOptions) *SinaSource {
	if opts.QuoteURL == "" {
		opts.QuoteURL = "https://hq.sinajs.cn"
	}
	if opts.KLineURL == "" {
		opts.KLineURL = "https://quotes.sina.cn"
	}
	const referer = "https://finance.sina.com.cn/"
	return &SinaSource{
		quotes:  newUpstreamClient(SourceSina, opts.QuoteURL, referer, opts.Client),
		klines:  newUpstreamClient(SourceSina, opts.KLineURL, referer, opts.Client),
		cache:   newSourceCache(SourceSina),
		indices: opts.Indices,
		log:     logger.Named("sina"),
	}
}

func (s *SinaSource) Name() string { return SourceSina }

// StartCacheSweeper periodically drops expired cache entries
func (s *SinaSource) StartCacheSweeper(interval time.Duration) func() {
	return s.cache.store.StartSweeper(interval)
}

// GetRealtimeQuotes fetches quotes for all symbols in one request. Symbols the
// upstream returns an empty record for are left out of the result; if none
// of them parse the call fails.
func (s *SinaSource) GetRealtimeQuotes(ctx context.Context, symbols []string, opts FetchOptions) (map[string]models.Quote, error) {
	if len(symbols) == 0 {
		return map[string]models.Quote{}, nil
	}
	key := cache.Key(SourceSina, "quote", symbols)
	quotes, err := cachedFetch(ctx, s.cache, key, QuoteTTL, opts, func(ctx context.Context) (map[string]models.Quote, error) {
		return s.fetchQuotes(ctx, symbols, false)
	})
	if err != nil {
		return nil, err
	}
	return cloneQuotes(quotes), nil
}

// GetIndices fetches the configured index list through the short s_ feed
func (s *SinaSource) GetIndices(ctx context.Context, opts FetchOptions) (map[string]models.Quote, error) {
	if len(s.indices) == 0 {
		return map[string]models.Quote{}, nil
	}
	key := cache.Key(SourceSina, "indices", s.indices)
	quotes, err := cachedFetch(ctx, s.cache, key, IndexTTL, opts, func(ctx context.Context) (map[string]models.Quote, error) {
		return s.fetchQuotes(ctx, s.indices, true)
	})
	if err != nil {
		return nil, err
	}
	return cloneQuotes(quotes), nil
}

// GetOrderBook builds the depth from the five-level ladder of the quote record
func (s *SinaSource) GetOrderBook(ctx context.Context, symbol string, opts FetchOptions) (models.OrderBookDepth, error) {
	quotes, err := s.GetRealtimeQuotes(ctx, []string{symbol}, opts)
	if err != nil {
		if errors.Is(err, errEmptyRecord) {
			return models.NewOrderBookDepth(symbol, nil, nil, time.Now()), nil
		}
		return models.OrderBookDepth{}, err
	}
	q := quotes[symbol]
	return models.NewOrderBookDepth(symbol, q.Bids, q.Asks, time.Now()), nil
}

// GetKLine fetches count bars of the given period
func (s *SinaSource) GetKLine(ctx context.Context, symbol string, period models.Period, count int, opts FetchOptions) ([]models.KLineBar, error) {
	scale, err := sinaScale(period)
	if err != nil {
		return nil, err
	}
	count = clampCount(count)

	key := cache.Key(SourceSina, "kline", []string{symbol}, string(period), strconv.Itoa(count))
	bars, err := cachedFetch(ctx, s.cache, key, KLineTTL, opts, func(ctx context.Context) ([]models.KLineBar, error) {
		body, err := s.klines.get(ctx, symbol, "/cn/api/json_v2.php/CN_MarketDataService.getKLineData", map[string]string{
			"symbol":  symbol,
			"scale":   scale,
			"ma":      "no",
			"datalen": strconv.Itoa(count),
		})
		if err != nil {
			return nil, err
		}
		bars, err := parseSinaKLines(body, period)
		if err != nil {
			s.log.Errorf("K-line parse failed for %s: %v (payload: %s)", symbol, err, snippet(body))
			return nil, &UpstreamParseError{Source: SourceSina, Symbol: symbol, Snippet: snippet(body), Err: err}
		}
		return tailBars(bars, count), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.KLineBar(nil), bars...), nil
}

var errEmptyRecord = errors.New("empty quote record")

func (s *SinaSource) fetchQuotes(ctx context.Context, symbols []string, short bool) (map[string]models.Quote, error) {
	list := make([]string, len(symbols))
	for i, sym := range symbols {
		if short {
			list[i] = "s_" + sym
		} else {
			list[i] = sym
		}
	}
	joined := strings.Join(symbols, ",")

	body, err := s.quotes.get(ctx, joined, "/list="+strings.Join(list, ","), nil)
	if err != nil {
		return nil, err
	}

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		return nil, &UpstreamParseError{Source: SourceSina, Symbol: joined, Snippet: snippet(body), Err: fmt.Errorf("gbk decode: %w", err)}
	}

	records := parseSinaRecords(decoded)
	quotes := make(map[string]models.Quote, len(symbols))
	var firstErr error
	for _, sym := range symbols {
		fields, ok := records[sym]
		var q models.Quote
		switch {
		case !ok || len(fields) == 0:
			err = errEmptyRecord
		case short:
			q, err = parseSinaIndexRecord(sym, fields)
		default:
			q, err = parseSinaQuoteRecord(sym, fields)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = &UpstreamParseError{Source: SourceSina, Symbol: sym, Snippet: snippet(decoded), Err: err}
			}
			if !errors.Is(err, errEmptyRecord) {
				s.log.Errorf("quote parse failed for %s: %v (payload: %s)", sym, err, snippet(decoded))
			}
			continue
		}
		quotes[sym] = q
	}

	if len(quotes) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return quotes, nil
}

// parseSinaRecords maps each symbol in a hq_str payload to its comma-separated fields
func parseSinaRecords(body []byte) map[string][]string {
	records := make(map[string][]string)
	for _, m := range sinaRecordPattern.FindAllSubmatch(body, -1) {
		sym := strings.TrimPrefix(string(m[1]), "s_")
		raw := strings.TrimSpace(string(m[2]))
		if raw == "" {
			records[sym] = nil
			continue
		}
		records[sym] = strings.Split(raw, ",")
	}
	return records
}

// parseSinaQuoteRecord reads the full A-share layout: 0 name, 1 open,
// 2 prevClose, 3 price, 4 high, 5 low, 8 volume, 9 amount, 10-19 bid
// volume/price pairs, 20-29 ask volume/price pairs, 30 date, 31 time.
// Records shorter than 32 fields carry no ladder.
func parseSinaQuoteRecord(symbol string, fields []string) (models.Quote, error) {
	if len(fields) < 10 {
		return models.Quote{}, fmt.Errorf("expected at least 10 fields, got %d", len(fields))
	}

	nums := make([]float64, 10)
	for i := 1; i < 10; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return models.Quote{}, fmt.Errorf("field %d: %w", i, err)
		}
		nums[i] = v
	}

	// 0.000 before the call auction and while suspended
	if nums[3] <= 0 {
		return models.Quote{}, fmt.Errorf("no trade price: %w", errEmptyRecord)
	}

	qf := models.QuoteFields{
		Symbol:    symbol,
		Name:      strings.TrimSpace(fields[0]),
		Open:      nums[1],
		PrevClose: nums[2],
		Price:     nums[3],
		High:      nums[4],
		Low:       nums[5],
		Volume:    int64(nums[8]),
		Amount:    nums[9],
		Source:    SourceSina,
	}

	if len(fields) >= 32 {
		qf.Bids = sinaLadder(fields, 10)
		qf.Asks = sinaLadder(fields, 20)
		qf.Date = strings.TrimSpace(fields[30])
		qf.Time = strings.TrimSpace(fields[31])
	}

	return models.NewQuote(qf), nil
}

// sinaLadder reads five volume/price pairs starting at offset
func sinaLadder(fields []string, offset int) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, 5)
	for i := 0; i < 5; i++ {
		vol, err1 := strconv.ParseFloat(fields[offset+2*i], 64)
		price, err2 := strconv.ParseFloat(fields[offset+2*i+1], 64)
		if err1 != nil || err2 != nil || price <= 0 {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Volume: int64(vol)})
	}
	return levels
}

// parseSinaIndexRecord reads the s_ short form: name, price, change, pct,
// volume (lots), amount (10k yuan).
func parseSinaIndexRecord(symbol string, fields []string) (models.Quote, error) {
	if len(fields) < 6 {
		return models.Quote{}, fmt.Errorf("expected 6 index fields, got %d", len(fields))
	}
	nums := make([]float64, 6)
	for i := 1; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return models.Quote{}, fmt.Errorf("field %d: %w", i, err)
		}
		nums[i] = v
	}
	price, change := nums[1], nums[2]
	return models.NewQuote(models.QuoteFields{
		Symbol:    symbol,
		Name:      strings.TrimSpace(fields[0]),
		Price:     price,
		PrevClose: price - change,
		Volume:    int64(nums[4] * 100),
		Amount:    nums[5] * 10000,
		Source:    SourceSina,
	}), nil
}

type sinaKLine struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func parseSinaKLines(body []byte, period models.Period) ([]models.KLineBar, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return []models.KLineBar{}, nil
	}

	var rows []sinaKLine
	if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
		return nil, err
	}

	bars := make([]models.KLineBar, 0, len(rows))
	for _, r := range rows {
		vals := make([]float64, 5)
		for i, raw := range []string{r.Open, r.High, r.Low, r.Close, r.Volume} {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("bar %s: %w", r.Day, err)
			}
			vals[i] = v
		}
		bars = append(bars, models.KLineBar{
			Date:   barDate(r.Day, period),
			Open:   models.Round2(vals[0]),
			High:   models.Round2(vals[1]),
			Low:    models.Round2(vals[2]),
			Close:  models.Round2(vals[3]),
			Volume: int64(vals[4]),
		})
	}
	return models.NormalizeBars(bars), nil
}

// barDate trims a timestamp to YYYY-MM-DD, or YYYY-MM-DD HH:MM for intraday periods
func barDate(raw string, period models.Period) string {
	raw = strings.TrimSpace(raw)
	n := 10
	if period.IsIntraday() {
		n = 16
	}
	if len(raw) > n {
		return raw[:n]
	}
	return raw
}

func sinaScale(period models.Period) (string, error) {
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
		return "240", nil
	case models.PeriodWeekly:
		return "1200", nil
	case models.PeriodMonthly:
		return "7200", nil
	}
	return "", fmt.Errorf("sina: unsupported period %q", period)
}
