package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"finance_backend/logger"
	"finance_backend/metrics"
	"finance_backend/models"
	"finance_backend/services/cache"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Cache windows, tiered by how fast the data changes
const (
	QuoteTTL      = 5 * time.Minute
	KLineTTL      = time.Hour
	IndexTTL      = 5 * time.Minute
	TimeSeriesTTL = 5 * time.Minute
	HistoricalTTL = 24 * time.Hour
)

const (
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultKLineCount = 120
	maxKLineCount     = 1000
)

// FetchOptions tunes a single adapter call
type FetchOptions struct {
	// ForceRefresh skips the cache read for this call. The fresh result is still cached.
	ForceRefresh bool
}

// MarketDataSource is one upstream quote provider
type MarketDataSource interface {
	Name() string
	GetRealtimeQuotes(ctx context.Context, symbols []string, opts FetchOptions) (map[string]models.Quote, error)
	GetKLine(ctx context.Context, symbol string, period models.Period, count int, opts FetchOptions) ([]models.KLineBar, error)
	GetIndices(ctx context.Context, opts FetchOptions) (map[string]models.Quote, error)
}

// DepthSource is implemented by sources that publish a bid/ask ladder
type DepthSource interface {
	GetOrderBook(ctx context.Context, symbol string, opts FetchOptions) (models.OrderBookDepth, error)
}

// TimeSeriesSource is implemented by sources that publish the intraday minute line
type TimeSeriesSource interface {
	GetTimeSeries(ctx context.Context, symbol string, opts FetchOptions) ([]models.TimeSeriesPoint, error)
}

// ClientOptions configures the HTTP side of an adapter
type ClientOptions struct {
	Timeout    time.Duration
	RatePerSec float64
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 5
	}
	return o
}

// upstreamClient wraps resty with a rate limiter and a circuit breaker
type upstreamClient struct {
	source  string
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newUpstreamClient(source, baseURL, referer string, opts ClientOptions) *upstreamClient {
	opts = opts.withDefaults()
	log := logger.Named("datafetcher")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Referer", referer).
		SetHeader("User-Agent", desktopUserAgent).
		SetHeader("Accept", "*/*")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s changed from %s to %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}

	return &upstreamClient{
		source:  source,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		breaker: cb,
	}
}

// get performs one GET and returns the raw body. Any failure is an *UpstreamFetchError.
func (c *upstreamClient) get(ctx context.Context, symbol, path string, query map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.source, "rate_limited").Inc()
		return nil, &UpstreamFetchError{Source: c.source, Symbol: symbol, Err: err}
	}

	start := time.Now()
	status := 0
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(path)
		if err != nil {
			return nil, err
		}
		status = resp.StatusCode()
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("unexpected status %s", resp.Status())
		}
		return resp.Body(), nil
	})
	metrics.UpstreamLatency.WithLabelValues(c.source).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "circuit_open"
		}
		metrics.UpstreamRequests.WithLabelValues(c.source, outcome).Inc()
		fetchErr := &UpstreamFetchError{Source: c.source, Symbol: symbol, Err: err}
		if status >= 300 || (status > 0 && status < 200) {
			fetchErr.StatusCode = status
		}
		return nil, fetchErr
	}

	metrics.UpstreamRequests.WithLabelValues(c.source, "ok").Inc()
	return result.([]byte), nil
}

// sourceCache is the per-adapter TTL cache with miss coalescing
type sourceCache struct {
	source string
	store  *cache.TTLCache[any]
	group  singleflight.Group
}

func newSourceCache(source string) *sourceCache {
	return &sourceCache{source: source, store: cache.New[any]()}
}

// CacheSweeper is implemented by sources whose cache can be swept in the background
type CacheSweeper interface {
	StartCacheSweeper(interval time.Duration) (stop func())
}

// cachedFetch reads key from the cache unless opts.ForceRefresh is set, and
// otherwise runs fetch once per key across concurrent callers, caching the
// result for ttl. Errors are never cached.
//
// The shared fetch runs on a context detached from ctx, so one caller going
// away does not fail the others joined on the same key. Each caller still
// stops waiting when its own ctx is done. The HTTP client timeout bounds the
// detached fetch.
func cachedFetch[T any](ctx context.Context, sc *sourceCache, key string, ttl time.Duration, opts FetchOptions, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if opts.ForceRefresh {
		metrics.CacheLookups.WithLabelValues(sc.source, "bypass").Inc()
	} else if v, ok := sc.store.Get(key); ok {
		if typed, ok := v.(T); ok {
			metrics.CacheLookups.WithLabelValues(sc.source, "hit").Inc()
			return typed, nil
		}
	} else {
		metrics.CacheLookups.WithLabelValues(sc.source, "miss").Inc()
	}

	detached := context.WithoutCancel(ctx)
	ch := sc.group.DoChan(key, func() (interface{}, error) {
		val, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		sc.store.Set(key, val, ttl)
		return val, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func clampCount(count int) int {
	if count <= 0 {
		return defaultKLineCount
	}
	if count > maxKLineCount {
		return maxKLineCount
	}
	return count
}

// tailBars keeps the most recent count bars
func tailBars(bars []models.KLineBar, count int) []models.KLineBar {
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return append([]models.KLineBar(nil), bars...)
}

func cloneQuotes(m map[string]models.Quote) map[string]models.Quote {
	return maps.Clone(m)
}
