package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finance_backend/models"
	"finance_backend/services"
	"finance_backend/services/datafetcher"

	"github.com/gin-gonic/gin"
)

type stubSource struct {
	calls    int
	depth    *models.OrderBookDepth
	depthErr error
}

func (s *stubSource) Name() string { return "eastmoney" }

func (s *stubSource) GetRealtimeQuotes(_ context.Context, symbols []string, _ datafetcher.FetchOptions) (map[string]models.Quote, error) {
	s.calls++
	out := make(map[string]models.Quote, len(symbols))
	for _, sym := range symbols {
		out[sym] = models.NewQuote(models.QuoteFields{Symbol: sym, Price: 10.5, PrevClose: 10, Source: "eastmoney"})
	}
	return out, nil
}

func (s *stubSource) GetKLine(_ context.Context, _ string, _ models.Period, count int, _ datafetcher.FetchOptions) ([]models.KLineBar, error) {
	s.calls++
	bars := make([]models.KLineBar, 0, 40)
	for i := 0; i < 40; i++ {
		day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		bars = append(bars, models.KLineBar{Date: day.Format("2006-01-02"), Close: 10 + float64(i%3)})
	}
	if count > 0 && count < len(bars) {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (s *stubSource) GetIndices(context.Context, datafetcher.FetchOptions) (map[string]models.Quote, error) {
	return map[string]models.Quote{
		"sh000001": models.NewQuote(models.QuoteFields{Symbol: "sh000001", Price: 3050.12, PrevClose: 3030}),
	}, nil
}

func (s *stubSource) GetOrderBook(_ context.Context, symbol string, _ datafetcher.FetchOptions) (models.OrderBookDepth, error) {
	if s.depthErr != nil {
		return models.OrderBookDepth{}, s.depthErr
	}
	if s.depth != nil {
		return *s.depth, nil
	}
	return models.NewOrderBookDepth(symbol, nil, nil, time.Now()), nil
}

func setupFinanceRouter(src *stubSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	market := services.NewMarketDataService(services.MarketDataOptions{DefaultSource: "eastmoney"}, src)
	fc := NewFinanceController(market)

	r := gin.New()
	r.GET("/finance/stock-quote", fc.GetStockQuote)
	r.GET("/finance/kline", fc.GetKLine)
	r.GET("/finance/technical-indicators", fc.GetTechnicalIndicators)
	r.GET("/finance/market-breadth", fc.GetMarketBreadth)
	r.GET("/finance/stock-depth", fc.GetStockDepth)
	r.GET("/finance/sources", fc.GetSources)
	return r
}

func doGet(t *testing.T, r *gin.Engine, url string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return w, body
}

func TestValidationErrorsAreBadRequests(t *testing.T) {
	src := &stubSource{}
	r := setupFinanceRouter(src)

	tests := []struct {
		name string
		url  string
	}{
		{"quote without symbol", "/finance/stock-quote"},
		{"indicator without symbol", "/finance/technical-indicators?indicator=rsi"},
		{"unknown indicator", "/finance/technical-indicators?symbol=sh600519&indicator=kdj"},
		{"bad period", "/finance/kline?symbol=sh600519&period=2min"},
		{"non-numeric count", "/finance/kline?symbol=sh600519&count=abc"},
		{"non-numeric days", "/finance/market-breadth?days=ten"},
		{"bad symbol", "/finance/stock-quote?symbol=bad%20symbol"},
		{"depth without symbol", "/finance/stock-depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doGet(t, r, tt.url)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if body["success"] != false || body["message"] == "" {
				t.Errorf("unexpected body %v", body)
			}
		})
	}

	if src.calls != 0 {
		t.Errorf("validation failures must not reach the source, got %d calls", src.calls)
	}
}

func TestStockQuoteSingleAndMultiple(t *testing.T) {
	r := setupFinanceRouter(&stubSource{})

	w, body := doGet(t, r, "/finance/stock-quote?symbol=600519")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]interface{})
	if data["symbol"] != "sh600519" || data["changePercent"] != 5.0 {
		t.Errorf("unexpected quote %v", data)
	}
	if _, ok := data["orderBookDepth"]; ok {
		t.Error("depth must only be embedded on request")
	}
	if body["timestamp"] == nil {
		t.Error("expected timestamp")
	}

	_, body = doGet(t, r, "/finance/stock-quote?symbol=sh600519,sz000858")
	data = body["data"].(map[string]interface{})
	if len(data) != 2 || data["sz000858"] == nil {
		t.Errorf("expected map keyed by symbol, got %v", data)
	}
}

func TestStockQuoteDepthIsBestEffort(t *testing.T) {
	src := &stubSource{depthErr: errors.New("depth down")}
	r := setupFinanceRouter(src)

	w, body := doGet(t, r, "/finance/stock-quote?symbol=sh600519&depth=true")
	if w.Code != http.StatusOK {
		t.Fatalf("depth failure must not fail the quote, got %d", w.Code)
	}
	if _, ok := body["data"].(map[string]interface{})["orderBookDepth"]; ok {
		t.Error("failed depth must be omitted")
	}

	src.depthErr = nil
	depth := models.NewOrderBookDepth("sh600519", []models.PriceLevel{{Price: 10.49, Volume: 100}}, nil, time.Now())
	src.depth = &depth
	_, body = doGet(t, r, "/finance/stock-quote?symbol=sh600519&depth=true")
	if _, ok := body["data"].(map[string]interface{})["orderBookDepth"]; !ok {
		t.Error("expected embedded orderBookDepth")
	}
}

func TestStockDepthNoDataIsOK(t *testing.T) {
	r := setupFinanceRouter(&stubSource{})

	w, body := doGet(t, r, "/finance/stock-depth?symbol=sz000858")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["success"] != true || body["message"] == nil {
		t.Errorf("expected success with message, got %v", body)
	}
	data := body["data"].(map[string]interface{})
	if len(data["bids"].([]interface{})) != 0 || len(data["asks"].([]interface{})) != 0 || data["isHistoricalData"] != false {
		t.Errorf("unexpected depth %v", data)
	}
}

func TestStockDepthAdapterFailureIs500(t *testing.T) {
	r := setupFinanceRouter(&stubSource{depthErr: &datafetcher.UpstreamFetchError{Source: "eastmoney", Err: errors.New("timeout")}})

	w, body := doGet(t, r, "/finance/stock-depth?symbol=sz000858")
	if w.Code != http.StatusInternalServerError || body["success"] != false {
		t.Errorf("expected 500, got %d %v", w.Code, body)
	}
}

func TestKLineMeta(t *testing.T) {
	r := setupFinanceRouter(&stubSource{})

	w, body := doGet(t, r, "/finance/kline?symbol=600519&period=weekly&count=10&source=unknown")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	meta := body["meta"].(map[string]interface{})
	if meta["symbol"] != "sh600519" || meta["period"] != "weekly" || meta["count"] != 10.0 || meta["source"] != "eastmoney" {
		t.Errorf("unexpected meta %v", meta)
	}
}

func TestTechnicalIndicatorsRSIPadded(t *testing.T) {
	r := setupFinanceRouter(&stubSource{})

	w, body := doGet(t, r, "/finance/technical-indicators?symbol=sh600519&indicator=rsi")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]interface{})
	values := data["values"].([]interface{})
	bars := data["klineData"].([]interface{})
	if len(values) != len(bars) {
		t.Errorf("values must align with bars: %d vs %d", len(values), len(bars))
	}
	if values[0] != nil {
		t.Error("warm-up positions must be null")
	}
}

func TestSources(t *testing.T) {
	r := setupFinanceRouter(&stubSource{})

	_, body := doGet(t, r, "/finance/sources")
	data := body["data"].(map[string]interface{})
	if data["default"] != "eastmoney" {
		t.Errorf("unexpected sources %v", data)
	}
}
