package controllers

import (
	"net/http"

	"finance_backend/logger"
	"finance_backend/models"
	"finance_backend/services"
	"finance_backend/services/datafetcher"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FinanceController handles the /finance market data endpoints
type FinanceController struct {
	market *services.MarketDataService
	log    *zap.SugaredLogger
}

// NewFinanceController creates a new finance controller
func NewFinanceController(market *services.MarketDataService) *FinanceController {
	return &FinanceController{market: market, log: logger.Named("finance")}
}

type quoteResponse struct {
	models.Quote
	OrderBookDepth *models.OrderBookDepth `json:"orderBookDepth,omitempty"`
}

// GetStockQuote returns one quote, or a map of quotes for several symbols
// GET /finance/stock-quote?symbol=sh600519,sz000858&source=&depth=
func (fc *FinanceController) GetStockQuote(c *gin.Context) {
	symbols := splitList(c.Query("symbol"))
	if len(symbols) == 0 {
		respondBadRequest(c, "symbol is required")
		return
	}
	source := c.Query("source")
	withDepth := queryBool(c, "depth")

	if len(symbols) == 1 {
		q, err := fc.market.GetStockQuote(c.Request.Context(), symbols[0], source)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, fc.quoteResponse(c, q, withDepth), nil)
		return
	}

	quotes, err := fc.market.GetMultipleStockQuotes(c.Request.Context(), symbols, source)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make(map[string]quoteResponse, len(quotes))
	for sym, q := range quotes {
		out[sym] = fc.quoteResponse(c, q, withDepth)
	}
	respondOK(c, out, nil)
}

// quoteResponse embeds the order book when asked. Depth failures are logged
// and leave the quote untouched.
func (fc *FinanceController) quoteResponse(c *gin.Context, q models.Quote, withDepth bool) quoteResponse {
	res := quoteResponse{Quote: q}
	if !withDepth {
		return res
	}
	depth, err := fc.market.GetOrderBookDepth(c.Request.Context(), q.Symbol)
	if err != nil {
		fc.log.Warnf("Depth for %s unavailable: %v", q.Symbol, err)
		return res
	}
	res.OrderBookDepth = &depth.Depth
	return res
}

// GetKLine returns K-line bars, oldest first
// GET /finance/kline?symbol=&period=&count=&source=
func (fc *FinanceController) GetKLine(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	period, err := models.ParsePeriod(c.Query("period"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	count, err := queryInt(c, "count")
	if err != nil {
		respondError(c, err)
		return
	}
	source := fc.market.ResolveSource(c.Query("source"))

	bars, err := fc.market.GetKLineData(c.Request.Context(), symbol, period, count, source, queryBool(c, "forceRefresh"))
	if err != nil {
		respondError(c, err)
		return
	}
	sym, _ := datafetcher.NormalizeSymbol(symbol)
	respondOK(c, bars, gin.H{
		"symbol": sym,
		"period": period,
		"count":  len(bars),
		"source": source,
	})
}

// GetTechnicalIndicators computes sma, macd or rsi on daily bars
// GET /finance/technical-indicators?symbol=&indicator=&period=&source=&forceRefresh=
func (fc *FinanceController) GetTechnicalIndicators(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	period, err := queryInt(c, "period")
	if err != nil {
		respondError(c, err)
		return
	}
	source := fc.market.ResolveSource(c.Query("source"))

	res, err := fc.market.GetTechnicalIndicator(c.Request.Context(), services.IndicatorRequest{
		Symbol:       symbol,
		Indicator:    c.Query("indicator"),
		Period:       period,
		Source:       source,
		ForceRefresh: queryBool(c, "forceRefresh"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	sym, _ := datafetcher.NormalizeSymbol(symbol)
	respondOK(c, res, gin.H{
		"symbol":    sym,
		"indicator": res.Indicator,
		"period":    res.Period,
		"source":    source,
		"count":     len(res.KLineData),
	})
}

// GetMarketBreadth returns the breadth RSI of a basket
// GET /finance/market-breadth?days=&stocks=
func (fc *FinanceController) GetMarketBreadth(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := fc.market.GetMarketBreadth(c.Request.Context(), splitList(c.Query("stocks")), days)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, res, nil)
}

// GetStockDepth returns the order book. No data is a 200 with a message.
// GET /finance/stock-depth?symbol=
func (fc *FinanceController) GetStockDepth(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	res, err := fc.market.GetOrderBookDepth(c.Request.Context(), symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	body := gin.H{"success": true, "data": res.Depth}
	if res.Message != "" {
		body["message"] = res.Message
	}
	c.JSON(http.StatusOK, body)
}

// GetTimeSeries returns today's minute line
// GET /finance/time-series?symbol=
func (fc *FinanceController) GetTimeSeries(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondBadRequest(c, "symbol is required")
		return
	}
	points, err := fc.market.GetTimeSeriesData(c.Request.Context(), symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, points, gin.H{"count": len(points)})
}

// GetMarketOverview returns the major index quotes
// GET /finance/market-overview
func (fc *FinanceController) GetMarketOverview(c *gin.Context) {
	overview, err := fc.market.GetMarketOverview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, overview, gin.H{"source": fc.market.DefaultSource()})
}

// GetSources lists the registered market data sources
// GET /finance/sources
func (fc *FinanceController) GetSources(c *gin.Context) {
	respondOK(c, gin.H{
		"sources": fc.market.Sources(),
		"default": fc.market.DefaultSource(),
	}, nil)
}
