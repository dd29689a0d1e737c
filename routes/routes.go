package routes

import (
	"net/http"

	"finance_backend/controllers"
	"finance_backend/metrics"
	"finance_backend/middleware"
	"finance_backend/scheduler"
	"finance_backend/services"

	"github.com/gin-gonic/gin"
)

// Dependencies are the long-lived objects built once in main
type Dependencies struct {
	Market      *services.MarketDataService
	Scheduler   *scheduler.FinanceScheduler
	RateLimiter *middleware.RateLimiter
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	financeController := controllers.NewFinanceController(deps.Market)
	schedulerController := controllers.NewSchedulerController(deps.Scheduler)

	// Finance routes
	finance := router.Group("/finance")
	if deps.RateLimiter != nil {
		finance.Use(middleware.RateLimitMiddleware(deps.RateLimiter))
	}
	{
		finance.GET("/stock-quote", financeController.GetStockQuote)
		finance.GET("/kline", financeController.GetKLine)
		finance.GET("/technical-indicators", financeController.GetTechnicalIndicators)
		finance.GET("/market-breadth", financeController.GetMarketBreadth)
		finance.GET("/stock-depth", financeController.GetStockDepth)
		finance.GET("/time-series", financeController.GetTimeSeries)
		finance.GET("/market-overview", financeController.GetMarketOverview)
		finance.GET("/sources", financeController.GetSources)
	}

	// Dashboard routes
	dashboard := router.Group("/dashboard")
	{
		dashboard.GET("/finance-scheduler", schedulerController.GetStatus)
		dashboard.POST("/finance-scheduler", schedulerController.HandleAction)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"scheduler": deps.Scheduler.IsActive(),
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}
