package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finance_backend/config"
	"finance_backend/logger"
	"finance_backend/middleware"
	"finance_backend/models"
	"finance_backend/routes"
	"finance_backend/scheduler"
	"finance_backend/services"
	"finance_backend/services/datafetcher"

	"github.com/gin-gonic/gin"
)

const (
	cacheSweepInterval   = 5 * time.Minute
	rateLimiterIdleTTL   = 10 * time.Minute
	rateLimiterSweepTick = time.Minute
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Init(logger.Options{Level: "info"})
		logger.L().Fatalf("Config load failed: %v", err)
	}

	log := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Environment: cfg.Environment})
	defer logger.Sync()

	log.Info("==============================================")
	log.Info("  Finance Backend API - Starting...")
	log.Info("==============================================")

	if !cfg.EnvFileLoaded {
		log.Info("No .env file found, using environment variables")
	}
	if cfg.WatchlistErr != nil {
		log.Warnf("Using default watchlist: %v", cfg.WatchlistErr)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database connection
	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Info("Running database migrations...")
	if err := models.MigrateFinanceModels(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Market data sources
	clientOpts := datafetcher.ClientOptions{Timeout: cfg.UpstreamTimeout, RatePerSec: cfg.UpstreamRatePerSec}
	eastMoney := datafetcher.NewEastMoneySource(datafetcher.EastMoneyOptions{
		PushURL:    cfg.EastMoneyPushURL,
		HistoryURL: cfg.EastMoneyHistoryURL,
		Indices:    cfg.Watchlist.Indices,
		Client:     clientOpts,
	})
	sina := datafetcher.NewSinaSource(datafetcher.SinaOptions{
		QuoteURL: cfg.SinaQuoteURL,
		KLineURL: cfg.SinaKLineURL,
		Indices:  cfg.Watchlist.Indices,
		Client:   clientOpts,
	})

	store := services.NewFinanceStore(db)
	market := services.NewMarketDataService(services.MarketDataOptions{
		DefaultSource: cfg.DefaultSource,
		BreadthBasket: cfg.Watchlist.BreadthBasket,
		KLineArchive:  store,
	}, eastMoney, sina)
	stopSweepers := market.StartCacheSweepers(cacheSweepInterval)
	defer stopSweepers()

	refresher := services.NewDataRefresher(market, store, cfg.Watchlist)
	financeScheduler, err := scheduler.NewFinanceScheduler(cfg.FinanceCron, refresher.Run, cfg.RefreshTimeout)
	if err != nil {
		log.Fatalf("Scheduler setup failed: %v", err)
	}
	if cfg.SchedulerAutoStart {
		if err := financeScheduler.Start(); err != nil {
			log.Errorf("Scheduler start failed: %v", err)
		}
	}

	stopLimiter := make(chan struct{})
	defer close(stopLimiter)
	limiter := middleware.NewRateLimiter(cfg.APIRatePerSec, int(cfg.APIRatePerSec)*2, rateLimiterIdleTTL)
	limiter.StartCleanup(rateLimiterSweepTick, stopLimiter)

	// Create Gin router
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.RequestLogger())

	routes.SetupRoutes(router, routes.Dependencies{
		Market:      market,
		Scheduler:   financeScheduler,
		RateLimiter: limiter,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RefreshTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Infof("Server listening on 0.0.0.0:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, financeScheduler)
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// gracefulShutdown stops the scheduler, drains the server and closes the database
func gracefulShutdown(server *http.Server, financeScheduler *scheduler.FinanceScheduler) {
	log := logger.L()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Infof("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first
	financeScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	if config.DB != nil {
		if sqlDB, err := config.DB.DB(); err == nil {
			sqlDB.Close()
			log.Info("Database connection closed")
		}
	}

	log.Info("Server shutdown completed")
}
