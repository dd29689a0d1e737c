package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"finance_backend/logger"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultFinanceCron refreshes at the top of every hour
const DefaultFinanceCron = "0 * * * *"

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Finance data pipeline
	DefaultSource       string
	FinanceCron         string
	SchedulerAutoStart  bool
	RefreshTimeout      time.Duration
	UpstreamTimeout     time.Duration
	UpstreamRatePerSec  float64
	APIRatePerSec       float64
	SinaQuoteURL        string
	SinaKLineURL        string
	EastMoneyPushURL    string
	EastMoneyHistoryURL string
	WatchlistFile       string

	Watchlist     *Watchlist
	EnvFileLoaded bool
	// WatchlistErr is set when WatchlistFile could not be used and the
	// default watchlist was loaded instead.
	WatchlistErr error
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	envLoaded := godotenv.Load() == nil

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),

		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "finance_db"),
		SQLitePath: getEnv("SQLITE_PATH", "data/finance.db"),

		DefaultSource:       strings.ToLower(getEnv("FINANCE_DEFAULT_SOURCE", "eastmoney")),
		FinanceCron:         getEnv("FINANCE_CRON", DefaultFinanceCron),
		SchedulerAutoStart:  getEnvBool("FINANCE_SCHEDULER_AUTOSTART", true),
		RefreshTimeout:      getEnvDuration("FINANCE_REFRESH_TIMEOUT", 10*time.Minute),
		UpstreamTimeout:     getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRatePerSec:  getEnvFloat("UPSTREAM_RATE_PER_SEC", 5),
		APIRatePerSec:       getEnvFloat("API_RATE_PER_SEC", 20),
		SinaQuoteURL:        getEnv("SINA_QUOTE_URL", "https://hq.sinajs.cn"),
		SinaKLineURL:        getEnv("SINA_KLINE_URL", "https://quotes.sina.cn"),
		EastMoneyPushURL:    getEnv("EASTMONEY_PUSH_URL", "https://push2.eastmoney.com"),
		EastMoneyHistoryURL: getEnv("EASTMONEY_HISTORY_URL", "https://push2his.eastmoney.com"),
		WatchlistFile:       getEnv("FINANCE_WATCHLIST_FILE", ""),
	}

	config.EnvFileLoaded = envLoaded

	if err := ValidateCron(config.FinanceCron); err != nil {
		return config, err
	}

	watchlist, err := LoadWatchlist(config.WatchlistFile)
	if err != nil {
		config.WatchlistErr = fmt.Errorf("load watchlist %s: %w", config.WatchlistFile, err)
		watchlist = DefaultWatchlist()
	}
	config.Watchlist = watchlist

	AppConfig = config
	return config, nil
}

// ValidateCron accepts standard five-field expressions and six-field ones with a leading seconds field
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// ParseCron parses a standard five-field expression, or a six-field one
// whose first field is seconds.
func ParseCron(expr string) (cron.Schedule, error) {
	var (
		sched cron.Schedule
		err   error
	)
	if HasSecondsField(expr) {
		sched, err = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(expr)
	} else {
		sched, err = cron.ParseStandard(expr)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// HasSecondsField reports whether expr is a six-field expression
func HasSecondsField(expr string) bool {
	return len(strings.Fields(expr)) == 6
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	var logLevel gormlogger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = gormlogger.Error
	} else {
		logLevel = gormlogger.Warn
	}
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch AppConfig.DBDriver {
	case "sqlite":
		logger.L().Infof("Opening sqlite database at %s", AppConfig.SQLitePath)
		dialector = sqlite.Open(AppConfig.SQLitePath)
	default:
		// Log connection info (masked for security)
		logger.L().Infof("Connecting to database: host=%s port=%s user=%s dbname=%s",
			maskHost(AppConfig.DBHost),
			AppConfig.DBPort,
			AppConfig.DBUser,
			AppConfig.DBName,
		)
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
			AppConfig.DBHost,
			AppConfig.DBUser,
			AppConfig.DBPassword,
			AppConfig.DBName,
			AppConfig.DBPort,
		)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.L().Info("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
