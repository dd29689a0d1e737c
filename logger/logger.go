// Package logger builds the process-wide zap logger.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	global = zap.NewNop().Sugar()
)

// Options controls how Init builds the logger
type Options struct {
	Level       string // debug, info, warn, error
	File        string // optional rotated log file
	Environment string // "production" switches to JSON output
}

// Init builds the global logger. It is safe to call more than once.
func Init(opts Options) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if opts.Environment == "production" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // MB
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()

	mu.Lock()
	global = l
	mu.Unlock()
	return l
}

// L returns the global logger. Before Init it is a no-op logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Named returns a child of the global logger tagged with a component name
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

// Sync flushes buffered entries
func Sync() {
	_ = L().Sync()
}
