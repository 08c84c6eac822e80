package logger

import (
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	once   sync.Once
)

// Init builds the process-wide logger. Later calls are no-ops.
func Init(level string) error {
	var err error
	once.Do(func() {
		global, err = New(level)
	})
	return err
}

// Get returns the process-wide logger, building it from LOG_LEVEL on first use.
func Get() *zap.Logger {
	if global == nil {
		level := os.Getenv("LOG_LEVEL")
		if level == "" {
			level = "info"
		}
		if err := Init(level); err != nil || global == nil {
			return zap.NewNop()
		}
	}
	return global
}

// Replace swaps the process-wide logger and returns a func restoring the old one.
func Replace(l *zap.Logger) (restore func()) {
	Get()
	prev := global
	global = l
	return func() { global = prev }
}

// ForRequest returns the process-wide logger tagged with the request id set
// by chi's RequestID middleware, the method and the path.
func ForRequest(r *http.Request) *zap.Logger {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return Get().With(fields...)
}

// Sync flushes buffered entries.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}

// New builds a JSON logger at the given level. Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "message"

	return cfg.Build()
}
