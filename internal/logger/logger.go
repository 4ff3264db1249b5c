// Package logger builds the process logger. Records below ERROR go to
// stdout, ERROR and above to stderr, and everything to the optional log file.
package logger

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger for env ("production" logs JSON at INFO, anything
// else logs console text at DEBUG). The returned func closes the log file.
func New(env, logPath string) (*zap.Logger, func(), error) {
	var file io.Writer
	cleanup := func() {}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		file = f
		cleanup = func() { f.Close() }
	}

	return NewWithWriters(env, os.Stdout, os.Stderr, file), cleanup, nil
}

// NewWithWriters builds the same routing over arbitrary writers. file may be nil.
func NewWithWriters(env string, stdout, stderr, file io.Writer) *zap.Logger {
	var (
		encCfg  zapcore.EncoderConfig
		minimum zapcore.Level
		encode  func(zapcore.EncoderConfig) zapcore.Encoder
	)
	if env == "production" {
		encCfg = zap.NewProductionEncoderConfig()
		minimum = zapcore.InfoLevel
		encode = zapcore.NewJSONEncoder
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		minimum = zapcore.DebugLevel
		encode = zapcore.NewConsoleEncoder
	}
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	low := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minimum && l < zapcore.ErrorLevel
	})
	high := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel
	})

	cores := []zapcore.Core{
		zapcore.NewCore(encode(encCfg), zapcore.AddSync(stdout), low),
		zapcore.NewCore(encode(encCfg), zapcore.AddSync(stderr), high),
	}
	if file != nil {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "timestamp"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), minimum))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware logs each HTTP request with method, path, status and duration.
func Middleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.RequestURI()),
				zap.Int("status", rec.status),
				zap.Duration("latency", time.Since(start).Round(time.Millisecond)),
			}
			if id := r.Header.Get("X-Request-ID"); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}

			switch {
			case rec.status >= http.StatusInternalServerError:
				log.Error("http request", fields...)
			default:
				log.Info("http request", fields...)
			}
		})
	}
}
