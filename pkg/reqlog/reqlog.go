// Package reqlog emits correlated diagnostic records for outbound API calls.
// It never alters control flow: callers decide what to do with a failure.
package reqlog

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Logger struct {
	log     *zap.Logger
	counter atomic.Uint64
	now     func() time.Time
}

// ErrorContext describes the call a failure belongs to.
type ErrorContext struct {
	Method   string
	URL      string
	Status   int
	Duration time.Duration
	Body     []byte
}

func New(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{
		log: log,
		now: time.Now,
	}
}

// NewRequestID combines wall-clock milliseconds with a process-wide counter.
func (l *Logger) NewRequestID() string {
	n := l.counter.Add(1)
	return fmt.Sprintf("req_%d_%d", l.now().UnixMilli(), n)
}

func (l *Logger) LogRequest(id, method, url string, headers http.Header, body []byte) {
	fields := []zap.Field{
		zap.String("request_id", id),
		zap.String("method", method),
		zap.String("url", url),
		zap.Any("headers", flatten(headers)),
	}

	if headers.Get("Cache-Control") != "" || headers.Get("Pragma") != "" || headers.Get("Expires") != "" {
		fields = append(fields, zap.Bool("no_cache", true))
	}

	if len(body) > 0 {
		fields = append(fields,
			zap.String("body_size", FormatSize(len(body))),
			zap.ByteString("body", body))
	}

	l.log.Debug("API request sent", fields...)
}

func (l *Logger) LogResponse(id string, start time.Time, status int, headers http.Header, body []byte) {
	duration := l.now().Sub(start)

	l.log.Debug("API response received",
		zap.String("request_id", id),
		zap.Duration("duration", duration),
		zap.Int("status", status),
		zap.String("status_text", http.StatusText(status)),
		zap.Any("headers", flatten(headers)),
		zap.String("body_size", FormatSize(len(body))))
}

func (l *Logger) LogSuccess(id, message string, body []byte) {
	fields := []zap.Field{zap.String("request_id", id)}
	if len(body) > 0 {
		fields = append(fields, zap.ByteString("data", body))
	}
	l.log.Info(message, fields...)
}

// LogError classifies err, logs it with a remediation hint and returns the
// category so the caller can feed it into its own decisions.
func (l *Logger) LogError(id string, err error, ec ErrorContext) Category {
	category := Classify(err, ec.Status)

	fields := []zap.Field{
		zap.String("request_id", id),
		zap.Error(err),
		zap.String("category", string(category)),
		zap.String("method", ec.Method),
		zap.String("url", ec.URL),
	}

	if hint := category.Hint(); hint != "" {
		fields = append(fields, zap.String("hint", hint))
	}
	if ec.Status != 0 {
		fields = append(fields,
			zap.Int("status", ec.Status),
			zap.String("status_description", StatusDescription(ec.Status)))
	}
	if ec.Duration > 0 {
		fields = append(fields,
			zap.Duration("duration", ec.Duration),
			zap.String("duration_analysis", DurationAnalysis(ec.Duration)))
	}
	if len(ec.Body) > 0 {
		fields = append(fields, zap.ByteString("response_body", ec.Body))
	}

	l.log.Error("API request failed", fields...)
	return category
}

func (l *Logger) LogDebug(id, message string, fields ...zap.Field) {
	l.log.Debug(message, append([]zap.Field{zap.String("request_id", id)}, fields...)...)
}

func DurationAnalysis(d time.Duration) string {
	switch {
	case d < 100*time.Millisecond:
		return "fast"
	case d < 500*time.Millisecond:
		return "normal"
	case d < time.Second:
		return "slow"
	case d < 3*time.Second:
		return "very slow"
	default:
		return "timeout-grade"
	}
}

func FormatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
