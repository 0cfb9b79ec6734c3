package gateway

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"eventclub/pkg/apiclient"
	"eventclub/pkg/logger"
	"eventclub/pkg/metrics"
	"eventclub/pkg/ratelimit"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Middleware struct {
	logger  *logger.Logger
	limiter *ratelimit.Limiter
}

func NewMiddleware(logger *logger.Logger, limiter *ratelimit.Limiter) *Middleware {
	return &Middleware{
		logger:  logger,
		limiter: limiter,
	}
}

// Chain assigns the request id, recovers panics, rate limits and logs the
// outcome of every request.
func (m *Middleware) Chain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.New().String()
		r = r.WithContext(contextWithRequestID(r.Context(), requestID))
		w.Header().Set("X-Request-Id", requestID)

		log := m.logger.WithRequestID(requestID)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path))
				if !wrapped.written {
					writeJSON(wrapped, http.StatusInternalServerError, errorBody{
						Message: "internal server error",
					})
				}
			}

			duration := time.Since(start)
			metrics.GatewayRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.status)).Inc()
			log.Info("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Duration("duration", duration))
		}()

		if m.limiter != nil {
			ip := getClientIP(r)
			if ok, retryAfter := m.limiter.Allow(ip); !ok {
				metrics.GatewayRateLimited.Inc()
				log.Warn("Rate limit exceeded",
					zap.String("client_ip", ip),
					zap.String("path", r.URL.Path),
					zap.Duration("retry_after", retryAfter))
				wrapped.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
				writeJSON(wrapped, http.StatusTooManyRequests, errorBody{
					Message: "rate limit exceeded",
				})
				return
			}
		}

		next.ServeHTTP(wrapped, r)
	})
}

// Failover attaches a navigator that turns an upstream failover into a
// redirect for browsers or a 503 for API clients.
func (m *Middleware) Failover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}

		nav := &failoverNavigator{w: rw, r: r}
		ctx := apiclient.WithNavigator(r.Context(), nav)

		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

type failoverNavigator struct {
	w *responseWriter
	r *http.Request
}

func (n *failoverNavigator) Navigate(_ context.Context, target string) {
	writeFailover(n.w, n.r, target)
}

type failoverBody struct {
	Success  bool   `json:"success"`
	Failover bool   `json:"failover"`
	Redirect string `json:"redirect"`
}

func writeFailover(w http.ResponseWriter, r *http.Request, target string) {
	if alreadyWritten(w) {
		return
	}

	if acceptsHTML(r) {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	w.Header().Set("X-Failover-Location", target)
	writeJSON(w, http.StatusServiceUnavailable, failoverBody{
		Success:  false,
		Failover: true,
		Redirect: target,
	})
}

func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type contextKey string

const requestIDKey contextKey = "requestID"

func contextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.written {
		return
	}
	rw.status = statusCode
	rw.written = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func alreadyWritten(w http.ResponseWriter) bool {
	rw, ok := w.(*responseWriter)
	return ok && rw.written
}
