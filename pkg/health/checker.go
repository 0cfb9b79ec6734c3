package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventclub/pkg/metrics"

	"go.uber.org/zap"
)

type Result struct {
	Healthy      bool
	Status       int
	ResponseTime time.Duration
	Err          error
	Timestamp    time.Time
}

// ProbeOnce issues one liveness request and folds its outcome into the
// monitor state.
func (m *Monitor) ProbeOnce(ctx context.Context) Result {
	start := m.now()
	url := m.cfg.BaseURL + m.cfg.Endpoint

	status, err := m.probe(ctx, url)
	elapsed := m.now().Sub(start)

	result := Result{
		Healthy:      err == nil,
		Status:       status,
		ResponseTime: elapsed,
		Err:          err,
		Timestamp:    m.now(),
	}

	if result.Healthy {
		metrics.HealthProbesTotal.WithLabelValues("success").Inc()
		m.logger.Debug("Health check passed",
			zap.String("url", url),
			zap.Duration("duration", elapsed))
		m.handleSuccess()
		return result
	}

	// A probe abandoned by its caller says nothing about the server.
	if ctx.Err() != nil {
		return result
	}

	metrics.HealthProbesTotal.WithLabelValues("failure").Inc()
	failures := m.handleFailure()
	m.logger.Warn("Health check failed",
		zap.String("url", url),
		zap.Error(err),
		zap.Int("status_code", status),
		zap.Duration("duration", elapsed),
		zap.Int("consecutive_failures", failures),
		zap.Int("failure_threshold", m.cfg.FailureThreshold))

	return result
}

func (m *Monitor) probe(ctx context.Context, url string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.StatusCode, nil
}

// ProbeWithRetry probes up to RetryCount+1 times, stopping at the first
// success. Every failed attempt counts toward the threshold.
func (m *Monitor) ProbeWithRetry(ctx context.Context) Result {
	var result Result

	for attempt := 0; attempt <= m.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			m.logger.Debug("Retrying health check",
				zap.Int("attempt", attempt),
				zap.Duration("delay", m.cfg.RetryDelay))

			timer := time.NewTimer(m.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result
			case <-timer.C:
			}
		}

		result = m.ProbeOnce(ctx)
		if result.Healthy {
			return result
		}
	}

	return result
}

func (m *Monitor) handleFailure() int {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.failures++
	failures := m.failures
	tripped := m.healthy && failures >= m.cfg.FailureThreshold
	if tripped {
		m.healthy = false
	}
	m.mu.Unlock()

	metrics.HealthConsecutiveFailures.Set(float64(failures))

	if tripped {
		metrics.ServerHealthy.Set(0)
		m.logger.Error("Server marked unhealthy",
			zap.String("base_url", m.cfg.BaseURL),
			zap.Int("failures", failures))
		m.notify(false)
	}

	return failures
}

func (m *Monitor) handleSuccess() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.failures = 0
	recovered := !m.healthy
	m.healthy = true
	m.mu.Unlock()

	metrics.HealthConsecutiveFailures.Set(0)

	if recovered {
		metrics.ServerHealthy.Set(1)
		m.logger.Info("Server recovered and marked healthy",
			zap.String("base_url", m.cfg.BaseURL))
		m.notify(true)
	}
}
