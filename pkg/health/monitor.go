// Package health runs a liveness heartbeat against the API and tells
// subscribers when the backend goes down or comes back.
package health

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"eventclub/pkg/metrics"

	"go.uber.org/zap"
)

type Config struct {
	BaseURL           string
	Endpoint          string
	Timeout           time.Duration
	RetryCount        int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	FailureThreshold  int
}

func DefaultConfig() Config {
	return Config{
		Endpoint:          "/api/health",
		Timeout:           5 * time.Second,
		RetryCount:        2,
		RetryDelay:        time.Second,
		HeartbeatInterval: 30 * time.Second,
		FailureThreshold:  3,
	}
}

type Listener func(healthy bool)

type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

type Monitor struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	healthy  bool
	failures int

	// notifyMu orders state transitions with their notifications.
	notifyMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      ListenerID

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Monitor)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Monitor) { m.client = client }
}

func NewMonitor(cfg Config, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("health base URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("health timeout must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, errors.New("heartbeat interval must be positive")
	}
	if cfg.FailureThreshold < 1 {
		return nil, errors.New("failure threshold must be at least 1")
	}
	if cfg.RetryCount < 0 {
		return nil, errors.New("retry count cannot be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	m := &Monitor{
		cfg:     cfg,
		client:  &http.Client{},
		logger:  logger,
		now:     time.Now,
		healthy: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	metrics.ServerHealthy.Set(1)
	return m, nil
}

func (m *Monitor) Config() Config {
	return m.cfg
}

func (m *Monitor) ServerHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

func (m *Monitor) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

func (m *Monitor) ResetFailureCount() {
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()

	metrics.HealthConsecutiveFailures.Set(0)
	m.logger.Info("Health failure counter reset")
}

// ForceSetServerHealth overrides the health flag and notifies listeners even
// when the value does not change.
func (m *Monitor) ForceSetServerHealth(healthy bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.healthy = healthy
	m.mu.Unlock()

	metrics.ServerHealthy.Set(metrics.BoolToFloat(healthy))
	m.logger.Warn("Server health forced", zap.Bool("healthy", healthy))
	m.notify(healthy)
}

// AddListener registers fn for health transitions. Listeners run in
// registration order on the probing goroutine and must not call
// ForceSetServerHealth.
func (m *Monitor) AddListener(fn Listener) ListenerID {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Monitor) RemoveListener(id ListenerID) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Monitor) ListenerCount() int {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	return len(m.listeners)
}

func (m *Monitor) notify(healthy bool) {
	m.listenersMu.Lock()
	snapshot := make([]listenerEntry, len(m.listeners))
	copy(snapshot, m.listeners)
	m.listenersMu.Unlock()

	for _, l := range snapshot {
		m.invoke(l, healthy)
	}
}

func (m *Monitor) invoke(l listenerEntry, healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Health listener panicked",
				zap.Uint64("listener_id", uint64(l.id)),
				zap.Any("panic", r))
		}
	}()
	l.fn(healthy)
}

// StartHeartbeat probes immediately and then on every interval until
// StopHeartbeat or ctx is done. It returns false if a heartbeat is already
// running.
func (m *Monitor) StartHeartbeat(ctx context.Context) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		m.logger.Warn("Heartbeat already running")
		return false
	}

	m.running = true
	m.stopCh = make(chan struct{})

	m.logger.Info("Starting heartbeat",
		zap.String("url", m.cfg.BaseURL+m.cfg.Endpoint),
		zap.Duration("interval", m.cfg.HeartbeatInterval))

	m.wg.Add(1)
	go m.run(ctx, m.stopCh)
	return true
}

func (m *Monitor) run(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.runMu.Lock()
		if m.running && m.stopCh == stopCh {
			m.running = false
		}
		m.runMu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	m.ProbeWithRetry(runCtx)

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			m.ProbeWithRetry(runCtx)
		}
	}
}

func (m *Monitor) StopHeartbeat() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	close(m.stopCh)
	m.running = false
	m.runMu.Unlock()

	m.wg.Wait()
	m.logger.Info("Heartbeat stopped")
}

func (m *Monitor) HeartbeatRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// Destroy stops the heartbeat and drops every listener.
func (m *Monitor) Destroy() {
	m.StopHeartbeat()

	m.listenersMu.Lock()
	m.listeners = nil
	m.listenersMu.Unlock()

	m.logger.Info("Health monitor destroyed")
}
