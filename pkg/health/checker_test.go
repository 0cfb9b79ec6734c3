package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	status atomic.Int32
	hits   atomic.Int32
	delay  atomic.Int64
	header atomic.Value
	path   atomic.Value
}

func newFakeBackend(t *testing.T, status int) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{}
	b.status.Store(int32(status))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		b.header.Store(r.Header.Clone())
		b.path.Store(r.URL.Path)
		if d := time.Duration(b.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		w.WriteHeader(int(b.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RetryDelay = time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) listen(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, healthy)
}

func (r *recorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestNewMonitor_Validation(t *testing.T) {
	_, err := NewMonitor(DefaultConfig(), zap.NewNop())
	assert.Error(t, err, "empty base URL")

	cfg := testConfig("http://localhost")
	cfg.FailureThreshold = 0
	_, err = NewMonitor(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig("http://localhost")
	cfg.Timeout = 0
	_, err = NewMonitor(cfg, zap.NewNop())
	assert.Error(t, err)

	m, err := NewMonitor(testConfig("http://localhost/"), nil)
	require.NoError(t, err)
	assert.True(t, m.ServerHealthy())
	assert.Equal(t, "http://localhost", m.Config().BaseURL)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, "/api/health", cfg.Endpoint)
}

func TestProbeOnce_SendsNoCacheHeaders(t *testing.T) {
	b, srv := newFakeBackend(t, http.StatusOK)
	m, err := NewMonitor(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	res := m.ProbeOnce(context.Background())
	assert.True(t, res.Healthy)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.NoError(t, res.Err)
	assert.False(t, res.Timestamp.IsZero())

	h := b.header.Load().(http.Header)
	assert.Equal(t, "no-cache, no-store, must-revalidate", h.Get("Cache-Control"))
	assert.Equal(t, "no-cache", h.Get("Pragma"))
	assert.Equal(t, "0", h.Get("Expires"))
	assert.Equal(t, "/api/health", b.path.Load())
}

func TestProbeOnce_ThresholdAndRecoveryNotifyOnce(t *testing.T) {
	b, srv := newFakeBackend(t, http.StatusInternalServerError)
	m, err := NewMonitor(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	rec := &recorder{}
	m.AddListener(rec.listen)
	ctx := context.Background()

	m.ProbeOnce(ctx)
	m.ProbeOnce(ctx)
	assert.True(t, m.ServerHealthy())
	assert.Equal(t, 2, m.ConsecutiveFailures())
	assert.Empty(t, rec.got())

	res := m.ProbeOnce(ctx)
	assert.False(t, res.Healthy)
	assert.Error(t, res.Err)
	assert.False(t, m.ServerHealthy())
	assert.Equal(t, []bool{false}, rec.got())

	m.ProbeOnce(ctx)
	assert.Equal(t, 4, m.ConsecutiveFailures())
	assert.Equal(t, []bool{false}, rec.got())

	b.status.Store(http.StatusOK)
	m.ProbeOnce(ctx)
	m.ProbeOnce(ctx)
	assert.True(t, m.ServerHealthy())
	assert.Equal(t, 0, m.ConsecutiveFailures())
	assert.Equal(t, []bool{false, true}, rec.got())
}

func TestProbeOnce_SuccessResetsStreak(t *testing.T) {
	b, srv := newFakeBackend(t, http.StatusBadGateway)
	m, err := NewMonitor(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	m.ProbeOnce(ctx)
	m.ProbeOnce(ctx)
	b.status.Store(http.StatusNoContent)
	m.ProbeOnce(ctx)
	b.status.Store(http.StatusBadGateway)
	m.ProbeOnce(ctx)
	m.ProbeOnce(ctx)

	assert.True(t, m.ServerHealthy())
	assert.Equal(t, 2, m.ConsecutiveFailures())
}

func TestProbeOnce_Timeout(t *testing.T) {
	b, srv := newFakeBackend(t, http.StatusOK)
	b.delay.Store(int64(200 * time.Millisecond))

	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	m, err := NewMonitor(cfg, zap.NewNop())
	require.NoError(t, err)

	res := m.ProbeOnce(context.Background())
	assert.False(t, res.Healthy)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, m.ConsecutiveFailures())
}

func TestProbeOnce_CanceledCallerDoesNotCount(t *testing.T) {
	_, srv := newFakeBackend(t, http.StatusOK)
	m, err := NewMonitor(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.ProbeOnce(ctx)
	assert.False(t, res.Healthy)
	assert.Equal(t, 0, m.ConsecutiveFailures())
}

func TestProbeWithRetry_AttemptCount(t *testing.T) {
	b, srv := newFakeBackend(t, http.StatusServiceUnavailable)
	m, err := NewMonitor(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	res := m.ProbeWithRetry(context.Background())
	assert.False(t, res.Healthy)
	assert.Equal(t, int32(3), b.hits.Load())
	assert.Equal(t, 3, m.ConsecutiveFailures())
	assert.False(t, m.ServerHealthy())
}

func TestProbeWithRetry_StopsOnSuccess(t *testing.T) {
	var hits atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer flaky.Close()

	m, err := NewMonitor(testConfig(flaky.URL), zap.NewNop())
	require.NoError(t, err)

	res := m.ProbeWithRetry(context.Background())
	assert.True(t, res.Healthy)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 0, m.ConsecutiveFailures())
}
