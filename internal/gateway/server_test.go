package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventclub/internal/config"
	"eventclub/pkg/logger"
	"eventclub/pkg/model"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	auth     map[string]string
}

func newUpstream(t *testing.T) (*upstream, *httptest.Server) {
	t.Helper()
	u := &upstream{
		handlers: map[string]http.HandlerFunc{},
		hits:     map[string]int{},
		auth:     map[string]string{},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		u.mu.Lock()
		u.hits[key]++
		u.auth[key] = r.Header.Get("Authorization")
		h, ok := u.handlers[key]
		u.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"message":"not found"}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return u, srv
}

func (u *upstream) handle(pattern string, h http.HandlerFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handlers[pattern] = h
}

func (u *upstream) hitCount(pattern string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[pattern]
}

func (u *upstream) authFor(pattern string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.auth[pattern]
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = baseURL + "/api"
	cfg.API.Timeout = 2 * time.Second
	cfg.HealthCheck.Enabled = false
	cfg.Gateway.RateLimit.Enabled = false
	cfg.Gateway.JanitorInterval = time.Hour
	return cfg
}

func newGateway(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })

	gw := httptest.NewServer(s.Handler())
	t.Cleanup(gw.Close)
	return s, gw
}

func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doRequest(t *testing.T, method, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestGateway_LoginKeepsTokenAndAuthorizesReads(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("POST /api/auth/login", reply(http.StatusOK,
		`{"success":true,"token":"tok-1","user":{"id":"u1","name":"Test User"}}`))
	up.handle("GET /api/auth/me", reply(http.StatusOK, `{"user":{"id":"u1","name":"Test User"}}`))

	s, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodPost, gw.URL+"/api/auth/login",
		`{"identifier":"user1","password":"123456"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login model.LoginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	assert.True(t, login.Success)
	assert.Empty(t, login.Token, "token must not leave the gateway")
	assert.True(t, s.Service().IsAuthenticated())

	resp, body = doRequest(t, http.MethodGet, gw.URL+"/api/auth/me", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer tok-1", up.authFor("GET /api/auth/me"))
	assert.Equal(t, "live", resp.Header.Get("X-Data-Source"))
	assert.Contains(t, string(body), `"name":"Test User"`)

	resp, body = doRequest(t, http.MethodGet, gw.URL+"/api/auth/session", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"isAuthenticated":true`)
}

func TestGateway_LoginRejectionRelaysStatus(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("POST /api/auth/login", reply(http.StatusUnauthorized,
		`{"success":false,"message":"Invalid credentials"}`))

	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodPost, gw.URL+"/api/auth/login",
		`{"identifier":"user1","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.False(t, eb.Success)
	assert.Equal(t, "Invalid credentials", eb.Message)
	assert.Equal(t, "auth_failure", eb.Category)
	assert.NotEmpty(t, eb.Hint)
}

func TestGateway_LoginWithoutTokenIsUnauthorized(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("POST /api/auth/login", reply(http.StatusOK, `{"success":false,"message":"account locked"}`))

	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodPost, gw.URL+"/api/auth/login",
		`{"identifier":"user1","password":"123456"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "account locked")
}

func TestGateway_LoginValidation(t *testing.T) {
	_, srv := newUpstream(t)
	_, gw := newGateway(t, testConfig(srv.URL))

	resp, _ := doRequest(t, http.MethodPost, gw.URL+"/api/auth/login", `{"identifier":"user1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, gw.URL+"/api/auth/login", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_NotFoundServesMock(t *testing.T) {
	_, srv := newUpstream(t)
	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/api/users/42", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mock", resp.Header.Get("X-Data-Source"))

	var res struct {
		Success bool       `json:"success"`
		Data    model.User `json:"data"`
		Source  string     `json:"source"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Data.ID)
	assert.Equal(t, "mock", res.Source)
}

func TestGateway_ServerErrorFailsOverForAPIClients(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("GET /api/users/42", reply(http.StatusInternalServerError, `{"message":"boom"}`))

	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/api/users/42", "",
		http.Header{"Accept": {"application/json"}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "/info.html", resp.Header.Get("X-Failover-Location"))
	assert.JSONEq(t, `{"success":false,"failover":true,"redirect":"/info.html"}`, string(body))
	assert.Equal(t, 1, up.hitCount("GET /api/users/42"))
}

func TestGateway_ServerErrorRedirectsBrowsers(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("GET /api/events/e1", reply(http.StatusBadGateway, ``))

	_, gw := newGateway(t, testConfig(srv.URL))

	resp, _ := doRequest(t, http.MethodGet, gw.URL+"/api/events/e1", "",
		http.Header{"Accept": {"text/html,application/xhtml+xml"}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/info.html", resp.Header.Get("Location"))
}

func TestGateway_TransportFailureFailsOver(t *testing.T) {
	_, srv := newUpstream(t)
	cfg := testConfig(srv.URL)
	srv.Close()

	_, gw := newGateway(t, cfg)

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/api/users/me", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"failover":true`)
}

func TestGateway_ClientErrorRelaysStatusAndCategory(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("GET /api/users/42", reply(http.StatusForbidden, `{"message":"not your card"}`))
	up.handle("POST /api/messages", reply(http.StatusNotFound, `{"message":"no such user"}`))

	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/api/users/42", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "not your card", eb.Message)
	assert.Equal(t, "permission_denied", eb.Category)

	resp, body = doRequest(t, http.MethodPost, gw.URL+"/api/messages",
		`{"userId":"u2","message":"hi"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "writes never fall back to mock data")
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "not_found", eb.Category)
}

func TestGateway_ClusterMembersQuery(t *testing.T) {
	up, srv := newUpstream(t)
	var query atomic.Value
	up.handle("GET /api/activities/a1/clusters/c1/members", func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		w.Write([]byte(`{"success":true,"data":{"members":[],"pagination":{"page":2,"pageSize":5}}}`))
	})

	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/api/activities/a1/clusters/c1/members?page=2&pageSize=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "page=2&pageSize=5", query.Load())
	assert.Contains(t, string(body), `"pageSize":5`)
}

func TestGateway_RateLimit(t *testing.T) {
	_, srv := newUpstream(t)
	cfg := testConfig(srv.URL)
	cfg.Gateway.RateLimit = config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
		IdleTimeout:       time.Minute,
	}

	_, gw := newGateway(t, cfg)

	resp, _ := doRequest(t, http.MethodGet, gw.URL+"/info.html", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/info.html", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Contains(t, string(body), "rate limit exceeded")
}

func TestGateway_Health(t *testing.T) {
	_, srv := newUpstream(t)
	s, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/gateway/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy":true`)
	assert.Contains(t, string(body), `"upstream":"`+srv.URL+`"`)

	s.Monitor().ForceSetServerHealth(false)
	resp, body = doRequest(t, http.MethodGet, gw.URL+"/gateway/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy":false`)
}

func TestGateway_HeartbeatProbesUpstreamOrigin(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("GET /api/health", reply(http.StatusOK, `{"ok":true}`))

	cfg := testConfig(srv.URL)
	cfg.HealthCheck.Enabled = true
	cfg.Gateway.Port = 0
	cfg.Gateway.Host = "127.0.0.1"

	s, err := NewServer(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return up.hitCount("GET /api/health") >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Monitor().HeartbeatRunning())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
	assert.False(t, s.Monitor().HeartbeatRunning())
	assert.NoError(t, s.Shutdown())
}

func TestGateway_InfoPage(t *testing.T) {
	_, srv := newUpstream(t)
	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/info.html", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<html")
}

func TestGateway_InfoPageOverride(t *testing.T) {
	_, srv := newUpstream(t)
	path := filepath.Join(t.TempDir(), "maintenance.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>down for maintenance</p>"), 0o600))

	cfg := testConfig(srv.URL)
	cfg.Gateway.InfoPage = path
	_, gw := newGateway(t, cfg)

	_, body := doRequest(t, http.MethodGet, gw.URL+"/info.html", "", nil)
	assert.Equal(t, "<p>down for maintenance</p>", string(body))

	cfg = testConfig(srv.URL)
	cfg.Gateway.InfoPage = filepath.Join(t.TempDir(), "missing.html")
	_, err := NewServer(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestGateway_NfcURLRoutes(t *testing.T) {
	_, srv := newUpstream(t)
	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/api/nfc-url?eventId=E&userId=U&env=production", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"url":"http://eventclub.cn/e/E/p/U"`)

	resp, _ = doRequest(t, http.MethodGet, gw.URL+"/api/nfc-url?eventId=E", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doRequest(t, http.MethodGet, gw.URL+"/api/nfc-url/parse?url=http://eventclub.cn/p/U", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"eventId":"00000000-0000-0000-0000-000000000000","userId":"U","isValid":true}`, string(body))

	resp, _ = doRequest(t, http.MethodGet, gw.URL+"/api/nfc-url/parse?url=/p/U", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = doRequest(t, http.MethodPost, gw.URL+"/api/nfc-url/batch",
		`{"eventId":"E","userIds":["u1","u2"],"environment":"production"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"url":"http://eventclub.cn/e/E/p/u2"`)

	resp, body = doRequest(t, http.MethodGet, gw.URL+"/api/nfc-url/guide", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"oldFormat":"/p/{userId}"`)
}

func TestGateway_RequestIDAndNotFound(t *testing.T) {
	_, srv := newUpstream(t)
	_, gw := newGateway(t, testConfig(srv.URL))

	resp, body := doRequest(t, http.MethodGet, gw.URL+"/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, resp.Header.Get("X-Request-Id"), 36)
	assert.Contains(t, string(body), "route not found")
}

func TestGateway_Metrics(t *testing.T) {
	_, srv := newUpstream(t)
	_, gw := newGateway(t, testConfig(srv.URL))

	doRequest(t, http.MethodGet, gw.URL+"/info.html", "", nil)
	resp, body := doRequest(t, http.MethodGet, gw.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "eventclub_gateway_requests_total")
}

func TestGateway_FileTokenStoreSurvivesRestart(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("POST /api/auth/login", reply(http.StatusOK, `{"success":true,"token":"persisted"}`))
	up.handle("GET /api/users/me", reply(http.StatusOK, `{"user":{"id":"u1"}}`))

	cfg := testConfig(srv.URL)
	cfg.TokenStore = config.TokenStoreConfig{Type: "file", Path: filepath.Join(t.TempDir(), "token.yaml")}

	_, gw := newGateway(t, cfg)
	resp, _ := doRequest(t, http.MethodPost, gw.URL+"/api/auth/login", `{"identifier":"a","password":"b"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s2, gw2 := newGateway(t, cfg)
	assert.True(t, s2.Service().IsAuthenticated())

	resp, _ = doRequest(t, http.MethodGet, gw2.URL+"/api/users/me", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer persisted", up.authFor("GET /api/users/me"))
}

func TestProbe(t *testing.T) {
	up, srv := newUpstream(t)
	up.handle("GET /api/health", reply(http.StatusOK, `{"ok":true}`))

	cfg := testConfig(srv.URL)
	cfg.HealthCheck.RetryDelay = time.Millisecond

	res, err := Probe(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	assert.True(t, res.Healthy)
	assert.Equal(t, http.StatusOK, res.Status)

	up.handle("GET /api/health", reply(http.StatusServiceUnavailable, ``))
	res, err = Probe(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	assert.False(t, res.Healthy)
	assert.Equal(t, 1+cfg.HealthCheck.RetryCount+1, up.hitCount("GET /api/health"))
}
