// Package apiclient performs authenticated JSON calls against the EventClub
// API and escalates severe backend failures to a failover navigation.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"eventclub/pkg/metrics"
	"eventclub/pkg/reqlog"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const DefaultTimeout = 15 * time.Second

type Client struct {
	baseURL         string
	httpClient      *http.Client
	timeout         time.Duration
	failoverTarget  string
	failoverCeiling time.Duration
	navigator       Navigator
	store           TokenStore
	reqlog          *reqlog.Logger
	logger          *zap.Logger
	now             func() time.Time

	// writeMu orders token writers across store I/O; mu only guards token.
	writeMu sync.Mutex
	mu      sync.RWMutex
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every call; zero disables the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithFailoverTarget(target string) Option {
	return func(c *Client) { c.failoverTarget = target }
}

func WithDefaultNavigator(nav Navigator) Option {
	return func(c *Client) { c.navigator = nav }
}

func WithTokenStore(store TokenStore) Option {
	return func(c *Client) { c.store = store }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(ctx context.Context, baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		timeout:         DefaultTimeout,
		failoverTarget:  DefaultFailoverTarget,
		failoverCeiling: FailoverElapsedCeiling,
		logger:          zap.NewNop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	c.reqlog = reqlog.New(c.logger)

	token, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("Failed to load stored token, continuing unauthenticated", zap.Error(err))
		token = ""
	}

	if token != "" && tokenExpired(token, c.now()) {
		c.logger.Info("Stored token expired, clearing it")
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Warn("Failed to clear expired token", zap.Error(err))
		}
		token = ""
	}
	c.token = token

	c.reqlog.LogDebug("init", "API client initialized",
		zap.String("base_url", c.baseURL),
		zap.Bool("has_token", token != ""),
		zap.Int("token_length", len(token)))

	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) IsAuthenticated() bool {
	return c.Token() != ""
}

func (c *Client) swapToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetToken stores token in memory and in the durable mirror. Neither copy
// changes if the mirror rejects the write.
func (c *Client) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return c.ClearToken(ctx)
	}
	if tokenExpired(token, c.now()) {
		return ErrTokenExpired
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Save(ctx, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	c.swapToken(token)

	c.reqlog.LogDebug("setToken", "Auth token set", zap.Int("token_length", len(token)))
	return nil
}

func (c *Client) ClearToken(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear persisted token: %w", err)
	}
	c.swapToken("")

	c.reqlog.LogDebug("clearToken", "Auth token cleared")
	return nil
}

// invalidateToken drops the token after a 401, unless it was replaced
// while the call was in flight.
func (c *Client) invalidateToken(ctx context.Context, id, sent string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.Token() != sent {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear rejected token", zap.String("request_id", id), zap.Error(err))
		return
	}
	c.swapToken("")
	c.logger.Warn("Server rejected the auth token, cleared it", zap.String("request_id", id))
}

type Response struct {
	RequestID string
	Status    int
	Header    http.Header
	Body      []byte
	Duration  time.Duration
}

func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type requestConfig struct {
	noCache   bool
	keepOn401 bool
	headers   http.Header
}

type RequestOption func(*requestConfig)

// WithNoCache adds the cache-busting headers for data that must never be stale.
func WithNoCache() RequestOption {
	return func(rc *requestConfig) { rc.noCache = true }
}

func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) { rc.headers.Set(key, value) }
}

// WithoutTokenInvalidation keeps the held token when the call returns 401,
// for calls such as login where 401 says nothing about the current session.
func WithoutTokenInvalidation() RequestOption {
	return func(rc *requestConfig) { rc.keepOn401 = true }
}

func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	rc := requestConfig{headers: http.Header{}}
	for _, opt := range opts {
		opt(&rc)
	}

	id := c.reqlog.NewRequestID()
	start := c.now()
	fullURL := c.resolve(path)
	headers, sentToken := c.buildHeaders(rc)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	c.reqlog.LogRequest(id, method, fullURL, headers, payload)

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var bodyReader io.Reader = http.NoBody
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(callCtx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(ctx, id, c.transportError(ctx, method, fullURL, start, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(ctx, id, c.transportError(ctx, method, fullURL, start, err))
	}

	c.reqlog.LogResponse(id, start, resp.StatusCode, resp.Header, raw)
	elapsed := c.now().Sub(start)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{
			Kind:     KindHTTP,
			Method:   method,
			URL:      fullURL,
			Status:   resp.StatusCode,
			Body:     raw,
			Message:  serverMessage(raw),
			Duration: elapsed,
		}
		if resp.StatusCode == http.StatusUnauthorized && sentToken != "" && !rc.keepOn401 {
			c.invalidateToken(ctx, id, sentToken)
		}
		return nil, c.fail(ctx, id, apiErr)
	}

	if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
		return nil, c.fail(ctx, id, &Error{
			Kind:     KindParse,
			Method:   method,
			URL:      fullURL,
			Status:   resp.StatusCode,
			Body:     raw,
			Duration: elapsed,
			Err:      ErrMalformedBody,
			category: reqlog.CategoryParse,
		})
	}

	metrics.APIRequestsTotal.WithLabelValues(method, metrics.StatusClass(resp.StatusCode)).Inc()
	c.reqlog.LogSuccess(id, fmt.Sprintf("%s %s succeeded", method, fullURL), raw)

	return &Response{
		RequestID: id,
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      raw,
		Duration:  elapsed,
	}, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// buildHeaders snapshots the token once so the header and the value used
// for later invalidation always agree.
func (c *Client) buildHeaders(rc requestConfig) (http.Header, string) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	token := c.Token()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	if rc.noCache {
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
	}

	for k, vv := range rc.headers {
		for _, v := range vv {
			h.Add(k, v)
		}
	}

	return h, token
}

func (c *Client) transportError(ctx context.Context, method, url string, start time.Time, err error) *Error {
	e := &Error{
		Kind:     KindTransport,
		Method:   method,
		URL:      url,
		Duration: c.now().Sub(start),
		Err:      err,
	}

	// The caller gave up; the backend is not at fault.
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.Kind = KindCanceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			e.category = reqlog.CategoryTimeout
		} else {
			e.category = reqlog.CategoryUnknown
		}
	}

	return e
}

func (c *Client) fail(ctx context.Context, id string, e *Error) error {
	category := c.reqlog.LogError(id, e, reqlog.ErrorContext{
		Method:   e.Method,
		URL:      e.URL,
		Status:   e.Status,
		Duration: e.Duration,
		Body:     e.Body,
	})
	if e.category == "" {
		e.category = category
	}

	switch e.Kind {
	case KindHTTP:
		metrics.APIRequestsTotal.WithLabelValues(e.Method, metrics.StatusClass(e.Status)).Inc()
	default:
		metrics.APIRequestsTotal.WithLabelValues(e.Method, string(e.Kind)).Inc()
	}

	if e.Kind == KindCanceled {
		return e
	}

	reason := failoverReason(e.Kind == KindTransport, e.Status, e.Duration, c.failoverCeiling)
	if reason == "" {
		return e
	}

	c.logger.Error("Failover triggered, navigating to fallback page",
		zap.String("request_id", id),
		zap.String("reason", reason),
		zap.String("target", c.failoverTarget),
		zap.Int("status", e.Status),
		zap.Duration("duration", e.Duration))
	metrics.FailoversTotal.WithLabelValues(reason).Inc()

	navigatorFrom(ctx, c.navigator).Navigate(ctx, c.failoverTarget)

	return &FailoverError{
		Target: c.failoverTarget,
		Reason: reason,
		Cause:  e,
	}
}

func serverMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error
}
