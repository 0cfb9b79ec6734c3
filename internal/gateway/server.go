package gateway

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"

	"eventclub/internal/config"
	"eventclub/pkg/apiclient"
	"eventclub/pkg/eventclub"
	"eventclub/pkg/fallback"
	"eventclub/pkg/health"
	"eventclub/pkg/logger"
	"eventclub/pkg/ratelimit"
	tlsconfig "eventclub/pkg/tls"
	"eventclub/pkg/tokenstore"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

//go:embed info.html
var defaultInfoPage []byte

type Server struct {
	config     *config.Config
	logger     *logger.Logger
	server     *http.Server
	service    *eventclub.Service
	monitor    *health.Monitor
	limiter    *ratelimit.Limiter
	janitor    *Janitor
	middleware *Middleware
	handler    *Handler
	router     http.Handler
	closers    []io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	httpClient, err := upstreamClient(cfg.API)
	if err != nil {
		return nil, err
	}

	store, closer, err := newTokenStore(ctx, cfg.TokenStore)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		logger: log,
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	client, err := apiclient.NewClient(ctx, cfg.API.BaseURL,
		apiclient.WithHTTPClient(httpClient),
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithFailoverTarget(cfg.API.FailoverTarget),
		apiclient.WithTokenStore(store),
		apiclient.WithLogger(log.Named("apiclient").Zap()),
	)
	if err != nil {
		s.closeAll()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	policy := fallback.NewPolicy(fallback.Config{
		MockEnabled:  cfg.Fallback.MockEnabled,
		StaleEnabled: cfg.Fallback.StaleEnabled,
		StaleTTL:     cfg.Fallback.StaleTTL,
		MaxEntries:   cfg.Fallback.MaxEntries,
	}, log.Named("fallback").Zap())

	serviceOpts := []eventclub.Option{eventclub.WithLogger(log.Named("eventclub").Zap())}
	if cfg.API.DefaultEventID != "" {
		serviceOpts = append(serviceOpts, eventclub.WithDefaultEventID(cfg.API.DefaultEventID))
	}
	s.service = eventclub.NewService(client, policy, serviceOpts...)

	s.monitor, err = newMonitor(cfg, log, httpClient)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.monitor.AddListener(func(healthy bool) {
		if healthy {
			log.Info("Upstream API is healthy again")
			return
		}
		log.Warn("Upstream API marked unhealthy",
			zap.Int("consecutive_failures", s.monitor.ConsecutiveFailures()))
	})

	if cfg.Gateway.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(cfg.Gateway.RateLimit.RequestsPerMinute, cfg.Gateway.RateLimit.Burst)
	}

	infoPage := defaultInfoPage
	if cfg.Gateway.InfoPage != "" {
		infoPage, err = os.ReadFile(cfg.Gateway.InfoPage)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("failed to read info page: %w", err)
		}
	}

	sweeps := []Sweep{{Name: "stale_cache", Run: policy.Cache().CleanupExpired}}
	if s.limiter != nil {
		idle := cfg.Gateway.RateLimit.IdleTimeout
		sweeps = append(sweeps, Sweep{
			Name: "rate_limit",
			Run:  func() int { return s.limiter.CleanupStale(idle) },
		})
	}
	s.janitor = NewJanitor(cfg.Gateway.JanitorInterval, log.Named("janitor"), sweeps...)

	s.middleware = NewMiddleware(log, s.limiter)
	s.handler = NewHandler(s.service, s.monitor, log, cfg.API.FailoverTarget, infoPage)
	s.router = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.middleware.Chain)
	r.NotFound(s.handler.NotFound)

	r.Get("/gateway/health", s.handler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/info.html", s.handler.InfoPage)

	r.Route("/api", func(r chi.Router) {
		r.Route("/nfc-url", func(r chi.Router) {
			r.Get("/", s.handler.GenerateNfcURL)
			r.Post("/batch", s.handler.GenerateNfcURLBatch)
			r.Get("/parse", s.handler.ParseNfcURL)
			r.Get("/guide", s.handler.NfcURLGuide)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.middleware.Failover)

			r.Post("/auth/login", s.handler.Login)
			r.Post("/auth/logout", s.handler.Logout)
			r.Get("/auth/session", s.handler.Session)
			r.Get("/auth/me", s.handler.CurrentUser)

			r.Get("/users/me", s.handler.MyCard)
			r.Put("/users/me", s.handler.UpdateMyCard)
			r.Get("/users/{userID}", s.handler.UserInfo)
			r.Get("/cards/{slug}", s.handler.UserCard)

			r.Get("/events/{eventID}", s.handler.ActivityDetail)
			r.Get("/events/{eventID}/enrollments", s.handler.EventEnrollments)
			r.Get("/activities/{activityID}/match", s.handler.ActivityMatch)
			r.Get("/activities/{activityID}/clusters/{clusterID}/members", s.handler.ClusterMembers)
			r.Get("/match/results", s.handler.MatchResults)

			r.Get("/nfc/{userID}", s.handler.NfcMatchData)
			r.Post("/nfc/{eventID}/{userID}", s.handler.NfcMatch)
			r.Post("/qr/{eventID}", s.handler.QrMatch)
			r.Post("/messages", s.handler.SendMessage)
			r.Post("/contacts/exchange", s.handler.ExchangeContact)
		})
	})

	return r
}

// Handler exposes the routed gateway, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Monitor() *health.Monitor {
	return s.monitor
}

func (s *Server) Service() *eventclub.Service {
	return s.service
}

func (s *Server) Start(ctx context.Context) error {
	gw := s.config.Gateway

	s.server = &http.Server{
		Addr:         gw.Addr(),
		Handler:      s.router,
		ReadTimeout:  gw.ReadTimeout,
		WriteTimeout: gw.WriteTimeout,
	}

	if gw.TLS.Enabled {
		tlsCfg, err := tlsconfig.NewConfig(gw.TLS.CertFile, gw.TLS.KeyFile).Load()
		if err != nil {
			return err
		}
		s.server.TLSConfig = tlsCfg
	}

	if s.config.HealthCheck.Enabled {
		s.monitor.StartHeartbeat(ctx)
	}
	s.janitor.Start()

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting gateway",
			zap.String("address", s.server.Addr),
			zap.Bool("tls", gw.TLS.Enabled),
			zap.String("upstream", s.config.API.BaseURL))

		var err error
		if gw.TLS.Enabled {
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down gateway")
		return s.Shutdown()
	case err := <-errCh:
		s.Shutdown()
		return err
	}
}

// Shutdown stops background work and drains in-flight requests. It is safe
// to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Gateway.ShutdownTimeout)
		defer cancel()

		var wg sync.WaitGroup

		wg.Add(2)
		go func() {
			defer wg.Done()
			s.monitor.Destroy()
		}()
		go func() {
			defer wg.Done()
			s.janitor.Stop()
		}()

		if s.server != nil {
			if err := s.server.Shutdown(ctx); err != nil {
				s.shutdownErr = fmt.Errorf("gateway shutdown: %w", err)
			}
		}

		wg.Wait()
		s.closeAll()
	})
	return s.shutdownErr
}

func (s *Server) closeAll() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	s.closers = nil
}

// Probe runs one liveness check with retries against the configured API.
func Probe(ctx context.Context, cfg *config.Config, log *logger.Logger) (health.Result, error) {
	httpClient, err := upstreamClient(cfg.API)
	if err != nil {
		return health.Result{}, err
	}
	m, err := newMonitor(cfg, log, httpClient)
	if err != nil {
		return health.Result{}, err
	}
	defer m.Destroy()

	return m.ProbeWithRetry(ctx), nil
}

func upstreamClient(api config.APIConfig) (*http.Client, error) {
	tlsCfg, err := tlsconfig.UpstreamConfig(api.CAFile, api.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func newTokenStore(ctx context.Context, cfg config.TokenStoreConfig) (apiclient.TokenStore, io.Closer, error) {
	switch cfg.Type {
	case "file":
		fs, err := tokenstore.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	case "redis":
		rs, err := tokenstore.NewRedisStore(ctx, tokenstore.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, rs, nil
	default:
		return apiclient.NewMemoryStore(), nil, nil
	}
}

// newMonitor probes the origin of the API base URL, so /api/health is
// resolved against the host rather than the /api prefix.
func newMonitor(cfg *config.Config, log *logger.Logger, httpClient *http.Client) (*health.Monitor, error) {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	hc := health.DefaultConfig()
	hc.BaseURL = u.Scheme + "://" + u.Host
	if cfg.HealthCheck.Endpoint != "" {
		hc.Endpoint = cfg.HealthCheck.Endpoint
	}
	if cfg.HealthCheck.Timeout > 0 {
		hc.Timeout = cfg.HealthCheck.Timeout
	}
	if cfg.HealthCheck.Interval > 0 {
		hc.HeartbeatInterval = cfg.HealthCheck.Interval
	}
	if cfg.HealthCheck.FailureThreshold > 0 {
		hc.FailureThreshold = cfg.HealthCheck.FailureThreshold
	}
	if cfg.HealthCheck.RetryCount >= 0 {
		hc.RetryCount = cfg.HealthCheck.RetryCount
	}
	if cfg.HealthCheck.RetryDelay >= 0 {
		hc.RetryDelay = cfg.HealthCheck.RetryDelay
	}

	return health.NewMonitor(hc, log.Named("health").Zap(), health.WithHTTPClient(httpClient))
}
