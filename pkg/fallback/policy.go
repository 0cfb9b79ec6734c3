// Package fallback decides when a failed read may be answered with substitute
// data and supplies that data.
package fallback

import (
	"fmt"
	"time"

	"eventclub/pkg/apiclient"
	"eventclub/pkg/cache"
	"eventclub/pkg/metrics"
	"eventclub/pkg/reqlog"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Endpoint string

const (
	EndpointLogin            Endpoint = "login"
	EndpointLogout           Endpoint = "logout"
	EndpointCurrentUser      Endpoint = "current_user"
	EndpointUserInfo         Endpoint = "user_info"
	EndpointUserCard         Endpoint = "user_card"
	EndpointMyCard           Endpoint = "my_card"
	EndpointUpdateMyCard     Endpoint = "update_my_card"
	EndpointActivityDetail   Endpoint = "activity_detail"
	EndpointActivityMatch    Endpoint = "activity_match"
	EndpointMatchResults     Endpoint = "match_results"
	EndpointEventEnrollments Endpoint = "event_enrollments"
	EndpointClusterMembers   Endpoint = "cluster_members"
	EndpointNfcMatchData     Endpoint = "nfc_match_data"
	EndpointNfcMatch         Endpoint = "nfc_match"
	EndpointQrMatch          Endpoint = "qr_match"
	EndpointSendMessage      Endpoint = "send_message"
	EndpointExchangeContact  Endpoint = "exchange_contact"
)

// Args identifies the resource a read was made for.
type Args struct {
	ID        string
	EventID   string
	ClusterID string
	Page      int
	PageSize  int
}

func (a Args) key(endpoint Endpoint) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d", endpoint, a.ID, a.EventID, a.ClusterID, a.Page, a.PageSize)
}

type Source string

const (
	SourceLive  Source = "live"
	SourceStale Source = "stale"
	SourceMock  Source = "mock"
)

type Decision int

const (
	Propagate Decision = iota
	Substitute
)

func (d Decision) String() string {
	if d == Substitute {
		return "substitute"
	}
	return "propagate"
}

type readEndpoint struct {
	noCache bool
	// session payloads describe the signed-in user and must not outlive the session.
	session bool
	mock    func(args Args, now time.Time) any
}

// Only reads appear here. Login, logout and every write are absent and so
// always propagate.
var readEndpoints = map[Endpoint]readEndpoint{
	EndpointCurrentUser: {session: true, mock: func(Args, time.Time) any { return demoUser() }},
	EndpointMyCard:      {session: true, mock: func(Args, time.Time) any { return demoUser() }},
	EndpointUserInfo: {mock: func(a Args, now time.Time) any {
		return demoProfile(a.ID, now)
	}},
	EndpointUserCard: {mock: func(a Args, now time.Time) any {
		u := demoProfile(a.ID, now)
		u.Slug = a.ID
		return u
	}},
	EndpointActivityDetail: {mock: func(a Args, now time.Time) any {
		return demoActivity(a.ID, now)
	}},
	EndpointActivityMatch: {mock: func(a Args, _ time.Time) any {
		return demoMatchResults(a.ID)
	}},
	EndpointMatchResults: {mock: func(Args, time.Time) any {
		return demoMatchResults(DefaultEventID)
	}},
	EndpointEventEnrollments: {mock: func(a Args, now time.Time) any {
		return demoEnrollments(a.EventID, now)
	}},
	EndpointClusterMembers: {mock: func(a Args, _ time.Time) any {
		return demoClusterMembers(a.ClusterID, a.Page, a.PageSize)
	}},
	EndpointNfcMatchData: {noCache: true, mock: func(Args, time.Time) any {
		return demoNfcMatchData()
	}},
}

type Config struct {
	MockEnabled  bool
	StaleEnabled bool
	StaleTTL     time.Duration
	MaxEntries   int
}

func DefaultConfig() Config {
	return Config{
		MockEnabled:  true,
		StaleEnabled: true,
		StaleTTL:     24 * time.Hour,
		MaxEntries:   512,
	}
}

// Policy is the single place that decides between propagating a failure and
// substituting data for it.
type Policy struct {
	cfg    Config
	stale  *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

func NewPolicy(cfg Config, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		cfg:    cfg,
		stale:  cache.NewCache(cfg.StaleTTL, cfg.MaxEntries),
		logger: logger,
		now:    time.Now,
	}
}

// Cache exposes the stale store so its owner can sweep expired entries.
func (p *Policy) Cache() *cache.Cache {
	return p.stale
}

func (p *Policy) IsFailoverCondition(err error) bool {
	return apiclient.IsFailover(err)
}

func (p *Policy) IsMockEligible(err error) bool {
	if err == nil || p.IsFailoverCondition(err) {
		return false
	}

	switch reqlog.Classify(err, apiclient.StatusOf(err)) {
	case reqlog.CategoryNotFound, reqlog.CategoryNetwork:
		return true
	default:
		return false
	}
}

func (p *Policy) HasMock(endpoint Endpoint) bool {
	_, ok := readEndpoints[endpoint]
	return ok
}

func (p *Policy) MockPayload(endpoint Endpoint, args Args) (json.RawMessage, bool) {
	ep, ok := readEndpoints[endpoint]
	if !ok {
		return nil, false
	}

	data, err := json.Marshal(ep.mock(args, p.now()))
	if err != nil {
		p.logger.Error("Failed to encode mock payload", zap.String("endpoint", string(endpoint)), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (p *Policy) Decide(endpoint Endpoint, err error) Decision {
	if p.IsFailoverCondition(err) {
		return Propagate
	}
	if !p.HasMock(endpoint) {
		return Propagate
	}
	if !p.IsMockEligible(err) {
		return Propagate
	}
	return Substitute
}

// Substitute returns the newest known-good payload for the read, falling
// back to the static mock. ok is false when neither is available.
func (p *Policy) Substitute(endpoint Endpoint, args Args) (json.RawMessage, Source, bool) {
	if p.cfg.StaleEnabled {
		if entry, found := p.stale.Get(args.key(endpoint)); found {
			p.logger.Warn("Serving stale payload",
				zap.String("endpoint", string(endpoint)),
				zap.Duration("age", entry.Age(p.now())))
			metrics.FallbackSubstitutionsTotal.WithLabelValues(string(endpoint), string(SourceStale)).Inc()
			return json.RawMessage(entry.Payload), SourceStale, true
		}
	}

	if !p.cfg.MockEnabled {
		return nil, "", false
	}

	payload, ok := p.MockPayload(endpoint, args)
	if !ok {
		return nil, "", false
	}

	p.logger.Warn("Serving mock payload", zap.String("endpoint", string(endpoint)))
	metrics.FallbackSubstitutionsTotal.WithLabelValues(string(endpoint), string(SourceMock)).Inc()
	return payload, SourceMock, true
}

// Remember records a live payload for later stale substitution. Writes and
// no-cache reads are never recorded.
func (p *Policy) Remember(endpoint Endpoint, args Args, payload []byte) {
	if !p.cfg.StaleEnabled {
		return
	}
	ep, ok := readEndpoints[endpoint]
	if !ok || ep.noCache {
		return
	}
	p.stale.Set(args.key(endpoint), payload)
}

// ForgetSession drops every remembered payload tied to the signed-in user.
func (p *Policy) ForgetSession() {
	for endpoint, ep := range readEndpoints {
		if ep.session {
			p.stale.Delete(Args{}.key(endpoint))
		}
	}
}
