// Package eventclub exposes typed accessors for the EventClub API that
// degrade to stale or demo data on benign read failures.
package eventclub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"eventclub/pkg/apiclient"
	"eventclub/pkg/fallback"
	"eventclub/pkg/model"
	"eventclub/pkg/reqlog"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrLoginRejected is returned when the server answers a login without a
// success flag and a token.
var ErrLoginRejected = errors.New("login rejected")

// Result is what every accessor returns on success. Source tells whether
// Data came from the server or from a substitute.
type Result[T any] struct {
	Success bool            `json:"success"`
	Data    T               `json:"data"`
	Source  fallback.Source `json:"source"`
}

type Service struct {
	client  *apiclient.Client
	policy  *fallback.Policy
	logger  *zap.Logger
	eventID string
}

type Option func(*Service)

func WithDefaultEventID(id string) Option {
	return func(s *Service) { s.eventID = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(client *apiclient.Client, policy *fallback.Policy, opts ...Option) *Service {
	s := &Service{
		client:  client,
		policy:  policy,
		logger:  zap.NewNop(),
		eventID: fallback.DefaultEventID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = fallback.NewPolicy(fallback.DefaultConfig(), s.logger)
	}
	return s
}

func (s *Service) Client() *apiclient.Client {
	return s.client
}

func (s *Service) Policy() *fallback.Policy {
	return s.policy
}

func (s *Service) DefaultEventID() string {
	return s.eventID
}

func (s *Service) IsAuthenticated() bool {
	return s.client.IsAuthenticated()
}

type call struct {
	endpoint  fallback.Endpoint
	args      fallback.Args
	method    string
	path      string
	body      any
	normalize normalizer
	opts      []apiclient.RequestOption
}

// read performs a mock-eligible call. Benign failures are answered by the
// fallback policy; failovers and every other error propagate.
func read[T any](ctx context.Context, s *Service, c call) (*Result[T], error) {
	resp, err := s.client.Request(ctx, c.method, c.path, c.body, c.opts...)
	if err != nil {
		return substitute[T](s, c, err)
	}

	payload, err := c.normalize(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: normalize response: %w", c.endpoint, err)
	}

	data, err := decode[T](payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.endpoint, err)
	}

	s.policy.Remember(c.endpoint, c.args, payload)
	return &Result[T]{Success: true, Data: data, Source: fallback.SourceLive}, nil
}

func substitute[T any](s *Service, c call, cause error) (*Result[T], error) {
	if s.policy.Decide(c.endpoint, cause) != fallback.Substitute {
		return nil, cause
	}

	payload, source, ok := s.policy.Substitute(c.endpoint, c.args)
	if !ok {
		return nil, cause
	}

	data, err := decode[T](payload)
	if err != nil {
		s.logger.Error("Failed to decode substitute payload",
			zap.String("endpoint", string(c.endpoint)),
			zap.String("source", string(source)),
			zap.Error(err))
		return nil, cause
	}

	s.logger.Warn("Read failed, serving substitute data",
		zap.String("endpoint", string(c.endpoint)),
		zap.String("source", string(source)),
		zap.String("category", string(reqlog.Classify(cause, apiclient.StatusOf(cause)))),
		zap.Error(cause))

	return &Result[T]{Success: true, Data: data, Source: source}, nil
}

// write performs a call that never substitutes data.
func write[T any](ctx context.Context, s *Service, c call) (*Result[T], error) {
	resp, err := s.client.Request(ctx, c.method, c.path, c.body, c.opts...)
	if err != nil {
		return nil, err
	}

	payload, err := c.normalize(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: normalize response: %w", c.endpoint, err)
	}

	data, err := decode[T](payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.endpoint, err)
	}

	return &Result[T]{Success: true, Data: data, Source: fallback.SourceLive}, nil
}

func decode[T any](payload []byte) (T, error) {
	var data T
	if len(bytes.TrimSpace(payload)) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return data, fmt.Errorf("decode response: %w", err)
	}
	return data, nil
}

func seg(s string) string {
	return url.PathEscape(s)
}

func (s *Service) Login(ctx context.Context, identifier, password string) (*model.LoginResponse, error) {
	resp, err := s.client.Request(ctx, http.MethodPost, "/auth/login",
		model.LoginRequest{Identifier: identifier, Password: password},
		apiclient.WithoutTokenInvalidation())
	if err != nil {
		return nil, err
	}

	var out model.LoginResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	if !out.Success || out.Token == "" {
		message := out.Message
		if message == "" {
			message = "login failed"
		}
		s.logger.Warn("Login rejected", zap.String("message", message))
		return nil, fmt.Errorf("%w: %s", ErrLoginRejected, message)
	}

	if err := s.client.SetToken(ctx, out.Token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	s.policy.ForgetSession()

	if out.Message == "" {
		out.Message = "login successful"
	}
	s.logger.Info("Login succeeded", zap.Bool("has_user", out.User != nil))
	return &out, nil
}

// Logout clears the held token whether or not the server call succeeds.
func (s *Service) Logout(ctx context.Context) (*model.LogoutResponse, error) {
	resp, reqErr := s.client.Request(ctx, http.MethodPost, "/auth/logout", nil)
	clearErr := s.client.ClearToken(ctx)
	s.policy.ForgetSession()

	if reqErr != nil {
		if clearErr != nil {
			s.logger.Error("Failed to clear token after logout failure", zap.Error(clearErr))
		}
		return nil, reqErr
	}
	if clearErr != nil {
		return nil, clearErr
	}

	out := model.LogoutResponse{}
	if err := resp.Decode(&out); err != nil {
		s.logger.Warn("Ignoring undecodable logout response", zap.Error(err))
	}
	out.Success = true
	if out.Message == "" {
		out.Message = "logout successful"
	}
	return &out, nil
}

func (s *Service) CurrentUser(ctx context.Context) (*Result[model.User], error) {
	return read[model.User](ctx, s, call{
		endpoint:  fallback.EndpointCurrentUser,
		method:    http.MethodGet,
		path:      "/auth/me",
		normalize: unwrapUser,
	})
}

func (s *Service) UserInfo(ctx context.Context, userID string) (*Result[model.User], error) {
	return read[model.User](ctx, s, call{
		endpoint:  fallback.EndpointUserInfo,
		args:      fallback.Args{ID: userID},
		method:    http.MethodGet,
		path:      "/users/" + seg(userID),
		normalize: unwrapEnvelope,
	})
}

func (s *Service) UserCard(ctx context.Context, slug string) (*Result[model.User], error) {
	return read[model.User](ctx, s, call{
		endpoint:  fallback.EndpointUserCard,
		args:      fallback.Args{ID: slug},
		method:    http.MethodGet,
		path:      "/users/" + seg(slug),
		normalize: unwrapUser,
	})
}

func (s *Service) MyCard(ctx context.Context) (*Result[model.User], error) {
	return read[model.User](ctx, s, call{
		endpoint:  fallback.EndpointMyCard,
		method:    http.MethodGet,
		path:      "/users/me",
		normalize: unwrapUser,
	})
}

func (s *Service) UpdateMyCard(ctx context.Context, card model.User) (*Result[model.User], error) {
	return write[model.User](ctx, s, call{
		endpoint:  fallback.EndpointUpdateMyCard,
		method:    http.MethodPut,
		path:      "/users/me",
		body:      card,
		normalize: unwrapUser,
	})
}

func (s *Service) ActivityDetail(ctx context.Context, activityID string) (*Result[model.Activity], error) {
	return read[model.Activity](ctx, s, call{
		endpoint:  fallback.EndpointActivityDetail,
		args:      fallback.Args{ID: activityID},
		method:    http.MethodGet,
		path:      "/events/" + seg(activityID),
		normalize: unwrapEnvelope,
	})
}

func (s *Service) ActivityMatch(ctx context.Context, activityID string) (*Result[model.MatchResults], error) {
	return read[model.MatchResults](ctx, s, call{
		endpoint:  fallback.EndpointActivityMatch,
		args:      fallback.Args{ID: activityID},
		method:    http.MethodGet,
		path:      "/activities/" + seg(activityID) + "/match",
		normalize: unwrapEnvelope,
	})
}

// MatchResults reads the match groups of the default event.
func (s *Service) MatchResults(ctx context.Context) (*Result[model.MatchResults], error) {
	return read[model.MatchResults](ctx, s, call{
		endpoint:  fallback.EndpointMatchResults,
		args:      fallback.Args{EventID: s.eventID},
		method:    http.MethodGet,
		path:      "/match/" + seg(s.eventID) + "/results",
		normalize: unwrapEnvelope,
	})
}

func (s *Service) EventEnrollments(ctx context.Context, eventID string) (*Result[model.Enrollments], error) {
	return read[model.Enrollments](ctx, s, call{
		endpoint:  fallback.EndpointEventEnrollments,
		args:      fallback.Args{EventID: eventID},
		method:    http.MethodGet,
		path:      "/events/" + seg(eventID) + "/enrollments",
		normalize: unwrapEnvelope,
	})
}

const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

func (s *Service) ClusterMembers(ctx context.Context, activityID, clusterID string, page, pageSize int) (*Result[model.ClusterMembers], error) {
	if page < 1 {
		page = DefaultPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	query := url.Values{}
	query.Set("page", fmt.Sprint(page))
	query.Set("pageSize", fmt.Sprint(pageSize))

	return read[model.ClusterMembers](ctx, s, call{
		endpoint: fallback.EndpointClusterMembers,
		args: fallback.Args{
			ID:        activityID,
			ClusterID: clusterID,
			Page:      page,
			PageSize:  pageSize,
		},
		method:    http.MethodGet,
		path:      "/activities/" + seg(activityID) + "/clusters/" + seg(clusterID) + "/members?" + query.Encode(),
		normalize: unwrapEnvelope,
	})
}

// NfcMatchData reads the match scores between the current user and
// otherUserID within the default event. The data is never cached.
func (s *Service) NfcMatchData(ctx context.Context, otherUserID string) (*Result[model.NfcMatchData], error) {
	return read[model.NfcMatchData](ctx, s, call{
		endpoint:  fallback.EndpointNfcMatchData,
		args:      fallback.Args{ID: otherUserID, EventID: s.eventID},
		method:    http.MethodGet,
		path:      "/nfc/" + seg(s.eventID) + "/" + seg(otherUserID),
		normalize: normalizeNfc,
		opts:      []apiclient.RequestOption{apiclient.WithNoCache()},
	})
}

func (s *Service) NfcMatch(ctx context.Context, eventID, userID string) (*Result[model.ActionResult], error) {
	return write[model.ActionResult](ctx, s, call{
		endpoint:  fallback.EndpointNfcMatch,
		method:    http.MethodPost,
		path:      "/nfc/" + seg(eventID) + "/" + seg(userID),
		normalize: passthrough,
		opts:      []apiclient.RequestOption{apiclient.WithNoCache()},
	})
}

func (s *Service) QrMatch(ctx context.Context, eventID, qrCode string) (*Result[model.ActionResult], error) {
	return write[model.ActionResult](ctx, s, call{
		endpoint:  fallback.EndpointQrMatch,
		method:    http.MethodPost,
		path:      "/qr/" + seg(eventID),
		body:      model.QrMatchRequest{QrCode: qrCode},
		normalize: passthrough,
	})
}

func (s *Service) SendMessage(ctx context.Context, userID, message string) (*Result[model.ActionResult], error) {
	return write[model.ActionResult](ctx, s, call{
		endpoint:  fallback.EndpointSendMessage,
		method:    http.MethodPost,
		path:      "/messages",
		body:      model.MessageRequest{UserID: userID, Message: message},
		normalize: passthrough,
	})
}

func (s *Service) ExchangeContact(ctx context.Context, userID string) (*Result[model.ActionResult], error) {
	return write[model.ActionResult](ctx, s, call{
		endpoint:  fallback.EndpointExchangeContact,
		method:    http.MethodPost,
		path:      "/contacts/exchange",
		body:      model.ContactExchangeRequest{UserID: userID},
		normalize: passthrough,
	})
}
