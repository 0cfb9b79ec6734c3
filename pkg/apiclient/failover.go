package apiclient

import (
	"context"
	"net/http"
	"time"
)

const (
	// FailoverElapsedCeiling is the call duration past which a failed call
	// escalates regardless of its status.
	FailoverElapsedCeiling = 10 * time.Second

	DefaultFailoverTarget = "/info.html"
)

// ShouldFailover is the escalation predicate for a failed call.
func ShouldFailover(transportFailed bool, status int, elapsed time.Duration) bool {
	return shouldFailover(transportFailed, status, elapsed, FailoverElapsedCeiling)
}

func shouldFailover(transportFailed bool, status int, elapsed, ceiling time.Duration) bool {
	return failoverReason(transportFailed, status, elapsed, ceiling) != ""
}

func failoverReason(transportFailed bool, status int, elapsed, ceiling time.Duration) string {
	switch {
	case transportFailed:
		return "transport"
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return "gateway"
	case status >= 500:
		return "server_error"
	case elapsed > ceiling:
		return "elapsed"
	default:
		return ""
	}
}

// Navigator performs the hard navigation to the failover page.
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

type NavigatorFunc func(ctx context.Context, target string)

func (f NavigatorFunc) Navigate(ctx context.Context, target string) {
	f(ctx, target)
}

type nopNavigator struct{}

func (nopNavigator) Navigate(context.Context, string) {}

type navigatorKey struct{}

// WithNavigator attaches a navigator to ctx; it takes precedence over the
// client's default for calls made with that context.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

func navigatorFrom(ctx context.Context, fallback Navigator) Navigator {
	if nav, ok := ctx.Value(navigatorKey{}).(Navigator); ok && nav != nil {
		return nav
	}
	if fallback != nil {
		return fallback
	}
	return nopNavigator{}
}
