// Package nfcurl builds and parses the profile URLs written to NFC tags.
//
// Two path forms exist: /e/{eventId}/p/{userId} for event-scoped tags and
// the legacy /p/{userId}, which implies the default event.
package nfcurl

import (
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

const (
	DevelopmentBaseURL = "http://localhost:5173"
	ProductionBaseURL  = "http://eventclub.cn"
)

// DefaultEventID stands for "no specific event" and selects the legacy form.
var DefaultEventID = uuid.Nil.String()

var ErrMissingUserID = errors.New("user id is required")

type Options struct {
	EventID     string
	UserID      string
	Environment Environment
	BaseURL     string
}

func baseURLFor(opts Options) string {
	switch {
	case opts.BaseURL != "":
		return strings.TrimRight(opts.BaseURL, "/")
	case opts.Environment == Production:
		return ProductionBaseURL
	default:
		return DevelopmentBaseURL
	}
}

func Generate(opts Options) (string, error) {
	if opts.UserID == "" {
		return "", ErrMissingUserID
	}

	base := baseURLFor(opts)
	user := url.PathEscape(opts.UserID)

	if opts.EventID != "" && opts.EventID != DefaultEventID {
		return base + "/e/" + url.PathEscape(opts.EventID) + "/p/" + user, nil
	}
	return base + "/p/" + user, nil
}

type Parsed struct {
	EventID string `json:"eventId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Valid   bool   `json:"isValid"`
}

// Parse extracts the event and user from an absolute tag URL. Legacy URLs
// report DefaultEventID.
func Parse(raw string) Parsed {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Parsed{}
	}

	parts := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	for i, p := range parts {
		if p == "" {
			return Parsed{}
		}
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return Parsed{}
		}
		parts[i] = unescaped
	}

	switch {
	case len(parts) == 4 && parts[0] == "e" && parts[2] == "p":
		return Parsed{EventID: parts[1], UserID: parts[3], Valid: true}
	case len(parts) == 2 && parts[0] == "p":
		return Parsed{EventID: DefaultEventID, UserID: parts[1], Valid: true}
	default:
		return Parsed{}
	}
}

func IsValid(raw string) bool {
	return Parse(raw).Valid
}

type BatchEntry struct {
	UserID string `json:"userId"`
	URL    string `json:"url"`
}

// GenerateBatch builds one tag URL per user, in input order.
func GenerateBatch(eventID string, userIDs []string, env Environment) ([]BatchEntry, error) {
	out := make([]BatchEntry, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := Generate(Options{EventID: eventID, UserID: id, Environment: env})
		if err != nil {
			return nil, err
		}
		out = append(out, BatchEntry{UserID: id, URL: u})
	}
	return out, nil
}

type Guide struct {
	NewFormat   string `json:"newFormat"`
	OldFormat   string `json:"oldFormat"`
	Description string `json:"description"`
}

func FormatGuide() Guide {
	return Guide{
		NewFormat: "/e/{eventId}/p/{userId}",
		OldFormat: "/p/{userId}",
		Description: `NFC URL formats:

1. Event-scoped (recommended): /e/{eventId}/p/{userId}
   - supports multiple events
   - example: /e/activity-123/p/user-456

2. Legacy: /p/{userId}
   - implies the default event
   - example: /p/user-456

Base URLs:
- development: ` + DevelopmentBaseURL + `
- production: ` + ProductionBaseURL,
	}
}
