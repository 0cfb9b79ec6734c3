package reqlog

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Category is the diagnostic class of a failed call.
type Category string

const (
	CategoryNetwork    Category = "network_unreachable"
	CategoryTimeout    Category = "timeout_exceeded"
	CategoryNotFound   Category = "not_found"
	CategoryServer     Category = "server_error"
	CategoryAuth       Category = "auth_failure"
	CategoryPermission Category = "permission_denied"
	CategoryClient     Category = "client_error"
	CategoryParse      Category = "parse_error"
	CategoryUnknown    Category = "unknown"
)

// Categorized is implemented by errors that already know their category.
type Categorized interface {
	Category() Category
}

// Classify maps an error and the HTTP status (0 when no response arrived)
// onto a Category.
func Classify(err error, status int) Category {
	var c Categorized
	if err != nil && errors.As(err, &c) {
		if cat := c.Category(); cat != "" {
			return cat
		}
	}

	switch {
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusUnauthorized:
		return CategoryAuth
	case status == http.StatusForbidden:
		return CategoryPermission
	case status >= 500:
		return CategoryServer
	case status >= 400:
		return CategoryClient
	}

	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork
	}

	return CategoryUnknown
}

func (c Category) Hint() string {
	switch c {
	case CategoryNetwork:
		return "check the network connection or retry later"
	case CategoryTimeout:
		return "the server took too long to answer; retry later"
	case CategoryNotFound:
		return "verify the requested resource path"
	case CategoryServer:
		return "the server failed; retry later or contact an administrator"
	case CategoryAuth:
		return "log in again or check the access token"
	case CategoryPermission:
		return "the current account may not access this resource"
	case CategoryClient:
		return "check the request parameters"
	case CategoryParse:
		return "the server returned a malformed body"
	default:
		return ""
	}
}

var statusDescriptions = map[int]string{
	400: "bad request parameters",
	401: "unauthorized",
	403: "forbidden",
	404: "resource does not exist",
	405: "method not allowed",
	408: "request timeout",
	429: "too many requests",
	500: "internal server error",
	502: "bad gateway",
	503: "service unavailable",
	504: "gateway timeout",
}

func StatusDescription(status int) string {
	if d, ok := statusDescriptions[status]; ok {
		return d
	}
	return "unknown status"
}
