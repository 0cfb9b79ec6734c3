package reqlog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRequestID_Format(t *testing.T) {
	l := New(nil)
	l.now = func() time.Time { return time.UnixMilli(1700000000000) }

	assert.Equal(t, "req_1700000000000_1", l.NewRequestID())
	assert.Equal(t, "req_1700000000000_2", l.NewRequestID())
}

func TestNewRequestID_UniqueUnderConcurrency(t *testing.T) {
	l := New(nil)

	const workers = 50
	const perWorker = 40

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := l.NewRequestID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

type categorizedErr struct{ c Category }

func (e categorizedErr) Error() string      { return string(e.c) }
func (e categorizedErr) Category() Category { return e.c }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name   string
		err    error
		status int
		want   Category
	}{
		{"not found", errors.New("http"), 404, CategoryNotFound},
		{"unauthorized", errors.New("http"), 401, CategoryAuth},
		{"forbidden", errors.New("http"), 403, CategoryPermission},
		{"bad request", errors.New("http"), 400, CategoryClient},
		{"too many", errors.New("http"), 429, CategoryClient},
		{"internal", errors.New("http"), 500, CategoryServer},
		{"gateway", errors.New("http"), 502, CategoryServer},
		{"refused", fmt.Errorf("do: %w", refused), 0, CategoryNetwork},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), 0, CategoryTimeout},
		{"net timeout", timeoutErr{}, 0, CategoryTimeout},
		{"self categorized", categorizedErr{CategoryParse}, 200, CategoryParse},
		{"plain", errors.New("boom"), 0, CategoryUnknown},
		{"nil", nil, 0, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.status))
		})
	}
}

func TestCategory_Hint(t *testing.T) {
	for _, c := range []Category{
		CategoryNetwork, CategoryTimeout, CategoryNotFound, CategoryServer,
		CategoryAuth, CategoryPermission, CategoryClient, CategoryParse,
	} {
		assert.NotEmpty(t, c.Hint(), "category %s", c)
	}
	assert.Empty(t, CategoryUnknown.Hint())
}

func TestStatusDescription(t *testing.T) {
	assert.Equal(t, "service unavailable", StatusDescription(503))
	assert.Equal(t, "unknown status", StatusDescription(418))
}

func TestDurationAnalysis(t *testing.T) {
	assert.Equal(t, "fast", DurationAnalysis(50*time.Millisecond))
	assert.Equal(t, "normal", DurationAnalysis(200*time.Millisecond))
	assert.Equal(t, "slow", DurationAnalysis(700*time.Millisecond))
	assert.Equal(t, "very slow", DurationAnalysis(2*time.Second))
	assert.Equal(t, "timeout-grade", DurationAnalysis(12*time.Second))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "1.5KB", FormatSize(1536))
	assert.Equal(t, "2.0MB", FormatSize(2*1024*1024))
}

func TestLogError_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	cat := l.LogError("req_1", errors.New("HTTP error"), ErrorContext{
		Method:   http.MethodGet,
		URL:      "http://api/users/1",
		Status:   404,
		Duration: 120 * time.Millisecond,
	})
	require.Equal(t, CategoryNotFound, cat)

	entries := logs.FilterMessage("API request failed").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "not_found", fields["category"])
	assert.Equal(t, "resource does not exist", fields["status_description"])
	assert.Equal(t, "normal", fields["duration_analysis"])
	assert.NotEmpty(t, fields["hint"])
}

func TestLogRequest_FlagsNoCacheHeaders(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	l.LogRequest("req_1", http.MethodGet, "http://api/nfc/x/y", h, []byte(`{"a":1}`))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, true, fields["no_cache"])
	assert.True(t, strings.HasSuffix(fields["body_size"].(string), "B"))
}

func TestLogResponse_Duration(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	start := time.Unix(100, 0)
	l.now = func() time.Time { return start.Add(250 * time.Millisecond) }

	l.LogResponse("req_1", start, 200, http.Header{}, []byte(`{}`))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, 250*time.Millisecond, entries[0].ContextMap()["duration"])
}
