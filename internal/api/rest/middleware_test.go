package rest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/config"
	"github.com/davidleathers/fraud-signal-service/internal/testutil/fixtures"
)

func TestRequestID(t *testing.T) {
	env := setupRouter(t, nil)

	t.Run("generated", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/health", nil)
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	})

	t.Run("available to handlers", func(t *testing.T) {
		var seen string
		h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "abc", seen)
	})
}

func TestRateLimit(t *testing.T) {
	env := setupRouter(t, func(c *RouterConfig) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.5, Burst: 1}
	})
	body := jsonBody(t, fixtures.NewTransactionRequestBuilder(t).Build())

	w := env.do(t, http.MethodPost, "/api/score-transaction", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/score-transaction", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	limited := decodeError(t, w)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", limited.Code)
	assert.Equal(t, "Too Many Requests", limited.Error)
	assert.Equal(t, []string{"Rate limit exceeded, retry later"}, limited.Messages)
	assert.Equal(t, 1, env.store.Stats().Records, "limited requests are not scored")

	// health is never limited
	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_PerClient(t *testing.T) {
	rl := newInMemoryRateLimiter(0.001, 1)

	assert.True(t, rl.Allow("198.51.100.1"))
	assert.False(t, rl.Allow("198.51.100.1"))
	assert.True(t, rl.Allow("198.51.100.2"))
}

func TestRateLimit_EvictIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newInMemoryRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.evictIdle())
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "b")
}

func TestRouter_RunMaintenanceStops(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		env := setupRouter(t, func(c *RouterConfig) {
			c.RateLimit = config.RateLimitConfig{Enabled: enabled, RequestsPerSecond: 1, Burst: 1}
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- env.router.RunMaintenance(ctx) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("maintenance did not stop")
		}
	}
}

func TestClientIP(t *testing.T) {
	proxies := newTrustedProxies([]string{"10.0.0.0/8", "192.0.2.10", "not-an-ip"})

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "203.0.113.5:4000", want: "203.0.113.5"},
		{name: "real ip from trusted proxy", headers: map[string]string{"X-Real-IP": "198.51.100.9"}, remote: "10.0.0.1:1", want: "198.51.100.9"},
		{name: "forwarded chain from trusted proxy", headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, remote: "10.0.0.1:1", want: "198.51.100.7"},
		{name: "single trusted address", headers: map[string]string{"X-Real-IP": "198.51.100.9"}, remote: "192.0.2.10:443", want: "198.51.100.9"},
		{name: "trusted proxy without headers", remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "real ip from untrusted peer", headers: map[string]string{"X-Real-IP": "198.51.100.9"}, remote: "203.0.113.5:4000", want: "203.0.113.5"},
		{name: "forwarded from untrusted peer", headers: map[string]string{"X-Forwarded-For": "198.51.100.7"}, remote: "192.0.2.11:80", want: "192.0.2.11"},
		{name: "no port", remote: "203.0.113.5", want: "203.0.113.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, proxies.clientIP(req))
		})
	}

	t.Run("no trusted proxies ignores headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1"
		req.Header.Set("X-Real-IP", "198.51.100.9")
		assert.Equal(t, "10.0.0.1", newTrustedProxies(nil).clientIP(req))
	})
}

func TestRateLimit_SpoofedHeadersShareBucket(t *testing.T) {
	env := setupRouter(t, func(c *RouterConfig) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.5, Burst: 1}
	})
	body := jsonBody(t, fixtures.NewTransactionRequestBuilder(t).Build())

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/score-transaction", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.RemoteAddr = "203.0.113.5:4000"
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.2"))
}

func TestRateLimit_TrustedProxyKeysByClient(t *testing.T) {
	env := setupRouter(t, func(c *RouterConfig) {
		c.RateLimit = config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 0.5,
			Burst:             1,
			TrustedProxies:    []string{"10.0.0.0/8"},
		}
	})
	body := jsonBody(t, fixtures.NewTransactionRequestBuilder(t).Build())

	send := func(realIP string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/score-transaction", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", realIP)
		req.RemoteAddr = "10.1.2.3:5000"
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
}

func TestRecovery_ReportsInternalError(t *testing.T) {
	h := recoveryMiddleware(NewErrorHandler())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/score-transaction", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Equal(t, []string{"An unexpected error occurred"}, body.Messages)
	assert.Equal(t, "/api/score-transaction", body.Path)
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	h := recoveryMiddleware(NewErrorHandler())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestInstrumentHook(t *testing.T) {
	var routes []string
	env := setupRouter(t, func(c *RouterConfig) {
		c.Instrument = func(route string, next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				routes = append(routes, route)
				next.ServeHTTP(w, r)
			})
		}
	})

	env.do(t, http.MethodGet, "/api/customers/John/history", nil)
	env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, []string{"customer_history", "health"}, routes)
}
