package rest

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/config"
	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
)

// RouterConfig holds the dependencies of the HTTP routes
type RouterConfig struct {
	Service   fraud.Service
	Publisher SignalPublisher
	Blacklist BlacklistAdmin
	Health    *HealthService

	// Metrics serves /metrics when set
	Metrics http.Handler
	// SignalStream serves /ws/signals when set
	SignalStream http.Handler
	// Instrument wraps each route with per-route metrics when set
	Instrument func(route string, next http.Handler) http.Handler

	RateLimit    config.RateLimitConfig
	MaxBodyBytes int64
}

// Router is the root HTTP handler of the service
type Router struct {
	handler http.Handler
	limiter *inMemoryRateLimiter
}

// NewRouter registers every route and wraps them in the middleware chain
func NewRouter(cfg RouterConfig) *Router {
	rt := &Router{}
	if cfg.RateLimit.Enabled {
		rt.limiter = newInMemoryRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	handler := NewHandler(NewBaseHandler(cfg.MaxBodyBytes), cfg.Service, cfg.Publisher, cfg.Blacklist)
	health := cfg.Health
	if health == nil {
		health = NewHealthService(DefaultHealthConfig())
	}

	errorHandler := NewErrorHandler()
	proxies := newTrustedProxies(cfg.RateLimit.TrustedProxies)

	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler, limited bool) {
		if cfg.Instrument != nil {
			h = cfg.Instrument(name, h)
		}
		if limited && rt.limiter != nil {
			h = rateLimitMiddleware(rt.limiter, proxies, errorHandler)(h)
		}
		mux.Handle(pattern, h)
	}

	route("POST /api/score-transaction", "score_transaction", http.HandlerFunc(handler.ScoreTransaction), true)
	route("GET /api/customers/{customerName}/history", "customer_history", http.HandlerFunc(handler.CustomerHistory), true)
	if cfg.Blacklist != nil {
		route("GET /api/blacklist", "blacklist_list", http.HandlerFunc(handler.ListBlacklist), true)
		route("POST /api/blacklist", "blacklist_add", http.HandlerFunc(handler.AddToBlacklist), true)
	}

	route("GET /health", "health", health.LivenessHandler(), false)
	route("GET /ready", "ready", health.ReadinessHandler(), false)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	if cfg.SignalStream != nil {
		mux.Handle("GET /ws/signals", cfg.SignalStream)
	}
	mux.HandleFunc("/", handler.NotFound)

	chained := Chain(mux, requestIDMiddleware, recoveryMiddleware(errorHandler), loggingMiddleware)
	rt.handler = otelhttp.NewHandler(chained, "fraud-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)

	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// RunMaintenance evicts idle rate limiter state until ctx is done
func (rt *Router) RunMaintenance(ctx context.Context) error {
	if rt.limiter == nil {
		<-ctx.Done()
		return nil
	}
	rt.limiter.runEviction(ctx, time.Minute)
	return nil
}
