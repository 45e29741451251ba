package rest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HealthChecker checks the health of a dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
}

// HealthStatus represents the health status
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusWarn HealthStatus = "warn"
	HealthStatusFail HealthStatus = "fail"
)

// HealthConfig configures the health service
type HealthConfig struct {
	// CacheDuration is how long a checker's result is reused
	CacheDuration  time.Duration
	Timeout        time.Duration
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// DefaultHealthConfig returns default configuration
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CacheDuration:  5 * time.Second,
		Timeout:        2 * time.Second,
		ServiceName:    "fraud-signal-service",
		ServiceVersion: "dev",
		Environment:    "development",
	}
}

// HealthService serves liveness and readiness endpoints
type HealthService struct {
	mu        sync.RWMutex
	checkers  []HealthChecker
	cache     sync.Map
	config    HealthConfig
	tracer    trace.Tracer
	startTime time.Time
}

// NewHealthService creates a new health service
func NewHealthService(config HealthConfig) *HealthService {
	return &HealthService{
		config:    config,
		tracer:    otel.Tracer("api.rest.health"),
		startTime: time.Now(),
	}
}

// RegisterChecker adds a checker to readiness
func (h *HealthService) RegisterChecker(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status      HealthStatus                 `json:"status"`
	Version     string                       `json:"version"`
	ServiceName string                       `json:"service_name"`
	Environment string                       `json:"environment,omitempty"`
	Uptime      float64                      `json:"uptime_seconds"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
}

// LivenessHandler reports that the process is serving requests
func (h *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := h.tracer.Start(r.Context(), "health.liveness")
		defer span.End()

		h.write(w, http.StatusOK, HealthResponse{
			Status:      HealthStatusPass,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Environment: h.config.Environment,
			Uptime:      time.Since(h.startTime).Seconds(),
		})
	}
}

// ReadinessHandler runs every registered checker. Any failure makes it 503.
func (h *HealthService) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "health.readiness")
		defer span.End()

		checks := h.runChecks(ctx)
		status, statusCode := aggregateStatus(checks)

		h.write(w, statusCode, HealthResponse{
			Status:      status,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Environment: h.config.Environment,
			Uptime:      time.Since(h.startTime).Seconds(),
			Checks:      checks,
		})

		span.SetAttributes(
			attribute.String("health.status", string(status)),
			attribute.Int("health.checks_count", len(checks)),
		)
	}
}

func (h *HealthService) write(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/health+json")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}

func aggregateStatus(checks map[string]HealthCheckResult) (HealthStatus, int) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := HealthStatusPass
	for _, name := range names {
		switch checks[name].Status {
		case HealthStatusFail:
			return HealthStatusFail, http.StatusServiceUnavailable
		case HealthStatusWarn:
			status = HealthStatusWarn
		}
	}
	return status, http.StatusOK
}

// runChecks runs all registered health checks concurrently
func (h *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	h.mu.RLock()
	checkers := append([]HealthChecker(nil), h.checkers...)
	h.mu.RUnlock()

	results := make(map[string]HealthCheckResult, len(checkers))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			result, ok := h.getCachedResult(c.Name())
			if !ok {
				checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
				result = c.Check(checkCtx)
				cancel()
				result.LastChecked = time.Now()
				h.cacheResult(c.Name(), result)
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

type cachedHealthResult struct {
	result    HealthCheckResult
	timestamp time.Time
}

func (h *HealthService) getCachedResult(name string) (HealthCheckResult, bool) {
	if val, ok := h.cache.Load(name); ok {
		cached := val.(cachedHealthResult)
		if time.Since(cached.timestamp) < h.config.CacheDuration {
			return cached.result, true
		}
	}
	return HealthCheckResult{}, false
}

func (h *HealthService) cacheResult(name string, result HealthCheckResult) {
	h.cache.Store(name, cachedHealthResult{result: result, timestamp: time.Now()})
}

// RedisHealthChecker pings the Redis server backing the IP blacklist
type RedisHealthChecker struct {
	client *redis.Client
	name   string
}

// NewRedisHealthChecker creates a new Redis health checker
func NewRedisHealthChecker(client *redis.Client, name string) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, name: name}
}

func (r *RedisHealthChecker) Name() string {
	return r.name
}

func (r *RedisHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	responseTime := time.Since(start)

	if err != nil {
		return HealthCheckResult{
			Status:       HealthStatusFail,
			Error:        err.Error(),
			ResponseTime: responseTime,
		}
	}

	stats := r.client.PoolStats()
	return HealthCheckResult{
		Status:       HealthStatusPass,
		Message:      "Redis is healthy",
		ResponseTime: responseTime,
		Metadata: map[string]interface{}{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"timeouts":    stats.Timeouts,
		},
	}
}

// BlacklistHealthChecker warns when the blacklist has gone stale
type BlacklistHealthChecker struct {
	lastSync func() (time.Time, error)
	maxAge   time.Duration
}

// NewBlacklistHealthChecker reports warn once the last successful sync is older than maxAge
func NewBlacklistHealthChecker(lastSync func() (time.Time, error), maxAge time.Duration) *BlacklistHealthChecker {
	return &BlacklistHealthChecker{lastSync: lastSync, maxAge: maxAge}
}

func (b *BlacklistHealthChecker) Name() string {
	return "blacklist"
}

func (b *BlacklistHealthChecker) Check(context.Context) HealthCheckResult {
	at, err := b.lastSync()
	result := HealthCheckResult{Status: HealthStatusPass, Message: "Blacklist is current"}
	if !at.IsZero() {
		result.Metadata = map[string]interface{}{"last_sync": at.UTC()}
	}

	if err != nil {
		result.Error = err.Error()
	}
	if at.IsZero() || time.Since(at) > b.maxAge {
		result.Status = HealthStatusWarn
		result.Message = "Blacklist is stale, serving the last loaded set"
	}
	return result
}
