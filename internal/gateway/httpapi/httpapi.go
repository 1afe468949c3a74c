// Package httpapi implements the HTTP API gateway for Ultralight.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Request body size limits (default 10 MB, bundles included)
//   - Per-user rate limiting via token bucket
//   - Internal token authentication on the function-to-function endpoint
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/evrydayimruslin/ultralight/internal/function"
	"github.com/evrydayimruslin/ultralight/internal/observability"
	"github.com/evrydayimruslin/ultralight/internal/platform"
	"github.com/evrydayimruslin/ultralight/internal/ratelimit"
	"github.com/evrydayimruslin/ultralight/internal/scheduler"
)

const defaultMaxRequestSize = 10 << 20 // 10 MB; bundles arrive inline.

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string            // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping.
	InternalToken  string            // Token for the function-to-function endpoint.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 10 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	service   *platform.Service
	functions function.Store
	schedules scheduler.ScheduleStore // nil = schedule endpoints disabled.
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server
	okapi     *okapi.Okapi
	group     *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, svc *platform.Service, functions function.Store, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		service:   svc,
		functions: functions,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithSchedules attaches schedule management to the gateway.
func (g *Gateway) WithSchedules(store scheduler.ScheduleStore) *Gateway {
	g.schedules = store
	return g
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Ultralight",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Function registry.
	g.group.Post("/functions", g.handleFunctionCreate,
		okapi.DocSummary("Register a new hosted function"),
		okapi.DocTags("Functions"),
		okapi.DocRequestBody(FunctionRequest{}),
		okapi.DocResponse(http.StatusCreated, FunctionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/functions", g.handleFunctionList,
		okapi.DocSummary("List the caller's functions"),
		okapi.DocTags("Functions"),
		okapi.DocResponse([]FunctionResponse{}),
	)
	g.group.Get("/functions/{id}", g.handleFunctionGet,
		okapi.DocSummary("Get a function by ID"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID"),
		okapi.DocResponse(FunctionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Put("/functions/{id}", g.handleFunctionUpdate,
		okapi.DocSummary("Update a function"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID"),
		okapi.DocRequestBody(FunctionRequest{}),
		okapi.DocResponse(FunctionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/functions/{id}", g.handleFunctionDelete,
		okapi.DocSummary("Delete a function"),
		okapi.DocTags("Functions"),
		okapi.DocPathParam("id", "string", "Function ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/functions/{id}/invoke", g.handleInvoke,
		okapi.DocSummary("Invoke a named function of a hosted app"),
		okapi.DocTags("Invoke"),
		okapi.DocPathParam("id", "string", "Function ID"),
		okapi.DocRequestBody(InvokeRequest{}),
		okapi.DocResponse(InvokeResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)

	// Schedules (only if a store is configured).
	if g.schedules != nil {
		g.group.Post("/schedules", g.handleScheduleCreate,
			okapi.DocSummary("Create a recurring invocation"),
			okapi.DocTags("Schedules"),
			okapi.DocRequestBody(ScheduleRequest{}),
			okapi.DocResponse(http.StatusCreated, ScheduleResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/schedules", g.handleScheduleList,
			okapi.DocSummary("List the caller's schedules"),
			okapi.DocTags("Schedules"),
			okapi.DocResponse([]ScheduleResponse{}),
		)
		g.group.Get("/schedules/{id}", g.handleScheduleGet,
			okapi.DocSummary("Get a schedule by ID"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID"),
			okapi.DocResponse(ScheduleResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Put("/schedules/{id}", g.handleScheduleUpdate,
			okapi.DocSummary("Update a schedule"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID"),
			okapi.DocRequestBody(ScheduleRequest{}),
			okapi.DocResponse(ScheduleResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Delete("/schedules/{id}", g.handleScheduleDelete,
			okapi.DocSummary("Delete a schedule"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID"),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Function-to-function endpoint, authenticated by the internal token.
	if g.config.InternalToken != "" {
		mcpHandler := g.requireInternalToken(g.internalMCPHandler())
		g.okapi.HandleStd("POST", "/v1/internal/mcp", mcpHandler.ServeHTTP)
		g.okapi.HandleStd("GET", "/v1/internal/mcp", mcpHandler.ServeHTTP)
		g.okapi.HandleStd("DELETE", "/v1/internal/mcp", mcpHandler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// requireInternalToken guards the function-to-function endpoint.
func (g *Gateway) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if !strings.HasPrefix(authHeader, "Bearer ") ||
			subtle.ConstantTimeCompare([]byte(token), []byte(g.config.InternalToken)) != 1 {
			http.Error(w, `{"error":"invalid internal token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-user token bucket; returns a non-nil response
// error when the request must be rejected.
func (g *Gateway) rateLimit(c *okapi.Context, userID string) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Allow(userID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}
