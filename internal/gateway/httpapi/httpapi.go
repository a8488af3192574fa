// Package httpapi implements the HTTP API gateway for Axon.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/audit"
	"github.com/neurovexon/axon/internal/observability"
	"github.com/neurovexon/axon/internal/ratelimit"
	"github.com/neurovexon/axon/internal/tools"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Accepted API keys. Empty = authentication disabled.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /ready endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway. It fronts the orchestrator's turn loop
// and the approval slot table; decisions submitted here unblock turns that
// may be streaming on entirely different connections.
type Gateway struct {
	config    Config
	orch      *agent.Orchestrator
	approvals *approval.Gateway
	trail     *audit.Trail
	registry  *tools.Registry
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, orch *agent.Orchestrator, approvals *approval.Gateway, trail *audit.Trail, registry *tools.Registry, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:    cfg,
		orch:      orch,
		approvals: approvals,
		trail:     trail,
		registry:  registry,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Used for the WebSocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// WithOpenAPIDocs enables the interactive OpenAPI documentation UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Axon",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group, with metrics/tracing middleware first.
	middlewares := []okapi.Middleware{}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}
	middlewares = append(middlewares, g.authenticate)
	g.group = g.okapi.Group("/v1", middlewares...)

	// Chat endpoints.
	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Run one conversation turn to completion"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/chat/stream", g.handleChatStream,
		okapi.DocSummary("Run one conversation turn, streaming events via SSE"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)

	// Approval endpoints.
	g.group.Post("/approve", g.handleApprove,
		okapi.DocSummary("Resolve a pending action with a once, session, or never decision"),
		okapi.DocTags("Approvals"),
		okapi.DocRequestBody(ApproveRequest{}),
		okapi.DocResponse(ApproveResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Get("/approvals", g.handleApprovalsList,
		okapi.DocSummary("List pending approval requests"),
		okapi.DocTags("Approvals"),
		okapi.DocResponse([]PendingApproval{}),
	)

	// Session endpoints.
	g.group.Get("/sessions", g.handleSessionList,
		okapi.DocSummary("List sessions"),
		okapi.DocTags("Sessions"),
		okapi.DocResponse([]SessionSummary{}),
	)
	g.group.Get("/sessions/{id}", g.handleSessionGet,
		okapi.DocSummary("Get a session with its history"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID"),
		okapi.DocResponse(SessionDetail{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/sessions/{id}", g.handleSessionDelete,
		okapi.DocSummary("Delete a session, its grants, and its pending approvals"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}/grants", g.handleSessionGrants,
		okapi.DocSummary("List the session's standing permission grants"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID"),
		okapi.DocResponse(map[string]string{}),
	)

	// Agent profile endpoints.
	g.group.Get("/agents", g.handleAgentList,
		okapi.DocSummary("List agent profiles"),
		okapi.DocTags("Agents"),
		okapi.DocResponse([]AgentProfile{}),
	)

	// Tool catalog endpoints.
	g.group.Get("/tools", g.handleToolList,
		okapi.DocSummary("List registered tools"),
		okapi.DocTags("Tools"),
		okapi.DocResponse([]ToolInfo{}),
	)

	// Audit endpoints.
	g.group.Get("/audit", g.handleAuditQuery,
		okapi.DocSummary("Query the audit trail"),
		okapi.DocTags("Audit"),
		okapi.DocResponse([]audit.Record{}),
	)
	g.group.Get("/audit/stats", g.handleAuditStats,
		okapi.DocSummary("Aggregate audit statistics"),
		okapi.DocTags("Audit"),
		okapi.DocResponse(audit.Stats{}),
	)

	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Extra handlers (e.g., the WebSocket endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
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
		WriteTimeout:      0, // turns may stream for minutes while awaiting approval
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

// authenticate validates the bearer API key. With no keys configured the
// gateway is open (local development); the client is then identified by
// remote address for rate limiting.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientID", clientAddr(c))
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			return c.AbortUnauthorized("invalid API key")
		}

		c.Set("clientID", clientAddr(c))
		return next(c)
	}
}

// rateLimit consumes one token for the calling client.
// Returns a non-nil response error when the client is over quota.
func (g *Gateway) rateLimit(c *okapi.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Allow(c.GetString("clientID")); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}

// --- Helpers ---

func clientAddr(c *okapi.Context) string {
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
