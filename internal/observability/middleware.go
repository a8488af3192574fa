package observability

import (
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetricsMiddleware records per-request counters, latency, and an
// optional trace span. Both collaborators are nil-tolerant so the
// gateway can run without observability wired.
func MetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			req := c.Request()
			method, path := req.Method, req.URL.Path

			if tracer != nil {
				_, span := tracer.Start(req.Context(), "http.request",
					trace.WithAttributes(
						attribute.String("http.method", method),
						attribute.String("http.path", path),
					))
				defer span.End()
			}

			if metrics == nil {
				return next(c)
			}

			metrics.ActiveRequests.Inc()
			defer metrics.ActiveRequests.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			code := c.Response().StatusCode()
			if code == 0 {
				// Handlers that never write headers implicitly return 200.
				code = http.StatusOK
			}
			metrics.HTTPRequestsTotal.WithLabelValues(method, path, statusCode(code)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed)

			return err
		}
	}
}
