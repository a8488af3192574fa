// Package observability bundles the optional runtime instrumentation:
// Prometheus metrics, OpenTelemetry tracing, health probes, and request
// anomaly detection. Everything here tolerates being nil so callers wire
// exactly the pieces the configuration enables and skip the rest with a
// single check.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neurovexon/axon/internal/config"
)

// Observability holds whichever instrumentation components are enabled.
// A nil field means the feature is off.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker
}

// New builds the enabled components from config. A nil config disables
// everything and returns nil, which downstream wrappers accept.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}

	obs := &Observability{
		// Probes are always available; dependency checks get registered
		// as the components they watch come up.
		Health: NewHealthChecker(logger),
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}

	return obs, nil
}

// Shutdown flushes and releases instrumentation resources.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracer == nil {
		return
	}
	_ = o.Tracer.Shutdown(ctx)
}

// TracerOrNil returns the tracer setup, or nil when tracing is off.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}
