package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neurovexon/axon/internal/audit"
	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/sandbox"
)

// The wrappers below decorate the hot interfaces (provider, sandbox,
// audit store) with metrics, spans, and anomaly signals. Each tolerates
// nil collaborators so partially-enabled observability costs a branch,
// not a config matrix.

// startSpan opens a span when a tracer is present. The returned context
// carries the span either way.
func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if tracer == nil {
		return ctx, func() {}
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// markSpanError records err on the current span, if any.
func markSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InstrumentedProvider decorates an llm.Provider with request metrics,
// token accounting, spans, and error-rate tracking.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	p := &InstrumentedProvider{inner: inner, metrics: metrics, anomaly: anomaly}
	if ts != nil {
		p.tracer = ts.Tracer()
	}
	return p
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()
	ctx, end := startSpan(ctx, p.tracer, "llm.send_message",
		attribute.String("llm.provider", provider))
	defer end()

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	elapsed := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			markSpanError(ctx, err)
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, "", status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, "").Observe(elapsed)
		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "", "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "", "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	if p.anomaly != nil {
		if err != nil {
			p.anomaly.RecordError("llm_request")
		} else {
			p.anomaly.RecordSuccess("llm_request")
		}
	}

	return resp, err
}

// InstrumentedSandbox decorates a sandbox.Sandbox. Non-zero exit codes
// are a distinct metric status: the command ran, its outcome just wasn't
// clean, and conflating that with transport errors hides real failures.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string
	metrics     *MetricsCollector
	tracer      trace.Tracer
	anomaly     *AnomalyDetector
}

func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	s := &InstrumentedSandbox{inner: inner, sandboxType: sandboxType, metrics: metrics, anomaly: anomaly}
	if ts != nil {
		s.tracer = ts.Tracer()
	}
	return s
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	ctx, end := startSpan(ctx, s.tracer, "sandbox.execute",
		attribute.String("sandbox.type", s.sandboxType))
	defer end()

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	elapsed := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if s.tracer != nil {
			markSpanError(ctx, err)
		}
	case result != nil && result.ExitCode != 0:
		status = "nonzero_exit"
		if s.tracer != nil {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Int("sandbox.exit_code", result.ExitCode))
		}
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(elapsed)
	}

	if s.anomaly != nil {
		if err != nil {
			s.anomaly.RecordError("sandbox_" + s.sandboxType)
		} else {
			s.anomaly.RecordSuccess("sandbox_" + s.sandboxType)
		}
	}

	return result, err
}

// InstrumentedAuditStore decorates an audit.Store, counting appended
// records by event type and feeding authorization outcomes into the
// anomaly detector. Reads pass straight through.
type InstrumentedAuditStore struct {
	inner   audit.Store
	metrics *MetricsCollector
	anomaly *AnomalyDetector
}

func NewInstrumentedAuditStore(inner audit.Store, metrics *MetricsCollector, anomaly *AnomalyDetector) *InstrumentedAuditStore {
	return &InstrumentedAuditStore{inner: inner, metrics: metrics, anomaly: anomaly}
}

func (s *InstrumentedAuditStore) Append(ctx context.Context, rec audit.Record) error {
	err := s.inner.Append(ctx, rec)

	if err == nil && s.metrics != nil {
		s.metrics.AuditRecordsTotal.WithLabelValues(string(rec.Type)).Inc()
	}
	if s.anomaly != nil {
		switch rec.Type {
		case audit.EventRejected, audit.EventBlocked:
			s.anomaly.RecordRejection(rec.Tool)
		case audit.EventAuthorized:
			s.anomaly.RecordApproval(rec.Tool)
		}
	}

	return err
}

func (s *InstrumentedAuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	return s.inner.Query(ctx, f)
}

func (s *InstrumentedAuditStore) Stats(ctx context.Context, f audit.Filter) (*audit.Stats, error) {
	return s.inner.Stats(ctx, f)
}

var (
	_ llm.Provider    = (*InstrumentedProvider)(nil)
	_ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
	_ audit.Store     = (*InstrumentedAuditStore)(nil)
)

// statusCode renders an HTTP status for use as a metric label.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
