// Package telemetry wraps the OpenTelemetry tracer and meter the core uses
// to observe agent execution, without committing to any particular
// exporter: callers wire in their own span/metric processors around the
// providers this package builds.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Attribute and span name constants used consistently across the core, so
// exported traces line up regardless of which component emitted them.
const (
	AttrAgentID    = "agent.id"
	AttrToolName   = "tool.name"
	AttrActionKind = "action.kind"
	AttrErrorType  = "error.type"

	SpanAgentRun      = "agentcore.agent_run"
	SpanModelCall     = "agentcore.model_call"
	SpanToolCall      = "agentcore.tool_call"
	SpanCompaction    = "agentcore.compaction"

	InstrumentationName = "github.com/kadirpekel/agentcore"
)

// Provider bundles the tracer and meter the core instruments itself with.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	agentRuns     metric.Int64Counter
	agentFailures metric.Int64Counter
	toolCalls     metric.Int64Counter
	toolErrors    metric.Int64Counter
	compactions   metric.Int64Counter
	modelLatency  metric.Float64Histogram
}

// NewProvider builds a Provider backed by the given trace and meter
// providers. Passing noop implementations (the default when neither is set
// on the global otel package) is a valid, zero-cost choice: every span and
// instrument created from them is simply discarded.
func NewProvider(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	tracer := tp.Tracer(InstrumentationName)
	meter := mp.Meter(InstrumentationName)

	p := &Provider{tracer: tracer, meter: meter}

	var err error
	if p.agentRuns, err = meter.Int64Counter("agentcore.agent.runs"); err != nil {
		return nil, err
	}
	if p.agentFailures, err = meter.Int64Counter("agentcore.agent.failures"); err != nil {
		return nil, err
	}
	if p.toolCalls, err = meter.Int64Counter("agentcore.tool.calls"); err != nil {
		return nil, err
	}
	if p.toolErrors, err = meter.Int64Counter("agentcore.tool.errors"); err != nil {
		return nil, err
	}
	if p.compactions, err = meter.Int64Counter("agentcore.compaction.commits"); err != nil {
		return nil, err
	}
	if p.modelLatency, err = meter.Float64Histogram("agentcore.model.latency_seconds"); err != nil {
		return nil, err
	}

	return p, nil
}

// NewDevelopmentTracerProvider builds an SDK tracer provider with no
// exporter attached: spans are created and ended like normal but go
// nowhere. It is useful for running the core with span-shaped overhead
// accounted for without committing to a collector endpoint.
func NewDevelopmentTracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider()
}

// StartAgentSpan starts a span for one full agent run.
func (p *Provider) StartAgentSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, SpanAgentRun, trace.WithAttributes(
		attribute.String(AttrAgentID, agentID),
	))
}

// StartToolSpan starts a span for one tool invocation.
func (p *Provider) StartToolSpan(ctx context.Context, agentID, toolName string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, SpanToolCall, trace.WithAttributes(
		attribute.String(AttrAgentID, agentID),
		attribute.String(AttrToolName, toolName),
	))
}

// RecordAgentRun records that agentID finished, successfully or not.
func (p *Provider) RecordAgentRun(ctx context.Context, agentID string, err error) {
	p.agentRuns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentID, agentID)))
	if err != nil {
		p.agentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentID, agentID)))
	}
}

// RecordToolCall records one tool invocation's outcome.
func (p *Provider) RecordToolCall(ctx context.Context, toolName string, err error) {
	p.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolName, toolName)))
	if err != nil {
		p.toolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolName, toolName)))
	}
}

// RecordCompaction records that a compaction commit happened for agentID.
func (p *Provider) RecordCompaction(ctx context.Context, agentID string) {
	p.compactions.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentID, agentID)))
}

// RecordModelLatency records how long one model call took.
func (p *Provider) RecordModelLatency(ctx context.Context, agentID string, d time.Duration) {
	p.modelLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(AttrAgentID, agentID)))
}
