// Package observe provides application-wide observability primitives for
// wordcut: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wordcut metrics.
const meterName = "github.com/MrWong99/wordcut"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CommitDuration tracks the full commit pipeline (reduce, take
	// detection, output-time recomputation) per mutation. Use with attribute:
	//   attribute.String("kind", ...)
	CommitDuration metric.Float64Histogram

	// ClassifyDuration tracks take classification latency.
	ClassifyDuration metric.Float64Histogram

	// LLMDuration tracks correction-suggestion inference latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// OpsApplied counts committed mutations. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("source", ...)
	OpsApplied metric.Int64Counter

	// OpsRejected counts mutations that failed validation or application.
	// Use with attribute:
	//   attribute.String("kind", ...)
	OpsRejected metric.Int64Counter

	// HistoryMoves counts undo and redo steps. Use with attribute:
	//   attribute.String("direction", "undo"|"redo")
	HistoryMoves metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// RemoteOps counts ops received from collaboration peers. Use with
	// attribute:
	//   attribute.String("status", ...)
	RemoteOps metric.Int64Counter

	// --- Gauges ---

	// OpenEditors tracks the number of projects loaded into editors.
	OpenEditors metric.Int64UpDownCounter

	// CollabPeers tracks the number of connected collaboration peers across
	// all projects.
	CollabPeers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", "2xx"|"4xx"|...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Commits
// on long transcripts sit at the low end, LLM calls at the high end.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument from mp. Instrument names follow the
// wordcut.<area>.<measure> scheme.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{m: mp.Meter(meterName)}
	met := &Metrics{
		CommitDuration:        b.latency("wordcut.commit.duration", "Latency of the edit commit pipeline."),
		ClassifyDuration:      b.latency("wordcut.classify.duration", "Latency of take classification."),
		LLMDuration:           b.latency("wordcut.llm.duration", "Latency of LLM correction suggestions."),
		ToolExecutionDuration: b.latency("wordcut.tool_execution.duration", "Latency of MCP tool execution."),

		OpsApplied:       b.counter("wordcut.ops.applied", "Committed edit operations by kind and source."),
		OpsRejected:      b.counter("wordcut.ops.rejected", "Rejected edit operations by kind."),
		HistoryMoves:     b.counter("wordcut.history.moves", "Undo and redo steps by direction."),
		ProviderRequests: b.counter("wordcut.provider.requests", "Provider API requests by provider, kind and status."),
		ToolCalls:        b.counter("wordcut.tool.calls", "MCP tool invocations by tool and status."),
		RemoteOps:        b.counter("wordcut.collab.remote_ops", "Ops received from collaboration peers by status."),

		OpenEditors: b.gauge("wordcut.open_editors", "Projects currently loaded into editors."),
		CollabPeers: b.gauge("wordcut.collab.peers", "Connected collaboration peers."),
	}
	// Request latency keeps the SDK's default buckets.
	var err error
	met.HTTPRequestDuration, err = b.m.Float64Histogram("wordcut.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	)
	if err = errors.Join(b.err, err); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// builder creates instruments and keeps the first error, so NewMetrics can
// check once.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.keep(err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return g
}

func (b *builder) keep(err error) {
	if b.err == nil {
		b.err = err
	}
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordOp records a committed op of the given kind from source ("local",
// "remote", "mcp").
func (m *Metrics) RecordOp(ctx context.Context, kind, source string) {
	m.OpsApplied.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("source", source),
		),
	)
}

// RecordRejectedOp records an op that could not be committed.
func (m *Metrics) RecordRejectedOp(ctx context.Context, kind string) {
	m.OpsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordHistoryMove records one undo or redo step.
func (m *Metrics) RecordHistoryMove(ctx context.Context, direction string) {
	m.HistoryMoves.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordRemoteOp records an op received from a collaboration peer.
func (m *Metrics) RecordRemoteOp(ctx context.Context, status string) {
	m.RemoteOps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
