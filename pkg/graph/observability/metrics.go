package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics. NewMetricsRecorder wires the
// global OTel meter provider; NoopMetrics disables recording.
type MetricsRecorder interface {
	// RecordNodeExecution records one node execution with its duration
	// and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordGraphRun records a completed workflow run.
	RecordGraphRun(ctx context.Context, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint save.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
}

type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	checkpointSize metric.Int64Histogram
}

// instruments creates metric instruments, keeping the first creation
// error instead of threading err through every call site.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	if in.err == nil {
		in.err = err
	}
	return c
}

func (in *instruments) latency(name, desc string) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("ms"),
	)
	if in.err == nil {
		in.err = err
	}
	return h
}

func (in *instruments) size(name, desc string) metric.Int64Histogram {
	h, err := in.meter.Int64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("By"),
	)
	if in.err == nil {
		in.err = err
	}
	return h
}

func newOtelMetrics() (*otelMetrics, error) {
	in := &instruments{meter: otel.Meter("gluer")}

	m := &otelMetrics{
		nodeExecutions: in.counter("gluer.node.executions", "Number of node executions"),
		nodeLatency:    in.latency("gluer.node.latency_ms", "Node execution latency in milliseconds"),
		nodeErrors:     in.counter("gluer.node.errors", "Number of node execution errors"),
		graphRuns:      in.counter("gluer.run.count", "Number of workflow runs"),
		graphLatency:   in.latency("gluer.run.latency_ms", "Workflow run latency in milliseconds"),
		checkpointSize: in.size("gluer.checkpoint.size_bytes", "Checkpoint size in bytes"),
	}
	if in.err != nil {
		return nil, in.err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global
// OTel meter provider, falling back to NoopMetrics when instrument
// creation fails. Configure the provider before calling it.
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics disabled, instrument creation failed",
			slog.String("error", err.Error()),
		)
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	node := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeExecutions.Add(ctx, 1, node)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), node)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, node)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, success bool, duration time.Duration) {
	run := metric.WithAttributes(attribute.Bool("success", success))
	m.graphRuns.Add(ctx, 1, run)
	m.graphLatency.Record(ctx, float64(duration.Milliseconds()), run)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes,
		metric.WithAttributes(attribute.String("node_id", nodeID)),
	)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordNodeExecution(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordGraphRun(context.Context, bool, time.Duration)               {}
func (NoopMetrics) RecordCheckpoint(context.Context, string, int64)                   {}
