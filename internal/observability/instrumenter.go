// Package observability wires optional metrics and tracing across the
// gateway's packages (blobstore, tusengine, chunkpipeline, downloadgw) behind
// one shared Instrumenter so each component doesn't reimplement the same
// "metrics/tracer may be nil" guard.
package observability

import (
	"context"
	"time"

	"github.com/gostratum/metricsx"
	"github.com/gostratum/tracingx"
	"go.uber.org/fx"
)

// ObservabilityParams holds optional observability dependencies supplied by
// the fx graph. Both fields are optional: a deployment without metrics or
// tracing infrastructure still gets a working, no-op Instrumenter.
type ObservabilityParams struct {
	fx.In

	Metrics metricsx.Metrics `optional:"true"`
	Tracer  tracingx.Tracer  `optional:"true"`
}

// Instrumenter wraps gateway operations with metrics and tracing, scoped per
// caller by a component name (e.g. "blobstore", "tusengine", "downloadgw").
type Instrumenter struct {
	metrics metricsx.Metrics
	tracer  tracingx.Tracer
}

// NewInstrumenter creates a new instrumenter with optional metrics and tracing.
func NewInstrumenter(metrics metricsx.Metrics, tracer tracingx.Tracer) *Instrumenter {
	return &Instrumenter{metrics: metrics, tracer: tracer}
}

// NewObservabilityInstrumenter is the fx-friendly constructor.
func NewObservabilityInstrumenter(params ObservabilityParams) *Instrumenter {
	return NewInstrumenter(params.Metrics, params.Tracer)
}

// Module provides the shared Instrumenter to the fx graph.
func Module() fx.Option {
	return fx.Module("observability",
		fx.Provide(NewObservabilityInstrumenter),
	)
}

// TraceOperation wraps an operation with tracing and metrics. component
// identifies the calling package (e.g. "blobstore", "tusengine"); operation
// is the verb within it (e.g. "put", "patch", "finalize").
func (i *Instrumenter) TraceOperation(ctx context.Context, component, operation, key string, fn func(ctx context.Context) error) error {
	var span tracingx.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, component+"."+operation,
			tracingx.WithSpanKind(tracingx.SpanKindClient),
			tracingx.WithAttributes(map[string]any{
				"ingestgw.component": component,
				"ingestgw.operation": operation,
				"ingestgw.key":       key,
			}),
		)
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	if i.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}

		i.metrics.Counter("ingestgw_operations_total",
			metricsx.WithHelp("Total number of gateway operations"),
			metricsx.WithLabels("component", "operation", "status"),
		).Inc(component, operation, status)

		i.metrics.Histogram("ingestgw_operation_duration_seconds",
			metricsx.WithHelp("Gateway operation duration in seconds"),
			metricsx.WithLabels("component", "operation"),
			metricsx.WithBuckets(.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10),
		).Observe(duration, component, operation)
	}

	if span != nil && err != nil {
		span.SetError(err)
	}

	return err
}

// RecordOperationSize records the size of data transferred by component.
func (i *Instrumenter) RecordOperationSize(component, operation string, size int64) {
	if i.metrics == nil {
		return
	}
	i.metrics.Histogram("ingestgw_operation_bytes",
		metricsx.WithHelp("Gateway operation data size in bytes"),
		metricsx.WithLabels("component", "operation"),
		metricsx.WithBuckets(1024, 10240, 102400, 1024000, 10240000, 104857600, 1073741824),
	).Observe(float64(size), component, operation)
}

// RecordMultipartOperation records multipart upload metrics from blobstore
// or chunkpipeline.
func (i *Instrumenter) RecordMultipartOperation(component, operation string, partCount int) {
	if i.metrics == nil {
		return
	}
	i.metrics.Counter("ingestgw_multipart_operations_total",
		metricsx.WithHelp("Total number of multipart upload operations"),
		metricsx.WithLabels("component", "operation"),
	).Inc(component, operation)

	if partCount > 0 {
		i.metrics.Counter("ingestgw_multipart_parts_total",
			metricsx.WithHelp("Total number of multipart upload parts"),
			metricsx.WithLabels("component"),
		).Add(float64(partCount), component)
	}
}

// RecordListOperation records list operation metrics from blobstore.
func (i *Instrumenter) RecordListOperation(component string, itemCount int, truncated bool) {
	if i.metrics == nil {
		return
	}
	i.metrics.Histogram("ingestgw_list_items",
		metricsx.WithHelp("Number of items returned in list operations"),
		metricsx.WithLabels("component"),
		metricsx.WithBuckets(1, 10, 50, 100, 500, 1000, 5000, 10000),
	).Observe(float64(itemCount), component)

	if truncated {
		i.metrics.Counter("ingestgw_list_truncated_total",
			metricsx.WithHelp("Number of truncated list operations"),
			metricsx.WithLabels("component"),
		).Inc(component)
	}
}

// RecordOffsetMismatch records a tusengine OFFSET_MISMATCH rejection - the
// protocol's named concurrency-control edge case.
func (i *Instrumenter) RecordOffsetMismatch(uploadKind string) {
	if i.metrics == nil {
		return
	}
	i.metrics.Counter("ingestgw_offset_mismatch_total",
		metricsx.WithHelp("Total number of PATCH requests rejected for offset mismatch"),
		metricsx.WithLabels("upload_kind"),
	).Inc(uploadKind)
}
