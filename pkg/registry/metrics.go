package registry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

var tracer = otel.Tracer("graphfed.registry")

var (
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphfed",
		Subsystem: "registry",
		Name:      "operations_total",
		Help:      "Registry operations by operation and result code.",
	}, []string{"op", "result"})

	latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "graphfed",
		Subsystem: "registry",
		Name:      "operation_duration_seconds",
		Help:      "Latency of registry operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})

	fastlane = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphfed",
		Subsystem: "registry",
		Name:      "query_dispatch_total",
		Help:      "SPARQL queries by dispatch route (fastlane or engine).",
	}, []string{"route"})
)

// observe opens a span for op and returns a function that records the outcome.
//
//	ctx, done := r.observe(ctx, "get", name)
//	defer func() { done(err) }()
func (r *Registry) observe(ctx context.Context, op string, name rdf.IRI) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("registry.op", op)}
	if name != "" {
		attrs = append(attrs, attribute.String("graph.name", name.Value()))
	}
	ctx, span := tracer.Start(ctx, "Registry."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		result := "OK"
		if err != nil {
			result = string(graph.Code(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("registry.result", result))
		span.End()

		operations.WithLabelValues(op, result).Inc()
		latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
