// Package metrics instruments the query library with Prometheus metrics
// and OpenTelemetry spans.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	metricPrefix = "aqa_"
	tracerName   = "github.com/smukkama/airquality-alerts/internal/database"

	resultSuccess = "success"
	resultError   = "error"
)

// QueryObserver records a counter and a latency histogram per query
// operation and wraps each query in a span.
type QueryObserver struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tracer   trace.Tracer
}

// NewQueryObserver creates the observer and registers its collectors with reg.
// A nil reg uses the default registerer.
func NewQueryObserver(reg prometheus.Registerer) (*QueryObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &QueryObserver{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_total",
				Help: "Total queries by operation and result",
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_duration_seconds",
				Help:    "Query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		tracer: otel.Tracer(tracerName),
	}

	for _, c := range []prometheus.Collector{o.queries, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// Start implements database.Observer
func (o *QueryObserver) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, "query."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
		),
	)
	start := time.Now()

	return ctx, func(err error) {
		o.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

		result := resultSuccess
		if err != nil {
			result = resultError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.queries.WithLabelValues(operation, result).Inc()
		span.End()
	}
}
