package client

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName     = "board-sync/client"
	spanNamePrefix = "board.client."
	metricsMessage = "request.metrics"
)

type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	op     string
	method string
	route  string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, op, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanNamePrefix+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		op:     op,
		method: method,
		route:  route,
	}, ctx
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))

	m.span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Float64("board.client.total_ms", total),
	)
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"op":       m.op,
		"method":   m.method,
		"route":    m.route,
		"status":   status,
		"total_ms": total,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn(metricsMessage)
		return
	}
	entry.Debug(metricsMessage)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
