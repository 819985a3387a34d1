package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "webstore"

// placementMetrics são os instrumentos do coordenador de pedidos
type placementMetrics struct {
	placed               metric.Int64Counter
	failed               metric.Int64Counter
	released             metric.Int64Counter
	compensationFailures metric.Int64Counter
	duration             metric.Float64Histogram
}

func newPlacementMetrics(meter metric.Meter) *placementMetrics {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			slog.Error("failed to create counter", "name", name, "error", err)
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	duration, err := meter.Float64Histogram("webstore.orders.duration",
		metric.WithDescription("Order placement latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		slog.Error("failed to create histogram", "error", err)
		duration, _ = fallback.Float64Histogram("webstore.orders.duration")
	}

	return &placementMetrics{
		placed:               counter("webstore.orders.placed", "Orders committed to the ledger"),
		failed:               counter("webstore.orders.failed", "Order placements that ended in a failure"),
		released:             counter("webstore.reservations.released", "Reservations undone by compensation"),
		compensationFailures: counter("webstore.compensations.failed", "Releases that could not be applied"),
		duration:             duration,
	}
}

func (m *placementMetrics) recordOutcome(ctx context.Context, elapsedMs float64, err error) {
	if err == nil {
		m.placed.Add(ctx, 1)
		m.duration.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("outcome", "committed")))
		return
	}

	reason := string(FailurePersistence)
	if kind, ok := FailureKindOf(err); ok {
		reason = string(kind)
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.duration.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("outcome", "failed")))
}

// ContextHandler adds the TraceID and SpanID of the active span to every log
// record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	spanContext := trace.SpanContextFromContext(ctx)
	if spanContext.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanContext.TraceID().String()))
	}
	if spanContext.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanContext.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// initLogger installs the JSON logger decorated with tracing context as the
// default slog logger.
func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(&ContextHandler{Handler: handler}))
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}
