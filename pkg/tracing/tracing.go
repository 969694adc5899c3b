package tracing

import (
	"context"
	"fmt"

	"texstream/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "texstream"

// TracerProvider owns the SDK provider; the zero value is the disabled one.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "texstream",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  0.1,
	}
}

// Init initializes tracing. With tracing disabled the global no-op provider
// stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	return InitWithExporter(cfg, exp)
}

// InitWithExporter installs a provider that batches spans into exp.
func InitWithExporter(cfg Config, exp tracesdk.SpanExporter) (*TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.instance.id", utils.NewInstanceID(cfg.ServiceName)),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// ForceFlush exports all ended spans still buffered by the batcher.
func (tp *TracerProvider) ForceFlush(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.ForceFlush(ctx)
	}
	return nil
}

func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// AddSpanAttributes is a no-op unless the span in ctx is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx failed.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

var (
	ParticipantIDKey = attribute.Key("participant.id")
	RoomKey          = attribute.Key("room")
	WidthKey         = attribute.Key("frame.width")
	HeightKey        = attribute.Key("frame.height")
	EncodedBytesKey  = attribute.Key("frame.encoded_bytes")
	PayloadBytesKey  = attribute.Key("frame.payload_bytes")
	QualityKey       = attribute.Key("frame.quality")
)

// TraceFrame starts a span for one pipeline pass ("sender.tick",
// "receiver.message").
func TraceFrame(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
}

// TraceHTTPRequest starts a server span named after the matched route.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return tracer().Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
}

// TraceJoin starts a span covering one participant's admission to a room.
func TraceJoin(ctx context.Context, room, participantID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "relay.join",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			RoomKey.String(room),
			ParticipantIDKey.String(participantID),
		),
	)
}
