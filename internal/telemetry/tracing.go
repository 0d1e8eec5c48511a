// Package telemetry sets up OpenTelemetry tracing for sweeps, extractions and
// the review events they publish.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.uber.org/zap"
)

// Config tunes the tracer provider.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of root spans recorded, in [0, 1].
	SampleRatio float64
}

// InitTracerProvider installs a global tracer provider and the W3C trace
// context and baggage propagators. Ended spans are written to logger at debug
// level. Extra options, such as span processors in tests, are appended.
func InitTracerProvider(ctx context.Context, cfg Config, logger *zap.Logger, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "review-notifier"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	}
	tp := sdktrace.NewTracerProvider(append(base, opts...)...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// logProcessor logs every ended span.
type logProcessor struct {
	logger *zap.Logger
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if ce := p.logger.Check(zap.DebugLevel, "span ended"); ce != nil {
		fields := []zap.Field{
			zap.String("span", s.Name()),
			zap.String("trace_id", s.SpanContext().TraceID().String()),
			zap.Duration("elapsed", s.EndTime().Sub(s.StartTime()).Round(time.Millisecond)),
			zap.String("status", s.Status().Code.String()),
		}
		if d := s.Status().Description; d != "" {
			fields = append(fields, zap.String("error", d))
		}
		ce.Write(fields...)
	}
}

func (p *logProcessor) Shutdown(context.Context) error { return nil }

func (p *logProcessor) ForceFlush(context.Context) error { return nil }
