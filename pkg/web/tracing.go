package web

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for panel servers.
const defaultTracerName = "param"

// TracingConfig configures the OpenTelemetry tracing of inbound events.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "param").
	TracerName string

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// TracingOption configures the OpenTelemetry tracing.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) { c.TracerName = name }
}

// NewTracing resolves a tracer from the global OpenTelemetry provider.
//
// Configure the provider in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	otel.SetTracerProvider(tp)
func NewTracing(opts ...TracingOption) *TracingConfig {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)
	return &config
}

// span starts a span for one inbound client message and returns a finish
// function that records the outcome.
func (c *TracingConfig) span(ctx context.Context, msgType, sessionID, attr string) func(error) {
	if c == nil {
		return func(error) {}
	}

	attrs := []attribute.KeyValue{
		attribute.String("param.message_type", msgType),
		attribute.String("param.session_id", sessionID),
	}
	if attr != "" {
		attrs = append(attrs, attribute.String("param.attr", attr))
	}

	_, sp := c.tracer.Start(
		ctx,
		fmt.Sprintf("param.dispatch %s", msgType),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	return func(err error) {
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, err.Error())
		} else {
			sp.SetStatus(codes.Ok, "")
		}
		sp.End()
	}
}
