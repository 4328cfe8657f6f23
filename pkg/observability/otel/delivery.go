package otel

import (
	"context"

	"github.com/fluxorio/blockflow/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const messagingSystem = "blockflow"

// Delivery identifies one batch routed from an output to an input.
type Delivery struct {
	From   string
	Output string
	To     string
	Input  string
	Count  int
}

func (d Delivery) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", messagingSystem),
		attribute.String("blockflow.from", d.From),
		attribute.String("blockflow.output", d.Output),
		attribute.String("blockflow.to", d.To),
		attribute.String("blockflow.input", d.Input),
		attribute.Int("blockflow.signals", d.Count),
	}
}

// TraceDelivery runs fn inside a consumer span describing d.
// When tracing is not initialized fn runs directly.
func TraceDelivery(ctx context.Context, d Delivery, fn func(ctx context.Context) error) error {
	if !IsInitialized() {
		return fn(ctx)
	}

	spanCtx, span := StartSpan(ctx, "block.process_signals",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(d.attributes()...),
	)
	defer span.End()

	// Add request ID to span if available
	if requestID := core.GetRequestID(ctx); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}

	err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	return err
}

// SendWithSpan sends a point-to-point message inside a producer span.
func SendWithSpan(ctx context.Context, eventBus core.EventBus, address string, body interface{}) error {
	if !IsInitialized() {
		return eventBus.Send(address, body)
	}

	_, span := StartSpan(ctx, "eventbus.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", messagingSystem),
			attribute.String("messaging.destination", address),
			attribute.String("messaging.operation", "send"),
		),
	)
	defer span.End()

	if requestID := core.GetRequestID(ctx); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}

	err := eventBus.Send(address, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}

	return err
}

// WrapConsumerHandler wraps a consumer handler with span creation
func WrapConsumerHandler(address string, handler core.MessageHandler) core.MessageHandler {
	return func(ctx context.Context, msg core.Message) error {
		if !IsInitialized() {
			return handler(ctx, msg)
		}

		spanCtx, span := StartSpan(ctx, "eventbus.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", messagingSystem),
				attribute.String("messaging.destination", address),
				attribute.String("messaging.operation", "consume"),
			),
		)
		defer span.End()

		err := handler(spanCtx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "OK")
		}

		return err
	}
}
