package middleware

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

const tracerName = "github.com/m3rciful/flowbot/core/telegram"

// Trace opens a span per update and copies its ids into the log context.
// A nil provider uses the global one.
func Trace(tp trace.TracerProvider) dispatch.Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(next dispatch.UpdateFunc) dispatch.UpdateFunc {
		return func(c *dispatch.Context) error {
			upd := c.Update()
			attrs := []attribute.KeyValue{
				attribute.Int("telegram.update_id", upd.ID),
				attribute.String("telegram.kind", string(c.Kind())),
			}
			if id, ok := c.CorrespondentID(); ok {
				attrs = append(attrs, attribute.Int64("telegram.correspondent_id", id))
			}
			ctx, span := tracer.Start(c.Context(), "update "+string(c.Kind()),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()
			if sc := span.SpanContext(); sc.IsValid() {
				ctx = logger.WithTrace(ctx, sc.TraceID().String(), sc.SpanID().String())
			}

			c = c.WithContext(ctx)
			err := next(c)
			span.SetAttributes(attribute.Int("telegram.handlers", c.Matched()))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
