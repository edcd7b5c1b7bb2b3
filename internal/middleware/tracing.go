package middleware

import (
	"context"
	"strconv"

	"helphub/internal/conversation"
	"helphub/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracing opens a server span for every request outside quietPaths. The span
// is named after the matched route once the chain has run, so requests for
// different conversations share a name.
func Tracing() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if quietPaths[c.Path()] {
			return c.Next()
		}

		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))
		ctx, span := observability.Tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.OriginalURL()),
				attribute.String("http.client_ip", c.IP()),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		c.Set("X-Trace-ID", traceID)
		if rid, ok := c.Locals("requestid").(string); ok {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		c.SetUserContext(context.WithValue(ctx, TraceIDKey, traceID))

		err := c.Next()

		if route := c.Route(); route != nil && route.Path != "" {
			span.SetName(c.Method() + " " + route.Path)
			span.SetAttributes(attribute.String("http.route", route.Path))
		}
		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		span.SetAttributes(chatAttributes(c)...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}
		return err
	}
}

// chatAttributes describes who the request acted for and on which conversation
// or message. The caller is only known after AuthRequired has run.
func chatAttributes(c *fiber.Ctx) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	me, _ := c.Locals("userID").(uint)
	if me != 0 {
		attrs = append(attrs, attribute.Int64("chat.user_id", int64(me)))
	}
	if other, err := strconv.ParseUint(c.Params("userId"), 10, 32); err == nil && other != 0 {
		attrs = append(attrs, attribute.Int64("chat.other_id", int64(other)))
		if me != 0 && uint(other) != me {
			attrs = append(attrs, attribute.String("chat.conversation_id", conversation.Key(me, uint(other))))
		}
	}
	if id, err := strconv.ParseUint(c.Params("messageId"), 10, 64); err == nil {
		attrs = append(attrs, attribute.Int64("chat.message_id", int64(id)))
	}
	return attrs
}
