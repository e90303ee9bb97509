package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// headerCarrier lets the otel propagator read and write AMQP headers.
type headerCarrier amqp.Table

func (h headerCarrier) Get(key string) string {
	v, _ := h[key].(string)
	return v
}

func (h headerCarrier) Set(key, value string) {
	h[key] = value
}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Inject writes the trace context of ctx into h.
func Inject(ctx context.Context, h amqp.Table) {
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(h))
}

// Extract continues the publisher's trace, if the delivery carries one.
func Extract(ctx context.Context, d amqp.Delivery) context.Context {
	if len(d.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
}
