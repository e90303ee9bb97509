package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/pkg/mq"
	"github.com/you/therapy-booking/services/payments-engine/internal/processor"
)

type Handler interface {
	Handle(ctx context.Context, n events.Notification) processor.Result
}

// PaymentConsumer feeds gateway notifications relayed by payment-service into
// the event processor.
type PaymentConsumer struct {
	h    Handler
	cons *mq.Consumer
	log  *slog.Logger
}

func NewPaymentConsumer(h Handler, cons *mq.Consumer, log *slog.Logger) *PaymentConsumer {
	return &PaymentConsumer{h: h, cons: cons, log: log.With("module", "consumer")}
}

func (pc *PaymentConsumer) Run(ctx context.Context) error {
	msgs, err := pc.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			pc.HandleDelivery(ctx, d)
		}
	}()
	return nil
}

// HandleDelivery acks anything the processor settled (including rejects,
// which would fail the same way again) and requeues only retryable results.
// Undecodable bodies go to the dead-letter queue.
func (pc *PaymentConsumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	ctx = mq.Extract(ctx, d)
	switch d.RoutingKey {
	case events.RKPaymentSucceeded, events.RKPaymentFailed:
		var n events.Notification
		if err := json.Unmarshal(d.Body, &n); err != nil {
			pc.log.ErrorContext(ctx, "unmarshal error", "operation", "consume", "outcome", "rejected", "error", err)
			_ = d.Nack(false, false)
			return
		}
		if n.Type == "" {
			n.Type = d.RoutingKey
		}
		res := pc.h.Handle(ctx, n)
		if res.Retryable {
			pc.log.WarnContext(ctx, "event requeued", "operation", "consume", "outcome", "retry",
				"event_id", n.EventID, "errors", res.Errors)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
	default:
		// ignore others
		_ = d.Ack(false)
	}
}
