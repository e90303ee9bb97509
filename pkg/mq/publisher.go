package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked means the broker refused a publish; the caller still owns the
// message and should retry it.
var ErrNacked = errors.New("publish nacked by broker")

// Publisher publishes to one topic exchange on a channel in confirm mode, so a
// nil error means the broker has taken responsibility for the message.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*Publisher, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	if err := ch.Confirm(false); err != nil {
		return fail("enable confirms", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	return p.PublishJSONWithID(ctx, key, "", v)
}

// PublishJSONWithID publishes v as a persistent message and blocks until the
// broker confirms it or ctx ends. The message id lets consumers drop
// redeliveries; the caller's trace context travels in the headers.
func (p *Publisher) PublishJSONWithID(ctx context.Context, key, messageID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{},
		Body:         b,
	}
	Inject(ctx, msg.Headers)

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNacked, key)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
