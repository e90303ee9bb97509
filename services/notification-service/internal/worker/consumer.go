package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/pkg/mq"
	"github.com/you/therapy-booking/services/notification-service/internal/dedupe"
	"github.com/you/therapy-booking/services/notification-service/internal/notifier"
)

type Config struct {
	RabbitURL   string
	Exchanges   []string
	Queue       string
	Bindings    []string
	Prefetch    int
	UseDLX      bool
	DLXName     string
	DLXQueue    string
	ServiceName string
}

type Consumer struct {
	cfg      Config
	notifier notifier.Notifier
	seen     dedupe.Store
	log      *slog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg Config, n notifier.Notifier, seen dedupe.Store, log *slog.Logger) *Consumer {
	return &Consumer{cfg: cfg, notifier: n, seen: seen, log: log.With("module", "worker")}
}

func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("rabbit dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel failed: %w", err)
	}

	exchanges := c.cfg.Exchanges
	if len(exchanges) == 0 {
		exchanges = []string{"notification.exchange"}
	}

	args := amqp.Table{}
	if c.cfg.UseDLX {
		args["x-dead-letter-exchange"] = c.cfg.DLXName
	}

	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue failed: %w", err)
	}

	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("declare exchange %s failed: %w", ex, err)
		}
		for _, key := range c.cfg.Bindings {
			if err := ch.QueueBind(q.Name, key, ex, false, nil); err != nil {
				_ = ch.Close()
				_ = conn.Close()
				return fmt.Errorf("bind queue to exchange=%s key=%s failed: %w", ex, key, err)
			}
		}
	}

	if c.cfg.UseDLX {
		if err := ch.ExchangeDeclare(c.cfg.DLXName, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("declare dlx failed: %w", err)
		}
		if _, err := ch.QueueDeclare(c.cfg.DLXQueue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("declare dlq failed: %w", err)
		}
		if err := ch.QueueBind(c.cfg.DLXQueue, "#", c.cfg.DLXName, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind dlq failed: %w", err)
		}
	}

	if c.cfg.Prefetch <= 0 {
		c.cfg.Prefetch = 8
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos failed: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.ServiceName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.Settle(ctx, d)
		}
	}
}

// errPoison marks a message no retry can deliver; it goes to the DLQ.
var errPoison = errors.New("poison message")

// Settle handles one delivery and acks, requeues or dead-letters it.
func (c *Consumer) Settle(ctx context.Context, d amqp.Delivery) {
	ctx = mq.Extract(ctx, d)
	err := c.handleDelivery(ctx, d)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errPoison):
		c.log.ErrorContext(ctx, "dead-lettering message", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
	default:
		c.log.WarnContext(ctx, "handle error; requeue", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, true)
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	switch d.RoutingKey {
	case events.RKNotificationSend:
		msg, err := events.MustUnmarshal[events.SendNotification](d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		id := msg.ID
		if id == "" {
			id = d.MessageId
		}
		subject, body, err := notifier.Render(msg.Template, msg.Data)
		if err != nil {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		if id == "" {
			return c.notifier.Notify(ctx, msg.To, subject, body)
		}

		fresh, err := c.seen.Claim(ctx, id)
		if err != nil {
			return err
		}
		if !fresh {
			c.log.InfoContext(ctx, "duplicate notification skipped", "notification_id", id)
			return nil
		}
		if err := c.notifier.Notify(ctx, msg.To, subject, body); err != nil {
			_ = c.seen.Release(ctx, id)
			return err
		}
		return nil

	default:
		c.log.InfoContext(ctx, "skip unknown key", "routing_key", d.RoutingKey)
	}
	return nil
}
