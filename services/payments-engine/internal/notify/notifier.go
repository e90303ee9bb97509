// Package notify hands rendered-later notifications to the notification
// service over the broker.
package notify

import (
	"context"

	"github.com/you/therapy-booking/pkg/events"
)

// Publisher is the part of mq.Publisher we use.
type Publisher interface {
	PublishJSONWithID(ctx context.Context, key, messageID string, v any) error
}

type MQNotifier struct {
	pub Publisher
}

func NewMQ(pub Publisher) *MQNotifier {
	return &MQNotifier{pub: pub}
}

// Send publishes one message. The id is the outbox item id, so the
// notification service can drop redeliveries.
func (n *MQNotifier) Send(ctx context.Context, msg events.SendNotification) error {
	return n.pub.PublishJSONWithID(ctx, events.RKNotificationSend, msg.ID, msg)
}
