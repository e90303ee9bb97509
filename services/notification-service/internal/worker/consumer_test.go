package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/services/notification-service/internal/dedupe"
)

type sent struct{ to, subject, body string }

type fakeNotifier struct {
	out  []sent
	fail error
}

func (f *fakeNotifier) Notify(_ context.Context, to, subject, message string) error {
	if f.fail != nil {
		return f.fail
	}
	f.out = append(f.out, sent{to, subject, message})
	return nil
}

type ack struct {
	acked   bool
	requeue *bool
}

func (a *ack) Ack(uint64, bool) error { a.acked = true; return nil }

func (a *ack) Nack(_ uint64, _ bool, requeue bool) error { a.requeue = &requeue; return nil }

func (a *ack) Reject(_ uint64, requeue bool) error { a.requeue = &requeue; return nil }

func newConsumer(n *fakeNotifier) *Consumer {
	return NewConsumer(Config{}, n, dedupe.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func deliver(c *Consumer, key, body string) *ack {
	a := &ack{}
	c.Settle(context.Background(), amqp.Delivery{Acknowledger: a, RoutingKey: key, Body: []byte(body)})
	return a
}

const msg = `{"id":"n1","to":"c1","template":"session_link","data":{"booking_id":"b1","meeting_url":"https://meet.example/b1"}}`

func TestSettle_DeliversOncePerID(t *testing.T) {
	n := &fakeNotifier{}
	c := newConsumer(n)

	assert.True(t, deliver(c, events.RKNotificationSend, msg).acked)
	assert.True(t, deliver(c, events.RKNotificationSend, msg).acked)

	require.Len(t, n.out, 1)
	assert.Equal(t, "c1", n.out[0].to)
	assert.Equal(t, "Your session link", n.out[0].subject)
}

func TestSettle_FailedDeliveryIsRequeuedAndRetryable(t *testing.T) {
	n := &fakeNotifier{fail: errors.New("smtp down")}
	c := newConsumer(n)

	a := deliver(c, events.RKNotificationSend, msg)
	require.NotNil(t, a.requeue)
	assert.True(t, *a.requeue)

	n.fail = nil
	assert.True(t, deliver(c, events.RKNotificationSend, msg).acked)
	assert.Len(t, n.out, 1)
}

func TestSettle_PoisonGoesToDLQ(t *testing.T) {
	c := newConsumer(&fakeNotifier{})

	for _, body := range []string{"{", `{"id":"n2","to":"c1","template":"birthday"}`} {
		a := deliver(c, events.RKNotificationSend, body)
		require.NotNil(t, a.requeue, body)
		assert.False(t, *a.requeue, body)
	}
}

func TestSettle_UnknownKeyAcked(t *testing.T) {
	n := &fakeNotifier{}
	c := newConsumer(n)
	assert.True(t, deliver(c, "booking.created", `{}`).acked)
	assert.Empty(t, n.out)
}
