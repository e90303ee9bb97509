// Package events holds the wire types exchanged between the payment relay,
// the payments engine and the notification service.
package events

import (
	"encoding/json"
	"fmt"
)

// Notification types accepted by the engine.
const (
	TypePaymentSucceeded = "payment.succeeded"
	TypePaymentFailed    = "payment.failed"
)

// Routing keys.
const (
	RKPaymentSucceeded = TypePaymentSucceeded
	RKPaymentFailed    = TypePaymentFailed
	RKNotificationSend = "notification.send"
)

// Notification is the inbound gateway notification. EventID is the
// idempotency key; the gateway may deliver the same one many times.
type Notification struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (n Notification) Validate() error {
	if n.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !KnownType(n.Type) {
		return fmt.Errorf("unknown event type %q", n.Type)
	}
	if len(n.Payload) == 0 || string(n.Payload) == "null" {
		return fmt.Errorf("payload is required")
	}
	return nil
}

func KnownType(t string) bool {
	return t == TypePaymentSucceeded || t == TypePaymentFailed
}

// SendNotification asks the notification service to render Template with
// Data and deliver it to To.
type SendNotification struct {
	ID       string            `json:"id"`
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

func MustUnmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
