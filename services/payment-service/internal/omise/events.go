// Package omisecli verifies webhook deliveries against the Omise API.
package omisecli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Event is a webhook event as confirmed by Omise, with Data left raw.
type Event struct {
	ID   string
	Key  string
	Data json.RawMessage
}

type EventSource struct {
	omc *omise.Client
}

func NewEventSource(omc *omise.Client) *EventSource {
	return &EventSource{omc: omc}
}

// Retrieve fetches the event by id. The webhook body is never trusted; only
// what Omise returns for the id is relayed.
func (s *EventSource) Retrieve(_ context.Context, id string) (Event, error) {
	ev := &omise.Event{}
	if err := s.omc.Do(ev, &operations.RetrieveEvent{EventID: id}); err != nil {
		return Event{}, fmt.Errorf("retrieve event %s: %w", id, err)
	}
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Event{ID: ev.ID, Key: ev.Key, Data: raw}, nil
}
