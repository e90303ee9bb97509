package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/pkg/gateway"
)

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishJSONWithID(ctx context.Context, key, messageID string, v any) error
}

type PaymentSvc struct {
	gw  gateway.Gateway
	pub Publisher
	log *slog.Logger
}

func NewPaymentSvc(gw gateway.Gateway, pub Publisher, log *slog.Logger) *PaymentSvc {
	return &PaymentSvc{gw: gw, pub: pub, log: log.With("module", "payment")}
}

// Charge is the gateway charge object as it appears in webhook data.
type Charge struct {
	ID          string         `json:"id"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Fee         int64          `json:"fee"`
	FeeVat      int64          `json:"fee_vat"`
	Status      string         `json:"status"`
	FailureCode *string        `json:"failure_code"`
	Metadata    map[string]any `json:"metadata"`
}

// BookingDetails travel in charge metadata so the engine can create the
// booking from the payment notification alone.
type BookingDetails struct {
	Ref              string `json:"booking_ref"`
	ClientID         string `json:"client_id"`
	TherapistID      string `json:"therapist_id"`
	ScheduledAt      string `json:"scheduled_at"` // RFC3339
	DurationMinutes  int    `json:"duration_minutes"`
	TherapistAccount string `json:"therapist_account"`
}

func (d BookingDetails) metadata() map[string]string {
	m := map[string]string{
		"client_id":         d.ClientID,
		"therapist_id":      d.TherapistID,
		"scheduled_at":      d.ScheduledAt,
		"duration_minutes":  strconv.Itoa(d.DurationMinutes),
		"therapist_account": d.TherapistAccount,
	}
	if d.Ref != "" {
		m["booking_ref"] = d.Ref
	}
	return m
}

type CreateCardChargeInput struct {
	Amount    int64
	Currency  string
	CardToken string
	Booking   BookingDetails
}

// CreateCardCharge charges the card. A charge that settles synchronously is
// relayed right away; pending ones wait for the webhook.
func (s *PaymentSvc) CreateCardCharge(ctx context.Context, in CreateCardChargeInput) (gateway.Charge, error) {
	ch, err := s.gw.CreateCharge(ctx, gateway.ChargeRequest{
		Amount:    in.Amount,
		Currency:  in.Currency,
		CardToken: in.CardToken,
		Metadata:  in.Booking.metadata(),
	})
	if err != nil {
		return ch, err
	}
	s.log.InfoContext(ctx, "charge created", "operation", "create_charge", "charge_id", ch.ID, "status", ch.Status)

	meta := map[string]any{}
	for k, v := range in.Booking.metadata() {
		meta[k] = v
	}
	relay := Charge{ID: ch.ID, Amount: ch.Amount, Currency: ch.Currency, Status: ch.Status, Metadata: meta}
	// the webhook for the same charge arrives later under its own event id;
	// the engine dedupes on the charge id
	if err := s.Relay(ctx, ch.ID+":"+ch.Status, relay); err != nil {
		s.log.WarnContext(ctx, "relay after charge failed", "operation", "create_charge", "charge_id", ch.ID, "error", err)
	}
	return ch, nil
}

// Relay publishes a settled charge as an engine notification keyed by
// eventID. Charges that have not settled are skipped.
func (s *PaymentSvc) Relay(ctx context.Context, eventID string, ch Charge) error {
	n, ok, err := Notification(eventID, ch)
	if err != nil || !ok {
		return err
	}
	if err := s.pub.PublishJSONWithID(ctx, n.Type, n.EventID, n); err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}
	s.log.InfoContext(ctx, "payment relayed", "operation", "relay", "outcome", "published",
		"event_id", eventID, "type", n.Type, "charge_id", ch.ID)
	return nil
}

// Notification maps a charge to the engine's inbound envelope. ok is false
// for statuses the engine does not act on.
func Notification(eventID string, ch Charge) (events.Notification, bool, error) {
	var typ string
	switch ch.Status {
	case "successful":
		typ = events.TypePaymentSucceeded
	case "failed":
		typ = events.TypePaymentFailed
	default:
		return events.Notification{}, false, nil
	}

	type chargeObj struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Fee      int64  `json:"fee"`
	}
	type bookingObj struct {
		Ref             string `json:"ref,omitempty"`
		ClientID        string `json:"client_id,omitempty"`
		TherapistID     string `json:"therapist_id,omitempty"`
		ScheduledAt     string `json:"scheduled_at,omitempty"`
		DurationMinutes int    `json:"duration_minutes,omitempty"`
	}
	payload := struct {
		Version          int        `json:"version"`
		Charge           chargeObj  `json:"charge"`
		Booking          bookingObj `json:"booking"`
		TherapistAccount string     `json:"therapist_account,omitempty"`
		FailureCode      string     `json:"failure_code,omitempty"`
	}{
		Version: 2,
		Charge:  chargeObj{ID: ch.ID, Amount: ch.Amount, Currency: ch.Currency, Fee: ch.Fee + ch.FeeVat},
		Booking: bookingObj{
			Ref:             metaString(ch.Metadata, "booking_ref"),
			ClientID:        metaString(ch.Metadata, "client_id"),
			TherapistID:     metaString(ch.Metadata, "therapist_id"),
			ScheduledAt:     metaString(ch.Metadata, "scheduled_at"),
			DurationMinutes: metaInt(ch.Metadata, "duration_minutes"),
		},
		TherapistAccount: metaString(ch.Metadata, "therapist_account"),
	}
	if ch.FailureCode != nil {
		payload.FailureCode = *ch.FailureCode
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return events.Notification{}, false, err
	}
	return events.Notification{EventID: eventID, Type: typ, Payload: raw}, true, nil
}

func metaString(m map[string]any, k string) string {
	switch v := m[k].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func metaInt(m map[string]any, k string) int {
	switch v := m[k].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
