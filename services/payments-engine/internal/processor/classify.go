package processor

import (
	"fmt"
	"strings"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// Action is what a notification asks the engine to do.
type Action interface{ action() }

type NewBooking struct{ Fields ChargeFields }

type UpdateExisting struct {
	Ref    string
	Fields ChargeFields
}

// Ignore is a notification with nothing to act on, e.g. a failed charge that
// never became a booking.
type Ignore struct{ Reason string }

func (NewBooking) action()     {}
func (UpdateExisting) action() {}
func (Ignore) action()         {}

// Classify decides from the fields present, never from a flag in the payload.
func Classify(eventType string, f ChargeFields) (Action, error) {
	if f.ChargeID == "" {
		return nil, fmt.Errorf("%w: charge id missing", domain.ErrValidation)
	}
	if f.BookingRef != "" {
		if eventType == events.TypePaymentSucceeded && f.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
		}
		return UpdateExisting{Ref: f.BookingRef, Fields: f}, nil
	}
	if eventType == events.TypePaymentFailed {
		return Ignore{Reason: "failed charge without booking"}, nil
	}

	var missing []string
	if f.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if f.TherapistID == "" {
		missing = append(missing, "therapist_id")
	}
	if f.ScheduledAt.IsZero() {
		missing = append(missing, "scheduled_at")
	}
	if f.DurationMinutes <= 0 {
		missing = append(missing, "duration")
	}
	if f.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if f.Currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: cannot create booking, missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return NewBooking{Fields: f}, nil
}
