package processor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

const legacyNewBooking = `{
  "id": "chrg_1", "amount": 8000, "currency": "GBP", "fee": 200, "status": "successful",
  "metadata": {"clientId": "c1", "therapistId": "t1", "sessionDate": "2026-03-05",
               "sessionTime": "14:30", "duration": "50", "therapistAccount": "recp_t1"}
}`

const currentNewBooking = `{
  "version": 2,
  "charge": {"id": "chrg_1", "amount": 8000, "currency": "gbp", "fee": 200},
  "booking": {"client_id": "c1", "therapist_id": "t1", "scheduled_at": "2026-03-05T14:30:00Z", "duration_minutes": 50},
  "therapist_account": "recp_t1"
}`

func TestNormalize_BothShapesAgree(t *testing.T) {
	legacy, err := Normalize(json.RawMessage(legacyNewBooking))
	require.NoError(t, err)
	current, err := Normalize(json.RawMessage(currentNewBooking))
	require.NoError(t, err)

	assert.Equal(t, current, legacy)
	assert.Equal(t, ChargeFields{
		ChargeID:         "chrg_1",
		Amount:           8000,
		Currency:         "gbp",
		Fee:              200,
		ClientID:         "c1",
		TherapistID:      "t1",
		ScheduledAt:      time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
		DurationMinutes:  50,
		TherapistAccount: "recp_t1",
	}, current)
}

func TestNormalize_Rejects(t *testing.T) {
	cases := map[string]string{
		"not an object": `[1,2]`,
		"bad date":      `{"id":"c","amount":1,"metadata":{"sessionDate":"05/03/2026","sessionTime":"14:30"}}`,
		"bad duration":  `{"id":"c","amount":1,"metadata":{"duration":"fifty"}}`,
		"bad rfc3339":   `{"version":2,"charge":{"id":"c"},"booking":{"scheduled_at":"tomorrow"}}`,
		"no charge":     `{"version":2}`,
	}
	for name, raw := range cases {
		_, err := Normalize(json.RawMessage(raw))
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}
}

func TestClassify(t *testing.T) {
	full, err := Normalize(json.RawMessage(currentNewBooking))
	require.NoError(t, err)

	a, err := Classify(events.TypePaymentSucceeded, full)
	require.NoError(t, err)
	assert.IsType(t, NewBooking{}, a)

	withRef := full
	withRef.BookingRef = "b-1"
	a, err = Classify(events.TypePaymentSucceeded, withRef)
	require.NoError(t, err)
	assert.Equal(t, UpdateExisting{Ref: "b-1", Fields: withRef}, a)

	a, err = Classify(events.TypePaymentFailed, ChargeFields{ChargeID: "chrg_2"})
	require.NoError(t, err)
	assert.IsType(t, Ignore{}, a)

	partial := full
	partial.TherapistID = ""
	partial.DurationMinutes = 0
	_, err = Classify(events.TypePaymentSucceeded, partial)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "therapist_id, duration")

	_, err = Classify(events.TypePaymentSucceeded, ChargeFields{BookingRef: "b-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
