package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// ChargeFields is the one shape the rest of the processor sees, whatever the
// gateway sent.
type ChargeFields struct {
	ChargeID         string
	Amount           int64
	Currency         string
	Fee              int64
	BookingRef       string
	ClientID         string
	TherapistID      string
	ScheduledAt      time.Time
	DurationMinutes  int
	TherapistAccount string
}

// legacyCharge is the flat charge object with string metadata.
type legacyCharge struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Fee      int64             `json:"fee"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type currentCharge struct {
	Version int `json:"version"`
	Charge  *struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Fee      int64  `json:"fee"`
	} `json:"charge"`
	Booking *struct {
		Ref             string `json:"ref"`
		ClientID        string `json:"client_id"`
		TherapistID     string `json:"therapist_id"`
		ScheduledAt     string `json:"scheduled_at"`
		DurationMinutes int    `json:"duration_minutes"`
	} `json:"booking"`
	TherapistAccount string `json:"therapist_account"`
}

// Normalize decodes either payload shape. Errors wrap domain.ErrValidation.
func Normalize(raw json.RawMessage) (ChargeFields, error) {
	var probe struct {
		Version int             `json:"version"`
		Charge  json.RawMessage `json:"charge"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ChargeFields{}, fmt.Errorf("%w: payload is not a JSON object: %v", domain.ErrValidation, err)
	}
	if probe.Version >= 2 || len(probe.Charge) > 0 {
		return normalizeCurrent(raw)
	}
	return normalizeLegacy(raw)
}

func normalizeCurrent(raw json.RawMessage) (ChargeFields, error) {
	var c currentCharge
	if err := json.Unmarshal(raw, &c); err != nil {
		return ChargeFields{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if c.Charge == nil {
		return ChargeFields{}, fmt.Errorf("%w: charge object missing", domain.ErrValidation)
	}
	f := ChargeFields{
		ChargeID:         c.Charge.ID,
		Amount:           c.Charge.Amount,
		Currency:         strings.ToLower(c.Charge.Currency),
		Fee:              c.Charge.Fee,
		TherapistAccount: c.TherapistAccount,
	}
	if b := c.Booking; b != nil {
		f.BookingRef = b.Ref
		f.ClientID = b.ClientID
		f.TherapistID = b.TherapistID
		f.DurationMinutes = b.DurationMinutes
		if b.ScheduledAt != "" {
			t, err := time.Parse(time.RFC3339, b.ScheduledAt)
			if err != nil {
				return ChargeFields{}, fmt.Errorf("%w: scheduled_at: %v", domain.ErrValidation, err)
			}
			f.ScheduledAt = t.UTC()
		}
	}
	return f, nil
}

func normalizeLegacy(raw json.RawMessage) (ChargeFields, error) {
	var c legacyCharge
	if err := json.Unmarshal(raw, &c); err != nil {
		return ChargeFields{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	m := c.Metadata
	f := ChargeFields{
		ChargeID:         c.ID,
		Amount:           c.Amount,
		Currency:         strings.ToLower(c.Currency),
		Fee:              c.Fee,
		BookingRef:       m["bookingId"],
		ClientID:         m["clientId"],
		TherapistID:      m["therapistId"],
		TherapistAccount: m["therapistAccount"],
	}
	if d := m["duration"]; d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return ChargeFields{}, fmt.Errorf("%w: duration %q", domain.ErrValidation, d)
		}
		f.DurationMinutes = n
	}
	date, clock := m["sessionDate"], m["sessionTime"]
	if date != "" || clock != "" {
		t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.UTC)
		if err != nil {
			return ChargeFields{}, fmt.Errorf("%w: session date/time %q %q", domain.ErrValidation, date, clock)
		}
		f.ScheduledAt = t
	}
	return f, nil
}
