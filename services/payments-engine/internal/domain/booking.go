package domain

import "time"

// Booking statuses.
const (
	BookingConfirmed = "confirmed"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

// Booking payment statuses.
const (
	PayStatusPaid              = "paid"
	PayStatusFailed            = "failed"
	PayStatusRefunded          = "refunded"
	PayStatusPartiallyRefunded = "partially_refunded"
	PayStatusNotRefunded       = "not_refunded"
)

type Booking struct {
	ID              string    `gorm:"primaryKey"`
	ClientID        string    `gorm:"index"`
	TherapistID     string    `gorm:"index"`
	ScheduledAt     time.Time `gorm:"index"`
	DurationMinutes int
	EndsAt          time.Time `gorm:"index"`
	Status          string    `gorm:"index"` // confirmed|completed|cancelled
	PaymentStatus   string
	PaymentID       string
	MeetingURL      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Payment statuses.
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// Payment is one gateway charge against a booking. Amounts are minor units.
type Payment struct {
	ID                  string `gorm:"primaryKey"`
	BookingID           string `gorm:"index"`
	Amount              int64
	Currency            string
	TransactionID       string `gorm:"uniqueIndex"`
	Status              string // succeeded|failed
	GatewayFee          int64
	TherapistShare      int64
	PlatformShare       int64
	TherapistAccountRef string
	PayoutCompleted     bool
	PayoutTransferID    string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TherapistShare is pct percent of amount, rounded half up, in minor units.
func TherapistShare(amount int64, pct int) int64 {
	return (amount*int64(pct) + 50) / 100
}
