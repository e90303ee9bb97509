package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Outbox statuses.
const (
	OutboxPending    = "pending"
	OutboxInProgress = "in_progress"
	OutboxCompleted  = "completed"
	OutboxFailed     = "failed"
)

// Outbox operation types.
const (
	OpCreateCalendarEvent = "create_calendar_event"
	OpSendNotification    = "send_notification"
	OpProcessPayout       = "process_payout"
	OpIssueRefund         = "issue_refund"
)

// OutboxItem is one unit of downstream work. It is written in the same
// transaction as the state change that caused it.
type OutboxItem struct {
	ID          string `gorm:"primaryKey"`
	Type        string `gorm:"index"`
	AggregateID string `gorm:"index"`
	Payload     datatypes.JSON
	Status      string `gorm:"index"` // pending|in_progress|completed|failed
	RetryCount  int
	MaxRetries  int
	LockOwner   string
	LockExpiry  *time.Time `gorm:"index"`
	NextRetryAt *time.Time `gorm:"index"`
	LastError   string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CalendarEventPayload struct {
	BookingID string `json:"booking_id"`
}

type NotificationPayload struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

type PayoutPayload struct {
	BookingID  string `json:"booking_id"`
	PaymentID  string `json:"payment_id"`
	AccountRef string `json:"account_ref"`
}

type RefundPayload struct {
	RefundID string `json:"refund_id"`
}

// NewOutboxItem builds a pending item with payload encoded as JSON.
func NewOutboxItem(typ, aggregateID string, payload any, maxRetries int) (OutboxItem, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return OutboxItem{}, err
	}
	return OutboxItem{
		ID:          uuid.NewString(),
		Type:        typ,
		AggregateID: aggregateID,
		Payload:     datatypes.JSON(b),
		Status:      OutboxPending,
		MaxRetries:  maxRetries,
	}, nil
}

// Notification templates.
const (
	TplBookingConfirmed = "booking_confirmed"
	TplSessionLink      = "session_link"
	TplPaymentFailed    = "payment_failed"
	TplBookingCancelled = "booking_cancelled"
)
