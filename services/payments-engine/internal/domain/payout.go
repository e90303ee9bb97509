package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Payout statuses.
const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

type Payout struct {
	ID             string `gorm:"primaryKey"`
	IdempotencyKey string `gorm:"uniqueIndex"`
	BookingID      string `gorm:"index"`
	PaymentID      string `gorm:"uniqueIndex"`
	AccountRef     string
	Amount         int64
	Currency       string
	Status         string `gorm:"index"` // pending|processing|completed|failed
	TransferID     string
	RetryCount     int
	NextRetryAt    *time.Time `gorm:"index"`
	LockedUntil    *time.Time
	LastError      string
	// Permanent failures are not picked up by the retry scheduler.
	Permanent  bool
	AuditTrail AuditTrail
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type AuditEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
}

// AuditTrail is stored as a JSON array, oldest first.
type AuditTrail = datatypes.JSONSlice[AuditEntry]

// AppendAudit returns a copy of trail with e added; trail is not modified.
func AppendAudit(trail AuditTrail, e AuditEntry) AuditTrail {
	out := make(AuditTrail, len(trail), len(trail)+1)
	copy(out, trail)
	return append(out, e)
}
