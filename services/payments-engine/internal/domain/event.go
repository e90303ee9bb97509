package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Ledger statuses.
const (
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
)

// IncomingEvent is the ledger row for one gateway notification, keyed by the
// gateway's event id.
type IncomingEvent struct {
	ID            string `gorm:"primaryKey"`
	Type          string `gorm:"index"`
	Payload       datatypes.JSON
	Status        string `gorm:"index"` // processing|completed|failed
	Attempts      int
	LastAttemptAt time.Time
	ResultRef     string
	LastError     string
	// Permanent marks a structural failure (bad payload, conflict) that a
	// redelivery will not fix.
	Permanent bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
