package domain

import "time"

// Refund statuses.
const (
	RefundPending   = "pending"
	RefundProcessed = "processed"
)

// Cancellation initiators.
const (
	InitiatorClient    = "client"
	InitiatorTherapist = "therapist"
	InitiatorPlatform  = "platform"
)

func KnownInitiator(s string) bool {
	switch s {
	case InitiatorClient, InitiatorTherapist, InitiatorPlatform:
		return true
	}
	return false
}

type Refund struct {
	ID                   string `gorm:"primaryKey"`
	PaymentID            string `gorm:"uniqueIndex"`
	BookingID            string `gorm:"index"`
	OriginalAmount       int64
	RefundAmount         int64
	ProviderCompensation int64
	FeeRetained          int64
	Currency             string
	RefundPercentage     int
	HoursBeforeSession   float64
	ReasonCode           string
	Initiator            string
	Reason               string
	Status               string `gorm:"index"` // pending|processed
	GatewayRefundID      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
