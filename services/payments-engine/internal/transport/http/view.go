package httpx

import (
	"time"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

type bookingView struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	TherapistID     string    `json:"therapist_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	PaymentStatus   string    `json:"payment_status"`
	PaymentID       string    `json:"payment_id,omitempty"`
	MeetingURL      string    `json:"meeting_url,omitempty"`
}

func toBookingView(b *domain.Booking) bookingView {
	return bookingView{
		ID:              b.ID,
		ClientID:        b.ClientID,
		TherapistID:     b.TherapistID,
		ScheduledAt:     b.ScheduledAt.UTC(),
		DurationMinutes: b.DurationMinutes,
		Status:          b.Status,
		PaymentStatus:   b.PaymentStatus,
		PaymentID:       b.PaymentID,
		MeetingURL:      b.MeetingURL,
	}
}

type payoutView struct {
	ID          string              `json:"id"`
	BookingID   string              `json:"booking_id"`
	PaymentID   string              `json:"payment_id"`
	Amount      int64               `json:"amount"`
	Currency    string              `json:"currency"`
	Status      string              `json:"status"`
	TransferID  string              `json:"transfer_id,omitempty"`
	RetryCount  int                 `json:"retry_count"`
	NextRetryAt *time.Time          `json:"next_retry_at,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	Permanent   bool                `json:"permanent,omitempty"`
	AuditTrail  []domain.AuditEntry `json:"audit_trail"`
}

func toPayoutView(p *domain.Payout) payoutView {
	return payoutView{
		ID:          p.ID,
		BookingID:   p.BookingID,
		PaymentID:   p.PaymentID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		TransferID:  p.TransferID,
		RetryCount:  p.RetryCount,
		NextRetryAt: p.NextRetryAt,
		LastError:   p.LastError,
		Permanent:   p.Permanent,
		AuditTrail:  p.AuditTrail,
	}
}

type refundView struct {
	ID                   string  `json:"id"`
	BookingID            string  `json:"booking_id"`
	PaymentID            string  `json:"payment_id"`
	OriginalAmount       int64   `json:"original_amount"`
	RefundAmount         int64   `json:"refund_amount"`
	ProviderCompensation int64   `json:"provider_compensation"`
	FeeRetained          int64   `json:"fee_retained"`
	Currency             string  `json:"currency"`
	RefundPercentage     int     `json:"refund_percentage"`
	HoursBeforeSession   float64 `json:"hours_before_session"`
	ReasonCode           string  `json:"reason_code"`
	Initiator            string  `json:"initiator"`
	Status               string  `json:"status"`
}

func toRefundView(r *domain.Refund) refundView {
	return refundView{
		ID:                   r.ID,
		BookingID:            r.BookingID,
		PaymentID:            r.PaymentID,
		OriginalAmount:       r.OriginalAmount,
		RefundAmount:         r.RefundAmount,
		ProviderCompensation: r.ProviderCompensation,
		FeeRetained:          r.FeeRetained,
		Currency:             r.Currency,
		RefundPercentage:     r.RefundPercentage,
		HoursBeforeSession:   r.HoursBeforeSession,
		ReasonCode:           r.ReasonCode,
		Initiator:            r.Initiator,
		Status:               r.Status,
	}
}

type outboxView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	AggregateID string `json:"aggregate_id"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	LastError   string `json:"last_error,omitempty"`
}

func toOutboxView(it *domain.OutboxItem) outboxView {
	return outboxView{
		ID:          it.ID,
		Type:        it.Type,
		AggregateID: it.AggregateID,
		Status:      it.Status,
		RetryCount:  it.RetryCount,
		LastError:   it.LastError,
	}
}
