package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/services/payments-engine/internal/calendar"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

type RoomCreator interface {
	CreateRoom(ctx context.Context, room calendar.Room) (string, error)
}

type Notifier interface {
	Send(ctx context.Context, msg events.SendNotification) error
}

type PayoutRunner interface {
	ProcessPayout(ctx context.Context, bookingID, paymentID, accountRef string) (*domain.Payout, error)
}

type RefundIssuer interface {
	Issue(ctx context.Context, refundID string) (*domain.Refund, error)
}

// Handlers binds each outbox operation type to its collaborator.
type Handlers struct {
	Store      *repository.Store
	Calendar   RoomCreator
	Notifier   Notifier
	Payouts    PayoutRunner
	Refunds    RefundIssuer
	MaxRetries int
	Log        *slog.Logger
}

func (h *Handlers) Map() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		domain.OpCreateCalendarEvent: h.createCalendarEvent,
		domain.OpSendNotification:    h.sendNotification,
		domain.OpProcessPayout:       h.processPayout,
		domain.OpIssueRefund:         h.issueRefund,
	}
}

func decode[T any](it domain.OutboxItem) (T, error) {
	v, err := events.MustUnmarshal[T]([]byte(it.Payload))
	if err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return v, nil
}

func (h *Handlers) createCalendarEvent(ctx context.Context, it domain.OutboxItem) error {
	p, err := decode[domain.CalendarEventPayload](it)
	if err != nil {
		return err
	}
	b, err := h.Store.BookingByID(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if b.Status == domain.BookingCancelled || b.MeetingURL != "" {
		return nil
	}
	url, err := h.Calendar.CreateRoom(ctx, calendar.Room{
		BookingID:    b.ID,
		StartsAt:     b.ScheduledAt,
		EndsAt:       b.EndsAt,
		Participants: []string{b.ClientID, b.TherapistID},
	})
	if err != nil {
		return err
	}

	return h.Store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.SetMeetingURL(ctx, b.ID, url); err != nil {
			return err
		}
		var items []domain.OutboxItem
		for _, to := range []string{b.ClientID, b.TherapistID} {
			item, err := domain.NewOutboxItem(domain.OpSendNotification, b.ID, domain.NotificationPayload{
				To:       to,
				Template: domain.TplSessionLink,
				Data:     map[string]string{"booking_id": b.ID, "meeting_url": url},
			}, h.MaxRetries)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return tx.EnqueueOutbox(ctx, items...)
	})
}

func (h *Handlers) sendNotification(ctx context.Context, it domain.OutboxItem) error {
	p, err := decode[domain.NotificationPayload](it)
	if err != nil {
		return err
	}
	return h.Notifier.Send(ctx, events.SendNotification{ID: it.ID, To: p.To, Template: p.Template, Data: p.Data})
}

// processPayout never fails the item once a payout row exists: from then on
// the payout scheduler owns retries. Only errors hit before the row was
// written (gateway lookups, database) are retried here.
func (h *Handlers) processPayout(ctx context.Context, it domain.OutboxItem) error {
	p, err := decode[domain.PayoutPayload](it)
	if err != nil {
		return err
	}
	po, err := h.Payouts.ProcessPayout(ctx, p.BookingID, p.PaymentID, p.AccountRef)
	switch {
	case err == nil:
		return nil
	case po != nil, domain.Permanent(err), errors.Is(err, domain.ErrLeaseHeld):
		h.Log.WarnContext(ctx, "payout not completed", "operation", domain.OpProcessPayout,
			"booking_id", p.BookingID, "payment_id", p.PaymentID, "error", err)
		return nil
	}
	return err
}

func (h *Handlers) issueRefund(ctx context.Context, it domain.OutboxItem) error {
	p, err := decode[domain.RefundPayload](it)
	if err != nil {
		return err
	}
	_, err = h.Refunds.Issue(ctx, p.RefundID)
	return err
}
