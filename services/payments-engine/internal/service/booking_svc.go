package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

type BookingSvc struct {
	store  *repository.Store
	policy config.Policy
	log    *slog.Logger
}

func NewBookingSvc(store *repository.Store, policy config.Policy, log *slog.Logger) *BookingSvc {
	return &BookingSvc{store: store, policy: policy, log: log.With("module", "booking")}
}

// Complete marks a confirmed session as held and queues the therapist payout
// in the same transaction. Completing an already completed booking is a no-op.
func (s *BookingSvc) Complete(ctx context.Context, id string) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		moved, err := tx.TransitionBooking(ctx, id, domain.BookingConfirmed, domain.BookingCompleted, nil)
		if err != nil {
			return err
		}
		b, err := tx.BookingByID(ctx, id)
		if err != nil {
			return err
		}
		out = b
		if !moved {
			if b.Status == domain.BookingCompleted {
				return nil
			}
			return fmt.Errorf("%w: booking %s is %s", domain.ErrConflict, id, b.Status)
		}

		pay, err := tx.PaymentForBooking(ctx, id)
		if err != nil {
			return err
		}
		if pay.Status != domain.PaymentSucceeded {
			return nil
		}
		item, err := domain.NewOutboxItem(domain.OpProcessPayout, id, domain.PayoutPayload{
			BookingID:  id,
			PaymentID:  pay.ID,
			AccountRef: pay.TherapistAccountRef,
		}, s.policy.OutboxMaxRetries)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "session completed", "operation", "complete", "outcome", "success", "booking_id", id)
	return out, nil
}

func (s *BookingSvc) Get(ctx context.Context, id string) (*domain.Booking, error) {
	return s.store.BookingByID(ctx, id)
}

func (s *BookingSvc) List(ctx context.Context, page, size int, clientID, therapistID string) ([]domain.Booking, int64, error) {
	return s.store.ListBookings(ctx, page, size, clientID, therapistID)
}
