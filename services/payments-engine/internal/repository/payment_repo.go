package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// ErrDuplicate is returned when a unique key (transaction id, payment id) is
// already stored.
var ErrDuplicate = errors.New("duplicate")

func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) PaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	var p domain.Payment
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) PaymentByTransactionID(ctx context.Context, txID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := s.db.WithContext(ctx).First(&p, "transaction_id = ?", txID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// PaymentForBooking returns the latest payment recorded against a booking.
func (s *Store) PaymentForBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("created_at DESC").First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// MarkPayoutCompleted flips payout_completed once. It reports false when the
// payment was already marked, which callers must treat as a safety problem.
func (s *Store) MarkPayoutCompleted(ctx context.Context, paymentID, transferID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ? AND payout_completed = ?", paymentID, false).
		Updates(map[string]any{"payout_completed": true, "payout_transfer_id": transferID})
	return res.RowsAffected == 1, res.Error
}
