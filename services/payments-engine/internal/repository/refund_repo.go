package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// CreateRefund fails with ErrDuplicate when the payment already has one.
func (s *Store) CreateRefund(ctx context.Context, r *domain.Refund) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) RefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	var r domain.Refund
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) RefundByPaymentID(ctx context.Context, paymentID string) (*domain.Refund, error) {
	var r domain.Refund
	if err := s.db.WithContext(ctx).First(&r, "payment_id = ?", paymentID).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) MarkRefundProcessed(ctx context.Context, id, gatewayRefundID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Refund{}).
		Where("id = ? AND status = ?", id, domain.RefundPending).
		Updates(map[string]any{"status": domain.RefundProcessed, "gateway_refund_id": gatewayRefundID})
	return res.RowsAffected == 1, res.Error
}
