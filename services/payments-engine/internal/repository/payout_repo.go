package repository

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// InsertPayoutIfAbsent creates the payout unless a row with the same id
// already exists. It reports whether this call created it.
func (s *Store) InsertPayoutIfAbsent(ctx context.Context, p *domain.Payout) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) PayoutByID(ctx context.Context, id string) (*domain.Payout, error) {
	var p domain.Payout
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) PayoutByPaymentID(ctx context.Context, paymentID string) (*domain.Payout, error) {
	var p domain.Payout
	if err := s.db.WithContext(ctx).First(&p, "payment_id = ?", paymentID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ClaimPayout takes the transfer lease. Claimable rows are pending ones,
// non-permanent failures whose retry time has come, and processing rows whose
// lease ran out. Exactly one concurrent caller gets true.
func (s *Store) ClaimPayout(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	until := now.Add(lease)
	res := s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("id = ?", id).
		Where(s.db.
			Where("status = ?", domain.PayoutPending).
			Or("status = ? AND permanent = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", domain.PayoutFailed, false, now).
			Or("status = ? AND (locked_until IS NULL OR locked_until <= ?)", domain.PayoutProcessing, now)).
		Updates(map[string]any{
			"status":       domain.PayoutProcessing,
			"locked_until": until,
		})
	return res.RowsAffected == 1, res.Error
}

// CompletePayout must run in the same transaction as MarkPayoutCompleted.
func (s *Store) CompletePayout(ctx context.Context, id, transferID string, trail domain.AuditTrail) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("id = ? AND status = ?", id, domain.PayoutProcessing).
		Updates(map[string]any{
			"status":        domain.PayoutCompleted,
			"transfer_id":   transferID,
			"locked_until":  nil,
			"next_retry_at": nil,
			"last_error":    "",
			"audit_trail":   trail,
		})
	return res.RowsAffected == 1, res.Error
}

type PayoutFailure struct {
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string
	Permanent   bool
	Trail       domain.AuditTrail
}

func (s *Store) FailPayout(ctx context.Context, id string, f PayoutFailure) error {
	return s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("id = ? AND status = ?", id, domain.PayoutProcessing).
		Updates(map[string]any{
			"status":        domain.PayoutFailed,
			"retry_count":   f.RetryCount,
			"next_retry_at": f.NextRetryAt,
			"locked_until":  nil,
			"last_error":    f.LastError,
			"permanent":     f.Permanent,
			"audit_trail":   f.Trail,
		}).Error
}

// SetPayoutAudit overwrites the audit trail without touching status.
func (s *Store) SetPayoutAudit(ctx context.Context, id string, trail domain.AuditTrail) error {
	return s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("id = ?", id).
		Update("audit_trail", trail).Error
}

// ResetPayoutForRetry lets an operator rerun a failed payout immediately,
// including one that failed permanently.
func (s *Store) ResetPayoutForRetry(ctx context.Context, id string, trail domain.AuditTrail) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("id = ? AND status = ?", id, domain.PayoutFailed).
		Updates(map[string]any{
			"permanent":     false,
			"next_retry_at": nil,
			"audit_trail":   trail,
		})
	return res.RowsAffected == 1, res.Error
}

// DuePayouts lists payouts the scheduler should retry now.
func (s *Store) DuePayouts(ctx context.Context, now time.Time, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	err := s.db.WithContext(ctx).
		Where("status = ? AND permanent = ? AND next_retry_at <= ?", domain.PayoutFailed, false, now).
		Or("status = ? AND locked_until <= ?", domain.PayoutProcessing, now).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// BlockPayout parks a payout that failed its safety checks. It is not retried
// until an operator resets it.
func (s *Store) BlockPayout(ctx context.Context, id, reason string, trail domain.AuditTrail) error {
	return s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("id = ? AND status IN ?", id, []string{domain.PayoutPending, domain.PayoutFailed}).
		Updates(map[string]any{
			"status":        domain.PayoutFailed,
			"permanent":     true,
			"next_retry_at": nil,
			"last_error":    reason,
			"audit_trail":   trail,
		}).Error
}
