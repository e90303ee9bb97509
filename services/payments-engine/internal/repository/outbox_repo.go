package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

const expiredLockError = "lock expired before completion"

func (s *Store) EnqueueOutbox(ctx context.Context, items ...domain.OutboxItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

// ClaimOutboxBatch hands workerID up to limit items. Candidates are pending
// items that are due and in-progress items whose lock expired; each one is
// taken with a conditional update so concurrent workers never share an item.
// Taking over an expired lock counts as a failed attempt, and an item that
// has used up its retries is failed instead of claimed.
func (s *Store) ClaimOutboxBatch(ctx context.Context, workerID string, limit int, lockFor time.Duration, now time.Time) ([]domain.OutboxItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []domain.OutboxItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.OutboxItem{}).
			Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", domain.OutboxPending, now).
			Or("status = ? AND lock_expiry <= ?", domain.OutboxInProgress, now).
			Order("created_at ASC").
			Limit(limit)
		if s.postgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var candidates []domain.OutboxItem
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}

		expiry := now.Add(lockFor)
		for _, it := range candidates {
			var res *gorm.DB
			switch it.Status {
			case domain.OutboxPending:
				res = tx.Model(&domain.OutboxItem{}).
					Where("id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", it.ID, domain.OutboxPending, now).
					Updates(map[string]any{
						"status":      domain.OutboxInProgress,
						"lock_owner":  workerID,
						"lock_expiry": expiry,
					})
			default:
				attempts := it.RetryCount + 1
				if attempts >= it.MaxRetries {
					if err := tx.Model(&domain.OutboxItem{}).
						Where("id = ? AND status = ? AND lock_expiry <= ?", it.ID, domain.OutboxInProgress, now).
						Updates(map[string]any{
							"status":      domain.OutboxFailed,
							"retry_count": attempts,
							"lock_owner":  "",
							"lock_expiry": nil,
							"last_error":  expiredLockError,
						}).Error; err != nil {
						return err
					}
					continue
				}
				res = tx.Model(&domain.OutboxItem{}).
					Where("id = ? AND status = ? AND lock_expiry <= ?", it.ID, domain.OutboxInProgress, now).
					Updates(map[string]any{
						"retry_count": attempts,
						"lock_owner":  workerID,
						"lock_expiry": expiry,
						"last_error":  expiredLockError,
					})
				it.RetryCount = attempts
				it.LastError = expiredLockError
			}
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue // someone else got it
			}
			it.Status = domain.OutboxInProgress
			it.LockOwner = workerID
			exp := expiry
			it.LockExpiry = &exp
			claimed = append(claimed, it)
		}
		return nil
	})
	return claimed, err
}

// CompleteOutbox marks an item done. Only the current lock owner can.
func (s *Store) CompleteOutbox(ctx context.Context, id, owner string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.OutboxItem{}).
		Where("id = ? AND status = ? AND lock_owner = ?", id, domain.OutboxInProgress, owner).
		Updates(map[string]any{
			"status":       domain.OutboxCompleted,
			"lock_owner":   "",
			"lock_expiry":  nil,
			"completed_at": now,
			"last_error":   "",
		})
	return res.RowsAffected == 1, res.Error
}

// ReleaseOutbox records a failed attempt. A nil nextRetryAt fails the item
// for good; otherwise it goes back to pending until nextRetryAt.
func (s *Store) ReleaseOutbox(ctx context.Context, id, owner string, retryCount int, nextRetryAt *time.Time, lastErr string) (bool, error) {
	status := domain.OutboxPending
	if nextRetryAt == nil {
		status = domain.OutboxFailed
	}
	res := s.db.WithContext(ctx).Model(&domain.OutboxItem{}).
		Where("id = ? AND status = ? AND lock_owner = ?", id, domain.OutboxInProgress, owner).
		Updates(map[string]any{
			"status":        status,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"lock_owner":    "",
			"lock_expiry":   nil,
			"last_error":    lastErr,
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) OutboxByID(ctx context.Context, id string) (*domain.OutboxItem, error) {
	var it domain.OutboxItem
	if err := s.db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &it, nil
}

func (s *Store) OutboxForAggregate(ctx context.Context, aggregateID string) ([]domain.OutboxItem, error) {
	var out []domain.OutboxItem
	err := s.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *Store) FailedOutbox(ctx context.Context, limit int) ([]domain.OutboxItem, error) {
	var out []domain.OutboxItem
	err := s.db.WithContext(ctx).Where("status = ?", domain.OutboxFailed).Order("updated_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// RequeueOutbox puts a failed item back in line with a fresh retry budget.
func (s *Store) RequeueOutbox(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.OutboxItem{}).
		Where("id = ? AND status = ?", id, domain.OutboxFailed).
		Updates(map[string]any{
			"status":        domain.OutboxPending,
			"retry_count":   0,
			"next_retry_at": nil,
		})
	return res.RowsAffected == 1, res.Error
}
