package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// LedgerDecision tells the processor what to do with a delivery.
type LedgerDecision int

const (
	// LedgerProceed: this caller owns the event and must run it.
	LedgerProceed LedgerDecision = iota
	// LedgerCompleted: done before, return the stored result.
	LedgerCompleted
	// LedgerInFlight: another delivery is running it right now.
	LedgerInFlight
	// LedgerRejected: failed permanently before, redelivery will not help.
	LedgerRejected
)

// BeginEvent inserts the ledger row or takes over an existing one. Failed
// rows and processing rows idle for longer than staleAfter move back to
// processing through a compare-and-set, so only one delivery wins.
func (s *Store) BeginEvent(ctx context.Context, ev *domain.IncomingEvent, now time.Time, staleAfter time.Duration) (LedgerDecision, *domain.IncomingEvent, error) {
	ev.Status = domain.EventProcessing
	ev.Attempts = 1
	ev.LastAttemptAt = now
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil && !isUniqueViolation(res.Error) {
		return 0, nil, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return LedgerProceed, ev, nil
	}

	cur, err := s.EventByID(ctx, ev.ID)
	if err != nil {
		return 0, nil, err
	}
	switch cur.Status {
	case domain.EventCompleted:
		return LedgerCompleted, cur, nil
	case domain.EventFailed:
		if cur.Permanent {
			return LedgerRejected, cur, nil
		}
		ok, err := s.retakeEvent(ctx, cur.ID, now, "status = ?", domain.EventFailed)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return LedgerInFlight, cur, nil
		}
	default:
		if now.Sub(cur.LastAttemptAt) < staleAfter {
			return LedgerInFlight, cur, nil
		}
		ok, err := s.retakeEvent(ctx, cur.ID, now, "status = ? AND last_attempt_at <= ?", domain.EventProcessing, now.Add(-staleAfter))
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return LedgerInFlight, cur, nil
		}
	}
	cur, err = s.EventByID(ctx, ev.ID)
	if err != nil {
		return 0, nil, err
	}
	return LedgerProceed, cur, nil
}

func (s *Store) retakeEvent(ctx context.Context, id string, now time.Time, cond string, args ...any) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.IncomingEvent{}).
		Where("id = ?", id).
		Where(cond, args...).
		Updates(map[string]any{
			"status":          domain.EventProcessing,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// CompleteEvent is meant to run inside the transaction that applied the
// event's business effects.
func (s *Store) CompleteEvent(ctx context.Context, id, resultRef string) error {
	res := s.db.WithContext(ctx).Model(&domain.IncomingEvent{}).
		Where("id = ? AND status = ?", id, domain.EventProcessing).
		Updates(map[string]any{
			"status":     domain.EventCompleted,
			"result_ref": resultRef,
			"last_error": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrLeaseHeld
	}
	return nil
}

func (s *Store) FailEvent(ctx context.Context, id, reason string, permanent bool) error {
	return s.db.WithContext(ctx).Model(&domain.IncomingEvent{}).
		Where("id = ? AND status = ?", id, domain.EventProcessing).
		Updates(map[string]any{
			"status":     domain.EventFailed,
			"last_error": reason,
			"permanent":  permanent,
		}).Error
}

func (s *Store) EventByID(ctx context.Context, id string) (*domain.IncomingEvent, error) {
	var ev domain.IncomingEvent
	if err := s.db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}
