package payout

import (
	"context"
	"log/slog"
	"time"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

const schedulerBatch = 50

// Scheduler re-runs payouts whose retry time has come and payouts whose
// lease expired mid-transfer.
type Scheduler struct {
	store    *repository.Store
	orch     *Orchestrator
	interval time.Duration
	log      *slog.Logger
}

func NewScheduler(store *repository.Store, orch *Orchestrator, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{store: store, orch: orch, interval: interval, log: log.With("module", "payout_scheduler")}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("payout sweep failed", "operation", "run_once", "error", err)
			}
		}
	}
}

// RunOnce retries every due payout and reports how many completed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.store.DuePayouts(ctx, s.orch.now(), schedulerBatch)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, po := range due {
		got, err := s.orch.ProcessPayout(ctx, po.BookingID, po.PaymentID, po.AccountRef)
		if err != nil {
			s.log.Warn("payout retry failed", "operation", "run_once", "payout_id", po.ID, "error", err)
			continue
		}
		if got != nil && got.Status == domain.PayoutCompleted {
			completed++
		}
	}
	return completed, nil
}
