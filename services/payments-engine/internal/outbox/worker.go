// Package outbox drains the outbox table: claim a batch, run each item's
// handler, record the outcome.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/you/therapy-booking/pkg/backoff"
	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/pkg/obs"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

type HandlerFunc func(ctx context.Context, item domain.OutboxItem) error

type Worker struct {
	id        string
	store     *repository.Store
	handlers  map[string]HandlerFunc
	batchSize int
	lockFor   time.Duration
	interval  time.Duration
	backoff   backoff.Policy
	log       *slog.Logger
	now       func() time.Time
}

type Stats struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
}

func NewWorker(id string, store *repository.Store, handlers map[string]HandlerFunc, policy config.Policy, log *slog.Logger) *Worker {
	return &Worker{
		id:        id,
		store:     store,
		handlers:  handlers,
		batchSize: policy.OutboxBatchSize,
		lockFor:   policy.OutboxLockDuration,
		interval:  policy.OutboxPollInterval,
		backoff:   backoff.Policy{Base: policy.BackoffBase, Multiplier: policy.BackoffMultiplier, Max: policy.BackoffMax},
		log:       log.With("module", "outbox", "worker_id", id),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.log.ErrorContext(ctx, "outbox iteration failed", "operation", "process_once", "outcome", "failure", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and runs it to completion.
func (w *Worker) ProcessOnce(ctx context.Context) (Stats, error) {
	var st Stats
	items, err := w.store.ClaimOutboxBatch(ctx, w.id, w.batchSize, w.lockFor, w.now())
	if err != nil {
		return st, err
	}
	st.Claimed = len(items)
	for _, it := range items {
		switch w.run(ctx, it) {
		case domain.OutboxCompleted:
			st.Completed++
		case domain.OutboxPending:
			st.Retried++
		case domain.OutboxFailed:
			st.Failed++
		}
	}
	if st.Claimed > 0 {
		w.log.InfoContext(ctx, "outbox batch processed", "operation", "process_once", "outcome", "success",
			"batch_size", st.Claimed, "completed_count", st.Completed, "retried_count", st.Retried, "failed_count", st.Failed)
	}
	return st, nil
}

// run executes one item and returns the status it was left in ("" when the
// lock was lost before the outcome could be recorded).
func (w *Worker) run(ctx context.Context, it domain.OutboxItem) string {
	ctx, span := obs.Tracer().Start(ctx, "outbox."+it.Type)
	defer span.End()
	span.SetAttributes(attribute.String("outbox.id", it.ID), attribute.String("outbox.aggregate_id", it.AggregateID))

	h, ok := w.handlers[it.Type]
	var err error
	if !ok {
		err = fmt.Errorf("%w: no handler for %q", domain.ErrValidation, it.Type)
	} else {
		err = h(ctx, it)
	}

	now := w.now()
	if err == nil {
		ok, cerr := w.store.CompleteOutbox(ctx, it.ID, w.id, now)
		if cerr != nil || !ok {
			w.log.WarnContext(ctx, "outbox completion not recorded", "operation", "complete", "outbox_id", it.ID, "error", cerr)
			return ""
		}
		obs.OutboxItemsTotal.WithLabelValues(it.Type, "completed").Inc()
		return domain.OutboxCompleted
	}

	attempts := it.RetryCount + 1
	var next *time.Time
	if attempts < it.MaxRetries && !domain.Permanent(err) {
		t := w.backoff.Next(now, it.RetryCount)
		next = &t
	}
	ok, rerr := w.store.ReleaseOutbox(ctx, it.ID, w.id, attempts, next, err.Error())
	if rerr != nil || !ok {
		w.log.WarnContext(ctx, "outbox failure not recorded", "operation", "release", "outbox_id", it.ID, "error", rerr)
		return ""
	}
	if next == nil {
		obs.OutboxItemsTotal.WithLabelValues(it.Type, "failed").Inc()
		w.log.ErrorContext(ctx, "outbox item failed permanently", "operation", it.Type, "outcome", "failure",
			"outbox_id", it.ID, "aggregate_id", it.AggregateID, "retry_count", attempts, "error", err)
		return domain.OutboxFailed
	}
	obs.OutboxItemsTotal.WithLabelValues(it.Type, "retry").Inc()
	w.log.WarnContext(ctx, "outbox item failed; retry scheduled", "operation", it.Type, "outcome", "failure",
		"outbox_id", it.ID, "retry_count", attempts, "next_retry_at", next, "error", err)
	return domain.OutboxPending
}
