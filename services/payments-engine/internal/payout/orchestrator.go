// Package payout moves a therapist's share of a payment to their account,
// at most once per (booking, payment).
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/you/therapy-booking/pkg/backoff"
	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/pkg/gateway"
	"github.com/you/therapy-booking/pkg/obs"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

// Tolerance is the rounding slack allowed between the stored share and the
// recomputed one, in minor units.
const Tolerance int64 = 1

type Orchestrator struct {
	store   *repository.Store
	gw      gateway.Gateway
	policy  config.Policy
	backoff backoff.Policy
	log     *slog.Logger
	now     func() time.Time
}

func NewOrchestrator(store *repository.Store, gw gateway.Gateway, policy config.Policy, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		gw:      gw,
		policy:  policy,
		backoff: backoff.Policy{Base: policy.BackoffBase, Multiplier: policy.BackoffMultiplier, Max: policy.BackoffMax},
		log:     log.With("module", "payout"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock is for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ProcessPayout runs the whole payout for a payment. The returned payout is
// non-nil whenever a payout row exists, even alongside an error; callers
// that see one can leave retries to the Scheduler.
func (o *Orchestrator) ProcessPayout(ctx context.Context, bookingID, paymentID, accountRef string) (*domain.Payout, error) {
	ctx, span := obs.Tracer().Start(ctx, "payout.Process")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("payment.id", paymentID))

	po, err := o.process(ctx, bookingID, paymentID, accountRef)
	outcome := "completed"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLeaseHeld):
		outcome = "in_progress"
	case errors.Is(err, domain.ErrFinancialSafety):
		outcome = "blocked"
	case domain.Permanent(err) || gateway.IsPermanent(err):
		outcome = "rejected"
	default:
		outcome = "retry"
	}
	if err != nil && outcome != "in_progress" {
		span.SetStatus(codes.Error, err.Error())
	}
	obs.PayoutsTotal.WithLabelValues(outcome).Inc()
	return po, err
}

func (o *Orchestrator) process(ctx context.Context, bookingID, paymentID, accountRef string) (*domain.Payout, error) {
	id := ID(bookingID, paymentID)
	existing, err := o.store.PayoutByID(ctx, id)
	switch {
	case err == nil && existing.Status == domain.PayoutCompleted:
		return existing, nil
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		existing = nil
	default:
		return nil, err
	}

	pay, amount, account, err := o.gate(ctx, bookingID, paymentID, accountRef)
	if err != nil {
		// a concurrent caller may have finished the payout since we looked
		if done, rerr := o.store.PayoutByID(ctx, id); rerr == nil && done.Status == domain.PayoutCompleted {
			return done, nil
		}
		o.reject(ctx, existing, bookingID, paymentID, err)
		return existing, err
	}

	now := o.now()
	_, err = o.store.InsertPayoutIfAbsent(ctx, &domain.Payout{
		ID:             id,
		IdempotencyKey: IdempotencyKey(bookingID, paymentID),
		BookingID:      bookingID,
		PaymentID:      paymentID,
		AccountRef:     account,
		Amount:         amount,
		Currency:       pay.Currency,
		Status:         domain.PayoutPending,
		AuditTrail:     domain.AuditTrail{{At: now, Action: "created", Status: domain.PayoutPending}},
	})
	if err != nil {
		return nil, err
	}

	won, err := o.store.ClaimPayout(ctx, id, now, o.policy.PayoutLease)
	if err != nil {
		return nil, err
	}
	po, err := o.store.PayoutByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		if po.Status == domain.PayoutCompleted {
			return po, nil
		}
		return po, fmt.Errorf("payout %s: %w", id, domain.ErrLeaseHeld)
	}
	return o.transfer(ctx, po)
}

// gate runs every check that must pass before money moves. It returns the
// payment, the amount to send and the destination account.
func (o *Orchestrator) gate(ctx context.Context, bookingID, paymentID, accountRef string) (*domain.Payment, int64, string, error) {
	pay, err := o.store.PaymentByID(ctx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, 0, "", fmt.Errorf("%w: payment %s not found", domain.ErrValidation, paymentID)
	}
	if err != nil {
		return nil, 0, "", err
	}
	if pay.BookingID != bookingID {
		return nil, 0, "", fmt.Errorf("%w: payment %s is not for booking %s", domain.ErrValidation, paymentID, bookingID)
	}
	if accountRef == "" {
		accountRef = pay.TherapistAccountRef
	}
	if accountRef == "" {
		return nil, 0, "", fmt.Errorf("%w: no destination account", domain.ErrValidation)
	}

	if pay.Status != domain.PaymentSucceeded {
		return nil, 0, "", fmt.Errorf("%w: payment status is %s", domain.ErrValidation, pay.Status)
	}
	if pay.PayoutCompleted {
		return nil, 0, "", fmt.Errorf("%w: payment %s already paid out", domain.ErrFinancialSafety, pay.ID)
	}
	if pay.PayoutTransferID != "" {
		return nil, 0, "", fmt.Errorf("%w: payment %s already has transfer %s", domain.ErrFinancialSafety, pay.ID, pay.PayoutTransferID)
	}

	amount, err := o.amount(ctx, pay)
	if err != nil {
		return nil, 0, "", err
	}

	ch, err := o.gw.RetrieveCharge(ctx, pay.TransactionID)
	if err != nil {
		return nil, 0, "", fmt.Errorf("retrieve charge %s: %w", pay.TransactionID, err)
	}
	if ch.TransferAttached {
		return nil, 0, "", fmt.Errorf("%w: charge %s already has transfer %s attached", domain.ErrFinancialSafety, ch.ID, ch.TransferID)
	}

	st, err := o.gw.RetrieveAccountStatus(ctx, accountRef)
	if err != nil {
		return nil, 0, "", fmt.Errorf("retrieve account %s: %w", accountRef, err)
	}
	if !st.ChargesEnabled || !st.PayoutsEnabled {
		return nil, 0, "", fmt.Errorf("%w: account %s charges=%t payouts=%t", domain.ErrAccountNotEligible, accountRef, st.ChargesEnabled, st.PayoutsEnabled)
	}
	return pay, amount, accountRef, nil
}

// amount is the provider compensation when the payment was refunded, the
// therapist share otherwise. Either must agree with the configured split.
func (o *Orchestrator) amount(ctx context.Context, pay *domain.Payment) (int64, error) {
	canonical := domain.TherapistShare(pay.Amount, o.policy.TherapistSharePercent)
	if diff := pay.TherapistShare - canonical; diff > Tolerance || diff < -Tolerance {
		return 0, fmt.Errorf("%w: stored share %d differs from %d%% of %d", domain.ErrFinancialSafety,
			pay.TherapistShare, o.policy.TherapistSharePercent, pay.Amount)
	}

	rf, err := o.store.RefundByPaymentID(ctx, pay.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return pay.TherapistShare, nil
	case err != nil:
		return 0, err
	case rf.ProviderCompensation <= 0:
		return 0, fmt.Errorf("%w: refund %s leaves no compensation", domain.ErrNothingToPay, rf.ID)
	case rf.ProviderCompensation > pay.TherapistShare+Tolerance:
		return 0, fmt.Errorf("%w: compensation %d exceeds share %d", domain.ErrFinancialSafety, rf.ProviderCompensation, pay.TherapistShare)
	}
	return rf.ProviderCompensation, nil
}

func (o *Orchestrator) reject(ctx context.Context, existing *domain.Payout, bookingID, paymentID string, err error) {
	attrs := []any{"operation", "gate", "booking_id", bookingID, "payment_id", paymentID, "error", err}
	switch {
	case errors.Is(err, domain.ErrFinancialSafety):
		o.log.Error("payout blocked", attrs...)
	case domain.Permanent(err):
		o.log.Warn("payout rejected", attrs...)
	default:
		o.log.Warn("payout check unavailable", attrs...)
		return
	}
	if existing == nil {
		return
	}
	trail := domain.AppendAudit(existing.AuditTrail, domain.AuditEntry{At: o.now(), Action: "gate_failed", Status: domain.PayoutFailed, Detail: err.Error()})
	if berr := o.store.BlockPayout(ctx, existing.ID, err.Error(), trail); berr != nil {
		o.log.Error("record payout block", "operation", "gate", "payout_id", existing.ID, "error", berr)
	}
}

func (o *Orchestrator) transfer(ctx context.Context, po *domain.Payout) (*domain.Payout, error) {
	trail := domain.AppendAudit(po.AuditTrail, domain.AuditEntry{At: o.now(), Action: "claimed", Status: domain.PayoutProcessing,
		Detail: fmt.Sprintf("attempt %d", po.RetryCount+1)})

	tr, err := o.gw.CreateTransfer(ctx, gateway.TransferRequest{
		Amount:         po.Amount,
		Currency:       po.Currency,
		Destination:    po.AccountRef,
		IdempotencyKey: po.IdempotencyKey,
		Metadata: map[string]string{
			"booking_id": po.BookingID,
			"payment_id": po.PaymentID,
			"payout_id":  po.ID,
		},
	})
	now := o.now()
	if err != nil {
		return o.fail(ctx, po, trail, now, err)
	}

	trail = domain.AppendAudit(trail, domain.AuditEntry{At: now, Action: "transfer_succeeded", Status: domain.PayoutCompleted, Detail: tr.ID})
	var marked bool
	err = o.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.CompletePayout(ctx, po.ID, tr.ID, trail)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrLeaseHeld
		}
		marked, err = tx.MarkPayoutCompleted(ctx, po.PaymentID, tr.ID)
		return err
	})
	if err != nil {
		// the transfer went through; a retry reuses the idempotency key and
		// gets the same transfer back
		o.log.Error("record payout", "operation", "complete", "payout_id", po.ID, "transfer_id", tr.ID, "error", err)
		return po, fmt.Errorf("record payout %s: %w", po.ID, err)
	}
	if !marked {
		o.log.Error("payment was already marked paid out", "operation", "complete",
			"payout_id", po.ID, "payment_id", po.PaymentID, "transfer_id", tr.ID,
			"error", domain.ErrFinancialSafety)
	}
	o.log.Info("payout completed", "operation", "transfer", "outcome", "completed",
		"payout_id", po.ID, "transfer_id", tr.ID, "amount", po.Amount)
	return o.store.PayoutByID(ctx, po.ID)
}

func (o *Orchestrator) fail(ctx context.Context, po *domain.Payout, trail domain.AuditTrail, now time.Time, cause error) (*domain.Payout, error) {
	f := repository.PayoutFailure{RetryCount: po.RetryCount + 1, LastError: cause.Error()}
	switch {
	case gateway.IsPermanent(cause):
		f.Permanent = true
	case f.RetryCount >= o.policy.PayoutMaxAttempts:
		next := now.Add(o.policy.PayoutRetryWindow)
		f.NextRetryAt = &next
	default:
		next := o.backoff.Next(now, f.RetryCount-1)
		f.NextRetryAt = &next
	}
	f.Trail = domain.AppendAudit(trail, domain.AuditEntry{At: now, Action: "transfer_failed", Status: domain.PayoutFailed, Detail: cause.Error()})
	if err := o.store.FailPayout(ctx, po.ID, f); err != nil {
		o.log.Error("record payout failure", "operation", "transfer", "payout_id", po.ID, "error", err)
	}
	o.log.Warn("payout transfer failed", "operation", "transfer", "outcome", "failed",
		"payout_id", po.ID, "retry_count", f.RetryCount, "permanent", f.Permanent, "error", cause)

	updated, err := o.store.PayoutByID(ctx, po.ID)
	if err != nil {
		updated = po
	}
	return updated, fmt.Errorf("transfer for payout %s: %w", po.ID, cause)
}

// Retry is the operator path: it clears a permanent block or a pending retry
// time and runs the payout now.
func (o *Orchestrator) Retry(ctx context.Context, payoutID string) (*domain.Payout, error) {
	po, err := o.store.PayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if po.Status == domain.PayoutFailed {
		trail := domain.AppendAudit(po.AuditTrail, domain.AuditEntry{At: o.now(), Action: "manual_retry", Status: domain.PayoutFailed})
		if _, err := o.store.ResetPayoutForRetry(ctx, payoutID, trail); err != nil {
			return nil, err
		}
	}
	return o.ProcessPayout(ctx, po.BookingID, po.PaymentID, po.AccountRef)
}

func (o *Orchestrator) Get(ctx context.Context, payoutID string) (*domain.Payout, error) {
	return o.store.PayoutByID(ctx, payoutID)
}
