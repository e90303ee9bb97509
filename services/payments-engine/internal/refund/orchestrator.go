package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/pkg/gateway"
	"github.com/you/therapy-booking/pkg/obs"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

type Request struct {
	BookingID string
	PaymentID string
	Initiator string
	Reason    string
}

type Orchestrator struct {
	store  *repository.Store
	gw     gateway.Gateway
	policy config.Policy
	log    *slog.Logger
	now    func() time.Time
}

func NewOrchestrator(store *repository.Store, gw gateway.Gateway, policy config.Policy, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		gw:     gw,
		policy: policy,
		log:    log.With("module", "refund"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// CalculatePreview prices a cancellation without recording anything.
func (o *Orchestrator) CalculatePreview(ctx context.Context, bookingID, paymentID, initiator string) (Calculation, error) {
	_, _, in, err := o.load(ctx, bookingID, paymentID, initiator)
	if err != nil {
		return Calculation{}, err
	}
	return Calculate(in), nil
}

// Process cancels the booking and records its refund. A payment is refunded
// at most once; asking again returns the stored refund.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*domain.Refund, error) {
	if req.PaymentID != "" {
		if r, err := o.store.RefundByPaymentID(ctx, req.PaymentID); err == nil {
			return r, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	b, pay, in, err := o.load(ctx, req.BookingID, req.PaymentID, req.Initiator)
	if err != nil {
		if errors.Is(err, errAlreadyCancelled) {
			if r, rerr := o.store.RefundByPaymentID(ctx, pay.ID); rerr == nil {
				return r, nil
			}
		}
		return nil, err
	}
	c := Calculate(in)

	r := &domain.Refund{
		PaymentID:            pay.ID,
		BookingID:            b.ID,
		OriginalAmount:       pay.Amount,
		RefundAmount:         c.RefundAmount,
		ProviderCompensation: c.ProviderCompensation,
		FeeRetained:          c.FeeRetained,
		Currency:             pay.Currency,
		RefundPercentage:     c.Percentage,
		HoursBeforeSession:   c.HoursBeforeSession,
		ReasonCode:           c.ReasonCode,
		Initiator:            req.Initiator,
		Reason:               req.Reason,
		Status:               domain.RefundPending,
	}
	if r.RefundAmount == 0 {
		r.Status = domain.RefundProcessed
	}

	err = o.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.CreateRefund(ctx, r); err != nil {
			return err
		}
		ok, err := tx.TransitionBooking(ctx, b.ID, domain.BookingConfirmed, domain.BookingCancelled,
			map[string]any{"payment_status": bookingPaymentStatus(c.Percentage)})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: booking %s is no longer confirmed", domain.ErrValidation, b.ID)
		}
		items, err := o.followUps(b, pay, r)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, items...)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return o.store.RefundByPaymentID(ctx, pay.ID)
	}
	if err != nil {
		return nil, err
	}

	obs.RefundsTotal.WithLabelValues(strconv.Itoa(r.RefundPercentage)).Inc()
	o.log.Info("refund recorded", "operation", "process", "outcome", r.ReasonCode,
		"refund_id", r.ID, "booking_id", b.ID, "refund_amount", r.RefundAmount,
		"provider_compensation", r.ProviderCompensation)
	return r, nil
}

var errAlreadyCancelled = fmt.Errorf("%w: booking already cancelled", domain.ErrValidation)

func (o *Orchestrator) load(ctx context.Context, bookingID, paymentID, initiator string) (*domain.Booking, *domain.Payment, Input, error) {
	b, err := o.store.BookingByID(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, Input{}, fmt.Errorf("%w: booking %s not found", domain.ErrValidation, bookingID)
	}
	if err != nil {
		return nil, nil, Input{}, err
	}
	if paymentID == "" {
		paymentID = b.PaymentID
	}
	pay, err := o.store.PaymentByID(ctx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, Input{}, fmt.Errorf("%w: payment %s not found", domain.ErrValidation, paymentID)
	}
	if err != nil {
		return nil, nil, Input{}, err
	}
	if pay.BookingID != b.ID {
		return nil, nil, Input{}, fmt.Errorf("%w: payment %s is not for booking %s", domain.ErrValidation, pay.ID, b.ID)
	}

	switch {
	case b.Status == domain.BookingCompleted:
		return b, pay, Input{}, fmt.Errorf("%w: completed sessions cannot be refunded", domain.ErrValidation)
	case b.Status == domain.BookingCancelled:
		return b, pay, Input{}, errAlreadyCancelled
	case pay.Status != domain.PaymentSucceeded:
		return b, pay, Input{}, fmt.Errorf("%w: payment %s did not succeed", domain.ErrValidation, pay.ID)
	}
	if pay.PayoutCompleted || pay.PayoutTransferID != "" {
		o.log.Error("refund blocked", "operation", "load", "outcome", "financial_safety",
			"booking_id", b.ID, "payment_id", pay.ID, "transfer_id", pay.PayoutTransferID)
		return b, pay, Input{}, fmt.Errorf("%w: payment %s was already paid out to the therapist", domain.ErrFinancialSafety, pay.ID)
	}
	po, err := o.store.PayoutByPaymentID(ctx, pay.ID)
	switch {
	case err == nil && po.Status == domain.PayoutProcessing:
		return b, pay, Input{}, fmt.Errorf("%w: payout %s for payment %s is in flight", domain.ErrFinancialSafety, po.ID, pay.ID)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return b, pay, Input{}, err
	}

	in := Input{
		OriginalAmount:   pay.Amount,
		ProviderEarnings: pay.TherapistShare,
		GatewayFee:       pay.GatewayFee,
		CancelledAt:      o.now(),
		SessionAt:        b.ScheduledAt,
		Initiator:        initiator,
	}
	if err := in.Validate(); err != nil {
		return b, pay, Input{}, err
	}
	return b, pay, in, nil
}

func bookingPaymentStatus(pct int) string {
	switch pct {
	case 100:
		return domain.PayStatusRefunded
	case 50:
		return domain.PayStatusPartiallyRefunded
	}
	return domain.PayStatusNotRefunded
}

func (o *Orchestrator) followUps(b *domain.Booking, pay *domain.Payment, r *domain.Refund) ([]domain.OutboxItem, error) {
	retries := o.policy.OutboxMaxRetries
	var items []domain.OutboxItem
	if r.RefundAmount > 0 {
		it, err := domain.NewOutboxItem(domain.OpIssueRefund, b.ID, domain.RefundPayload{RefundID: r.ID}, retries)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if r.ProviderCompensation > 0 {
		it, err := domain.NewOutboxItem(domain.OpProcessPayout, b.ID,
			domain.PayoutPayload{BookingID: b.ID, PaymentID: pay.ID, AccountRef: pay.TherapistAccountRef}, retries)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	data := map[string]string{
		"booking_id":    b.ID,
		"refund_amount": strconv.FormatInt(r.RefundAmount, 10),
		"currency":      r.Currency,
		"policy":        r.ReasonCode,
	}
	for _, to := range []string{b.ClientID, b.TherapistID} {
		it, err := domain.NewOutboxItem(domain.OpSendNotification, b.ID,
			domain.NotificationPayload{To: to, Template: domain.TplBookingCancelled, Data: data}, retries)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// Issue sends a recorded refund to the gateway. The idempotency key is per
// payment, so a retry after a lost response cannot refund twice.
func (o *Orchestrator) Issue(ctx context.Context, refundID string) (*domain.Refund, error) {
	r, err := o.store.RefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status == domain.RefundProcessed {
		return r, nil
	}
	pay, err := o.store.PaymentByID(ctx, r.PaymentID)
	if err != nil {
		return nil, err
	}
	gr, err := o.gw.CreateRefund(ctx, gateway.RefundRequest{
		ChargeID:       pay.TransactionID,
		Amount:         r.RefundAmount,
		IdempotencyKey: "refund_" + pay.ID,
	})
	if err != nil {
		o.log.Warn("gateway refund failed", "operation", "issue", "refund_id", r.ID, "error", err)
		return r, fmt.Errorf("issue refund %s: %w", r.ID, err)
	}
	if _, err := o.store.MarkRefundProcessed(ctx, r.ID, gr.ID); err != nil {
		return r, err
	}
	o.log.Info("refund issued", "operation", "issue", "outcome", "processed", "refund_id", r.ID, "gateway_refund_id", gr.ID)
	return o.store.RefundByID(ctx, r.ID)
}
