// Package processor turns gateway notifications into bookings, payments and
// outbox work, exactly once per event id.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/pkg/obs"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

const resultIgnored = "ignored"

// Result is always returned; a delivery never panics the caller.
type Result struct {
	EventID   string   `json:"event_id"`
	Accepted  bool     `json:"accepted"`
	ResultRef string   `json:"result_ref,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ResultCache remembers result refs of completed events so repeat deliveries
// can skip the database.
type ResultCache interface {
	Get(ctx context.Context, eventID string) (string, bool)
	Put(ctx context.Context, eventID, ref string)
}

type Processor struct {
	store  *repository.Store
	policy config.Policy
	cache  ResultCache
	log    *slog.Logger
	now    func() time.Time
}

type Option func(*Processor)

func WithCache(c ResultCache) Option { return func(p *Processor) { p.cache = c } }

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

func New(store *repository.Store, policy config.Policy, log *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:  store,
		policy: policy,
		log:    log.With("module", "processor"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Processor) Handle(ctx context.Context, n events.Notification) Result {
	start := time.Now()
	defer func() { obs.EventProcessingDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := obs.Tracer().Start(ctx, "processor.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", n.EventID), attribute.String("event.type", n.Type))

	res := p.handle(ctx, n)
	outcome := "accepted"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case !res.Accepted && res.Retryable:
		outcome = "retryable"
		span.SetStatus(codes.Error, "retryable")
	case !res.Accepted:
		outcome = "rejected"
		span.SetStatus(codes.Error, "rejected")
	}
	obs.EventsTotal.WithLabelValues(n.Type, outcome).Inc()
	p.log.Info("event handled", "operation", "handle", "event_id", n.EventID, "type", n.Type,
		"outcome", outcome, "result_ref", res.ResultRef)
	return res
}

func (p *Processor) handle(ctx context.Context, n events.Notification) Result {
	res := Result{EventID: n.EventID}
	if n.EventID == "" {
		res.Errors = []string{"event_id is required"}
		return res
	}
	if p.cache != nil {
		if ref, ok := p.cache.Get(ctx, n.EventID); ok {
			res.Accepted, res.Duplicate, res.ResultRef = true, true, ref
			return res
		}
	}

	ev := &domain.IncomingEvent{ID: n.EventID, Type: n.Type, Payload: datatypes.JSON(n.Payload)}
	decision, cur, err := p.store.BeginEvent(ctx, ev, p.now(), p.policy.LedgerStaleAfter)
	if err != nil {
		p.log.Error("ledger unavailable", "operation", "begin_event", "event_id", n.EventID, "error", err)
		res.Retryable = true
		res.Errors = []string{err.Error()}
		return res
	}
	switch decision {
	case repository.LedgerCompleted:
		res.Accepted, res.Duplicate, res.ResultRef = true, true, cur.ResultRef
		p.remember(ctx, n.EventID, cur.ResultRef)
		return res
	case repository.LedgerInFlight:
		res.Accepted, res.Duplicate = true, true
		return res
	case repository.LedgerRejected:
		res.Errors = []string{cur.LastError}
		return res
	}

	ref, err := p.apply(ctx, n)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			// a stale-takeover beat us to the ledger row
			res.Accepted, res.Duplicate = true, true
			return res
		}
		permanent := domain.Permanent(err)
		if ferr := p.store.FailEvent(context.WithoutCancel(ctx), n.EventID, err.Error(), permanent); ferr != nil {
			p.log.Error("mark event failed", "operation", "fail_event", "event_id", n.EventID, "error", ferr)
		}
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrConflict) {
			level = slog.LevelError
		}
		p.log.Log(ctx, level, "event failed", "operation", "apply", "event_id", n.EventID,
			"permanent", permanent, "error", err)
		res.Retryable = !permanent
		res.Errors = []string{err.Error()}
		return res
	}
	res.Accepted, res.ResultRef = true, ref
	p.remember(ctx, n.EventID, ref)
	return res
}

func (p *Processor) remember(ctx context.Context, eventID, ref string) {
	if p.cache != nil {
		p.cache.Put(ctx, eventID, ref)
	}
}

func (p *Processor) apply(ctx context.Context, n events.Notification) (string, error) {
	if !events.KnownType(n.Type) {
		return "", fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, n.Type)
	}
	f, err := Normalize(n.Payload)
	if err != nil {
		return "", err
	}
	action, err := Classify(n.Type, f)
	if err != nil {
		return "", err
	}
	switch a := action.(type) {
	case NewBooking:
		return p.createBooking(ctx, n.EventID, a.Fields)
	case UpdateExisting:
		return p.updateBooking(ctx, n.EventID, n.Type, a)
	case Ignore:
		p.log.Info("nothing to do", "operation", "apply", "event_id", n.EventID, "reason", a.Reason)
		err := p.store.Transaction(ctx, func(tx *repository.Store) error {
			return tx.CompleteEvent(ctx, n.EventID, resultIgnored)
		})
		return resultIgnored, err
	}
	return "", fmt.Errorf("%w: unhandled action %T", domain.ErrValidation, action)
}

func (p *Processor) newPayment(bookingID, status string, f ChargeFields) *domain.Payment {
	share := domain.TherapistShare(f.Amount, p.policy.TherapistSharePercent)
	return &domain.Payment{
		BookingID:           bookingID,
		Amount:              f.Amount,
		Currency:            f.Currency,
		TransactionID:       f.ChargeID,
		Status:              status,
		GatewayFee:          f.Fee,
		TherapistShare:      share,
		PlatformShare:       f.Amount - share,
		TherapistAccountRef: f.TherapistAccount,
	}
}

func (p *Processor) createBooking(ctx context.Context, eventID string, f ChargeFields) (string, error) {
	var ref string
	err := p.store.Transaction(ctx, func(tx *repository.Store) error {
		b := &domain.Booking{
			ClientID:        f.ClientID,
			TherapistID:     f.TherapistID,
			ScheduledAt:     f.ScheduledAt,
			DurationMinutes: f.DurationMinutes,
			EndsAt:          f.ScheduledAt.Add(time.Duration(f.DurationMinutes) * time.Minute),
			Status:          domain.BookingConfirmed,
			PaymentStatus:   domain.PayStatusPaid,
		}
		if err := tx.CreateBookingWithNoOverlap(ctx, b); err != nil {
			return err
		}
		pay := p.newPayment(b.ID, domain.PaymentSucceeded, f)
		if err := tx.CreatePayment(ctx, pay); err != nil {
			return err
		}
		if err := tx.SetBookingPayment(ctx, b.ID, pay.ID, domain.PayStatusPaid); err != nil {
			return err
		}
		items, err := p.confirmationWork(b)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, items...); err != nil {
			return err
		}
		ref = b.ID
		return tx.CompleteEvent(ctx, eventID, ref)
	})
	if errors.Is(err, domain.ErrOverlap) || errors.Is(err, repository.ErrDuplicate) {
		return p.resolveConflict(ctx, eventID, f)
	}
	return ref, err
}

// resolveConflict handles a slot or charge that is already taken. The same
// charge means this event was already applied under another id; anything else
// is a genuine clash.
func (p *Processor) resolveConflict(ctx context.Context, eventID string, f ChargeFields) (string, error) {
	bookingID := ""
	if pay, err := p.store.PaymentByTransactionID(ctx, f.ChargeID); err == nil {
		bookingID = pay.BookingID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if bookingID == "" {
		existing, err := p.store.FindExactBooking(ctx, f.ClientID, f.TherapistID, f.ScheduledAt, f.DurationMinutes)
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: therapist %s already booked at %s", domain.ErrConflict, f.TherapistID, f.ScheduledAt.Format(time.RFC3339))
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: booking %s holds this slot under another payment", domain.ErrConflict, existing.ID)
	}
	err := p.store.Transaction(ctx, func(tx *repository.Store) error {
		return tx.CompleteEvent(ctx, eventID, bookingID)
	})
	return bookingID, err
}

func (p *Processor) confirmationWork(b *domain.Booking) ([]domain.OutboxItem, error) {
	data := map[string]string{
		"booking_id":   b.ID,
		"scheduled_at": b.ScheduledAt.Format(time.RFC3339),
		"duration":     fmt.Sprint(b.DurationMinutes),
	}
	retries := p.policy.OutboxMaxRetries
	cal, err := domain.NewOutboxItem(domain.OpCreateCalendarEvent, b.ID, domain.CalendarEventPayload{BookingID: b.ID}, retries)
	if err != nil {
		return nil, err
	}
	toClient, err := domain.NewOutboxItem(domain.OpSendNotification, b.ID,
		domain.NotificationPayload{To: b.ClientID, Template: domain.TplBookingConfirmed, Data: data}, retries)
	if err != nil {
		return nil, err
	}
	toTherapist, err := domain.NewOutboxItem(domain.OpSendNotification, b.ID,
		domain.NotificationPayload{To: b.TherapistID, Template: domain.TplBookingConfirmed, Data: data}, retries)
	if err != nil {
		return nil, err
	}
	return []domain.OutboxItem{cal, toClient, toTherapist}, nil
}

func (p *Processor) updateBooking(ctx context.Context, eventID, eventType string, a UpdateExisting) (string, error) {
	f := a.Fields
	status, bookingPayStatus := domain.PaymentSucceeded, domain.PayStatusPaid
	if eventType == events.TypePaymentFailed {
		status, bookingPayStatus = domain.PaymentFailed, domain.PayStatusFailed
	}
	err := p.store.Transaction(ctx, func(tx *repository.Store) error {
		b, err := tx.BookingByID(ctx, a.Ref)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: booking %s does not exist", domain.ErrValidation, a.Ref)
		}
		if err != nil {
			return err
		}

		pay, err := tx.PaymentByTransactionID(ctx, f.ChargeID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			pay = p.newPayment(b.ID, status, f)
			if err := tx.CreatePayment(ctx, pay); err != nil {
				return err
			}
		case err != nil:
			return err
		case pay.BookingID != b.ID:
			return fmt.Errorf("%w: charge %s belongs to booking %s", domain.ErrConflict, f.ChargeID, pay.BookingID)
		case pay.Status == status:
			p.log.Info("charge already recorded", "operation", "update_booking", "outcome", "noop",
				"event_id", eventID, "payment_id", pay.ID, "status", status)
			return tx.CompleteEvent(ctx, eventID, b.ID)
		case pay.Status == domain.PaymentSucceeded:
			// a settled charge never goes back to failed
			p.log.Warn("late failure for a succeeded charge", "operation", "update_booking", "outcome", "noop",
				"event_id", eventID, "payment_id", pay.ID, "payout_completed", pay.PayoutCompleted)
			return tx.CompleteEvent(ctx, eventID, b.ID)
		default:
			if err := tx.UpdatePaymentStatus(ctx, pay.ID, status); err != nil {
				return err
			}
		}

		if b.Status == domain.BookingCancelled || (status == domain.PaymentFailed && b.PaymentStatus == domain.PayStatusPaid) {
			p.log.Warn("booking payment state left unchanged", "operation", "update_booking", "outcome", "noop",
				"event_id", eventID, "booking_id", b.ID, "booking_status", b.Status, "payment_status", b.PaymentStatus, "charge_status", status)
			return tx.CompleteEvent(ctx, eventID, b.ID)
		}
		if err := tx.SetBookingPayment(ctx, b.ID, pay.ID, bookingPayStatus); err != nil {
			return err
		}

		var item domain.OutboxItem
		if status == domain.PaymentSucceeded {
			account := pay.TherapistAccountRef
			if account == "" {
				account = f.TherapistAccount
			}
			item, err = domain.NewOutboxItem(domain.OpProcessPayout, b.ID,
				domain.PayoutPayload{BookingID: b.ID, PaymentID: pay.ID, AccountRef: account}, p.policy.OutboxMaxRetries)
		} else {
			item, err = domain.NewOutboxItem(domain.OpSendNotification, b.ID,
				domain.NotificationPayload{To: b.ClientID, Template: domain.TplPaymentFailed, Data: map[string]string{"booking_id": b.ID}},
				p.policy.OutboxMaxRetries)
		}
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, item); err != nil {
			return err
		}
		return tx.CompleteEvent(ctx, eventID, b.ID)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return "", fmt.Errorf("%w: charge %s recorded concurrently", domain.ErrConflict, f.ChargeID)
	}
	return a.Ref, err
}
