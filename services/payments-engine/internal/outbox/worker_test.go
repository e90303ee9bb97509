package outbox_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/services/payments-engine/internal/calendar"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/outbox"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
)

type fakeCalendar struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeCalendar) CreateRoom(_ context.Context, room calendar.Room) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "https://meet.example/" + room.BookingID, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []events.SendNotification
}

func (n *fakeNotifier) Send(_ context.Context, msg events.SendNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) templates() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[string]int{}
	for _, m := range n.sent {
		out[m.Template]++
	}
	return out
}

type stubPayouts struct {
	po  *domain.Payout
	err error
}

func (s stubPayouts) ProcessPayout(context.Context, string, string, string) (*domain.Payout, error) {
	return s.po, s.err
}

type fixture struct {
	store    *repository.Store
	cal      *fakeCalendar
	notifier *fakeNotifier
	handlers *outbox.Handlers
	now      func() time.Time
	advance  func(time.Duration)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	now, advance := testutil.Clock()
	f := &fixture{store: store, cal: &fakeCalendar{}, notifier: &fakeNotifier{}, now: now, advance: advance}
	f.handlers = &outbox.Handlers{
		Store:      store,
		Calendar:   f.cal,
		Notifier:   f.notifier,
		Payouts:    stubPayouts{},
		MaxRetries: 5,
		Log:        testutil.Logger(),
	}
	return f
}

func (f *fixture) worker(id string, handlers map[string]outbox.HandlerFunc) *outbox.Worker {
	if handlers == nil {
		handlers = f.handlers.Map()
	}
	return outbox.NewWorker(id, f.store, handlers, testutil.Policy(), testutil.Logger()).WithClock(f.now)
}

func (f *fixture) booking(t *testing.T, status string) *domain.Booking {
	t.Helper()
	at := testutil.Now.Add(72 * time.Hour)
	b := &domain.Booking{
		ClientID:        "c1",
		TherapistID:     "t1",
		ScheduledAt:     at,
		DurationMinutes: 50,
		EndsAt:          at.Add(50 * time.Minute),
		Status:          status,
		PaymentStatus:   domain.PayStatusPaid,
	}
	require.NoError(t, f.store.Transaction(context.Background(), func(tx *repository.Store) error {
		return tx.CreateBookingWithNoOverlap(context.Background(), b)
	}))
	return b
}

func (f *fixture) enqueue(t *testing.T, typ, aggregate string, payload any, maxRetries int) domain.OutboxItem {
	t.Helper()
	it, err := domain.NewOutboxItem(typ, aggregate, payload, maxRetries)
	require.NoError(t, err)
	require.NoError(t, f.store.EnqueueOutbox(context.Background(), it))
	return it
}

func TestWorker_CalendarEventSetsLinkAndQueuesNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, domain.BookingConfirmed)
	f.enqueue(t, domain.OpCreateCalendarEvent, b.ID, domain.CalendarEventPayload{BookingID: b.ID}, 5)

	w := f.worker("w1", nil)
	st, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Stats{Claimed: 1, Completed: 1}, st)

	got, err := f.store.BookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example/"+b.ID, got.MeetingURL)

	st, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, map[string]int{domain.TplSessionLink: 2}, f.notifier.templates())

	// redelivering the calendar op is a no-op once the link exists
	f.enqueue(t, domain.OpCreateCalendarEvent, b.ID, domain.CalendarEventPayload{BookingID: b.ID}, 5)
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cal.calls)
}

func TestWorker_CancelledBookingSkipsCalendar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, domain.BookingCancelled)
	it := f.enqueue(t, domain.OpCreateCalendarEvent, b.ID, domain.CalendarEventPayload{BookingID: b.ID}, 5)

	_, err := f.worker("w1", nil).ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.cal.calls)

	got, err := f.store.OutboxByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxCompleted, got.Status)
}

func TestWorker_TransientFailureBacksOffThenFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, domain.BookingConfirmed)
	f.cal.err = errors.New("calendar unavailable")
	it := f.enqueue(t, domain.OpCreateCalendarEvent, b.ID, domain.CalendarEventPayload{BookingID: b.ID}, 3)
	w := f.worker("w1", nil)

	st, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Retried)

	got, err := f.store.OutboxByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(testutil.Now.Add(time.Second)))
	assert.Equal(t, "calendar unavailable", got.LastError)

	// not due yet
	st, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Claimed)

	f.advance(time.Second)
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	got, err = f.store.OutboxByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.True(t, got.NextRetryAt.Equal(testutil.Now.Add(3*time.Second)))

	f.advance(2 * time.Second)
	st, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	got, err = f.store.OutboxByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxFailed, got.Status)
	assert.Equal(t, 3, f.cal.calls)
}

func TestWorker_UnknownTypeFailsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	it := f.enqueue(t, "reticulate_splines", "agg", map[string]string{}, 5)

	st, err := f.worker("w1", nil).ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)

	got, err := f.store.OutboxByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxFailed, got.Status)
	assert.Contains(t, got.LastError, "no handler")
}

func TestWorker_ConcurrentWorkersExecuteEachItemOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 40; i++ {
		f.enqueue(t, domain.OpSendNotification, fmt.Sprintf("b-%d", i), domain.NotificationPayload{To: "c1", Template: domain.TplBookingConfirmed}, 5)
	}

	var (
		mu   sync.Mutex
		runs = map[string]int{}
	)
	count := map[string]outbox.HandlerFunc{
		domain.OpSendNotification: func(_ context.Context, it domain.OutboxItem) error {
			mu.Lock()
			runs[it.ID]++
			mu.Unlock()
			return nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(w *outbox.Worker) {
			defer wg.Done()
			for {
				st, err := w.ProcessOnce(ctx)
				if !assert.NoError(t, err) || st.Claimed == 0 {
					return
				}
			}
		}(f.worker(fmt.Sprintf("w-%d", i), count))
	}
	wg.Wait()

	require.Len(t, runs, 40)
	for id, n := range runs {
		assert.Equal(t, 1, n, "item %s", id)
	}
}

func TestWorker_ResumesItemAbandonedByCrashedWorker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	it := f.enqueue(t, domain.OpSendNotification, "b1", domain.NotificationPayload{To: "c1", Template: domain.TplBookingConfirmed}, 5)

	// a worker claims the item and dies without reporting back
	claimed, err := f.store.ClaimOutboxBatch(ctx, "crashed", 10, time.Minute, testutil.Now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	w := f.worker("w2", nil)
	st, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Claimed, "lock still held")

	f.advance(time.Minute + time.Second)
	st, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Completed)

	got, err := f.store.OutboxByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxCompleted, got.Status)
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, it.ID, f.notifier.sent[0].ID)
}

func TestHandlers_ProcessPayoutLeavesRetriesToScheduler(t *testing.T) {
	ctx := context.Background()
	payload := domain.PayoutPayload{BookingID: "b1", PaymentID: "p1"}

	cases := []struct {
		name   string
		stub   stubPayouts
		status string
	}{
		{"completed", stubPayouts{po: &domain.Payout{ID: "po"}}, domain.OutboxCompleted},
		{"row exists after transient failure", stubPayouts{po: &domain.Payout{ID: "po"}, err: errors.New("gateway down")}, domain.OutboxCompleted},
		{"rejected by gate", stubPayouts{err: domain.ErrAccountNotEligible}, domain.OutboxCompleted},
		{"failed before row written", stubPayouts{err: errors.New("db gone")}, domain.OutboxPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.handlers.Payouts = tc.stub
			it := f.enqueue(t, domain.OpProcessPayout, "b1", payload, 5)

			_, err := f.worker("w1", nil).ProcessOnce(ctx)
			require.NoError(t, err)

			got, err := f.store.OutboxByID(ctx, it.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
		})
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker("w1", nil).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
