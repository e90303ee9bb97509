package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
)

const stale = 5 * time.Minute

func begin(t *testing.T, s *repository.Store, id string, now time.Time) (repository.LedgerDecision, *domain.IncomingEvent) {
	t.Helper()
	d, ev, err := s.BeginEvent(context.Background(), &domain.IncomingEvent{ID: id, Type: "payment.succeeded", Payload: datatypes.JSON(`{}`)}, now, stale)
	require.NoError(t, err)
	return d, ev
}

func TestBeginEvent_FirstDeliveryProceeds(t *testing.T) {
	s := testutil.NewStore(t)

	d, ev := begin(t, s, "evt_1", testutil.Now)
	assert.Equal(t, repository.LedgerProceed, d)
	assert.Equal(t, domain.EventProcessing, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
}

func TestBeginEvent_InFlightIsNotReentered(t *testing.T) {
	s := testutil.NewStore(t)
	begin(t, s, "evt_1", testutil.Now)

	d, _ := begin(t, s, "evt_1", testutil.Now.Add(time.Second))
	assert.Equal(t, repository.LedgerInFlight, d)
}

func TestBeginEvent_CompletedShortCircuits(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	begin(t, s, "evt_1", testutil.Now)
	require.NoError(t, s.CompleteEvent(ctx, "evt_1", "booking-1"))

	d, ev := begin(t, s, "evt_1", testutil.Now.Add(time.Hour))
	assert.Equal(t, repository.LedgerCompleted, d)
	assert.Equal(t, "booking-1", ev.ResultRef)
	assert.Equal(t, 1, ev.Attempts)
}

func TestBeginEvent_FailedIsRetakenOnce(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	begin(t, s, "evt_1", testutil.Now)
	require.NoError(t, s.FailEvent(ctx, "evt_1", "db down", false))

	d, ev := begin(t, s, "evt_1", testutil.Now.Add(time.Second))
	assert.Equal(t, repository.LedgerProceed, d)
	assert.Equal(t, 2, ev.Attempts)

	// the retake moved it back to processing; a second delivery waits
	d, _ = begin(t, s, "evt_1", testutil.Now.Add(2*time.Second))
	assert.Equal(t, repository.LedgerInFlight, d)
}

func TestBeginEvent_PermanentFailureIsRejected(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	begin(t, s, "evt_1", testutil.Now)
	require.NoError(t, s.FailEvent(ctx, "evt_1", "missing therapist id", true))

	d, ev := begin(t, s, "evt_1", testutil.Now.Add(time.Second))
	assert.Equal(t, repository.LedgerRejected, d)
	assert.Equal(t, "missing therapist id", ev.LastError)
}

func TestBeginEvent_StaleProcessingIsTakenOver(t *testing.T) {
	s := testutil.NewStore(t)
	begin(t, s, "evt_1", testutil.Now)

	d, ev := begin(t, s, "evt_1", testutil.Now.Add(stale+time.Second))
	assert.Equal(t, repository.LedgerProceed, d)
	assert.Equal(t, 2, ev.Attempts)
}

func TestCompleteEvent_RequiresProcessing(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	begin(t, s, "evt_1", testutil.Now)
	require.NoError(t, s.CompleteEvent(ctx, "evt_1", "ref"))

	assert.ErrorIs(t, s.CompleteEvent(ctx, "evt_1", "ref"), domain.ErrLeaseHeld)
}
